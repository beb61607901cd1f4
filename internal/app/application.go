// Package app wires configuration, storage, services and the HTTP surface
// into a runnable application.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	_ "github.com/lib/pq"

	"github.com/codeway/config-service/internal/app/httpapi"
	configsvc "github.com/codeway/config-service/internal/app/services/config"
	"github.com/codeway/config-service/internal/app/storage"
	"github.com/codeway/config-service/internal/app/storage/postgres"
	"github.com/codeway/config-service/internal/config"
	"github.com/codeway/config-service/internal/logging"
	"github.com/codeway/config-service/internal/middleware"
)

// Application owns the HTTP server lifecycle and its dependencies.
type Application struct {
	cfg    *config.Config
	log    *logging.Logger
	server *http.Server
	audit  *httpapi.AuditLog
	db     *sql.DB

	stopCleanup chan struct{}
}

// New builds a fully wired application from the loaded configuration.
func New() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds the application from an explicit configuration.
func NewWithConfig(cfg *config.Config) (*Application, error) {
	log := logging.New("config-service", cfg.Logging.Level, cfg.Logging.Format)

	store, db, err := buildStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure store: %w", err)
	}

	svc := configsvc.New(store, log,
		configsvc.WithCacheTTL(cfg.Cache.TTLDuration(configsvc.DefaultCacheTTL)))

	audit, err := httpapi.NewAuditLog(cfg.Audit.MaxEntries, cfg.Audit.FilePath, log)
	if err != nil {
		return nil, fmt.Errorf("configure audit log: %w", err)
	}

	publicKey, err := loadPublicKey(cfg.Auth.JWTPublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("load jwt public key: %w", err)
	}

	adminRL := middleware.AdminRateLimiter(log)
	mobileRL := middleware.MobileRateLimiter(log)
	authRL := middleware.AuthRateLimiter(log)
	stopCleanup := make(chan struct{})
	for _, rl := range []*middleware.RateLimiter{adminRL, mobileRL, authRL} {
		rl.StartCleanup(5*time.Minute, stopCleanup)
	}

	router := httpapi.NewRouter(httpapi.Options{
		Config:     svc,
		Logger:     log,
		Audit:      audit,
		AdminAuth:  middleware.NewAuthMiddleware(publicKey, log, nil),
		APIToken:   middleware.NewAPITokenMiddleware(cfg.Auth.APIToken, log),
		AdminRate:  adminRL,
		MobileRate: mobileRL,
		AuthRate:   authRL,
	})

	cors := middleware.NewCORSMiddleware(cfg.Server.CORSOrigins)
	tracing := middleware.NewTracingMiddleware(log)
	handler := cors.Handler(tracing.Handler(router))

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Application{
		cfg:         cfg,
		log:         log,
		server:      server,
		audit:       audit,
		db:          db,
		stopCleanup: stopCleanup,
	}, nil
}

// Run starts the HTTP server and blocks until the context is cancelled or the
// server fails.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.log.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains in-flight requests and releases resources.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	close(a.stopCleanup)

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := a.audit.Close(); err != nil {
		a.log.WithError(err).Warn("error closing audit log")
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}

	return nil
}

func buildStore(cfg *config.Config) (storage.DocumentStore, *sql.DB, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return storage.NewMemory(), nil, nil
	case "postgres":
		db, err := openDatabase(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		store := postgres.New(db)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store, db, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func openDatabase(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn not configured")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// loadPublicKey reads the PEM-encoded RSA public key that admin tokens are
// verified against. The key file is mandatory so the admin surface can never
// start unauthenticated.
func loadPublicKey(path string) (interface{}, error) {
	if path == "" {
		return nil, fmt.Errorf("jwt public key file not configured")
	}
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return key, nil
}
