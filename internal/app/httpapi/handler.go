// Package httpapi exposes the configuration REST API: the country-aware
// mobile view, the admin document endpoints with conflict detection, token
// verification and operational endpoints.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	cfg "github.com/codeway/config-service/internal/app/domain/config"
	"github.com/codeway/config-service/internal/app/metrics"
	configsvc "github.com/codeway/config-service/internal/app/services/config"
	"github.com/codeway/config-service/internal/errors"
	"github.com/codeway/config-service/internal/httputil"
	"github.com/codeway/config-service/internal/logging"
	"github.com/codeway/config-service/internal/middleware"
)

// Options bundles the dependencies of the router.
type Options struct {
	Config *configsvc.Service
	Logger *logging.Logger
	Audit  *AuditLog

	AdminAuth  *middleware.AuthMiddleware
	APIToken   *middleware.APITokenMiddleware
	AdminRate  *middleware.RateLimiter
	MobileRate *middleware.RateLimiter
	AuthRate   *middleware.RateLimiter
}

type handler struct {
	config *configsvc.Service
	log    *logging.Logger
	audit  *AuditLog
}

// NewRouter builds the service router with per-route middleware chains.
func NewRouter(opts Options) *mux.Router {
	log := opts.Logger
	if log == nil {
		log = logging.NewDefault("httpapi")
	}
	h := &handler{config: opts.Config, log: log, audit: opts.Audit}

	r := mux.NewRouter()
	r.Use(middleware.MetricsMiddleware())

	mobile := r.PathPrefix("/api/config/mobile").Subrouter()
	if opts.APIToken != nil {
		mobile.Use(opts.APIToken.Handler)
	}
	if opts.MobileRate != nil {
		mobile.Use(opts.MobileRate.Handler)
	}
	mobile.HandleFunc("", h.mobileConfig).Methods(http.MethodGet)

	admin := r.PathPrefix("/api/config/admin").Subrouter()
	if opts.AdminAuth != nil {
		admin.Use(opts.AdminAuth.Handler)
	}
	if opts.AdminRate != nil {
		admin.Use(opts.AdminRate.Handler)
	}
	admin.HandleFunc("", h.adminGetConfig).Methods(http.MethodGet)
	admin.HandleFunc("", h.adminUpdateConfig).Methods(http.MethodPut)

	audit := r.PathPrefix("/api/config/audit").Subrouter()
	if opts.AdminAuth != nil {
		audit.Use(opts.AdminAuth.Handler)
	}
	if opts.AdminRate != nil {
		audit.Use(opts.AdminRate.Handler)
	}
	audit.HandleFunc("", h.auditEntries).Methods(http.MethodGet)

	auth := r.PathPrefix("/api/auth").Subrouter()
	if opts.AdminAuth != nil {
		auth.Use(opts.AdminAuth.Handler)
	}
	if opts.AuthRate != nil {
		auth.Use(opts.AuthRate.Handler)
	}
	auth.HandleFunc("/verify", h.verifyToken).Methods(http.MethodPost)

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(h.notFound)

	return r
}

func (h *handler) mobileConfig(w http.ResponseWriter, r *http.Request) {
	country := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("country")))
	if country != "" && len(country) != 2 {
		httputil.WriteError(w, errors.Validation("Country code must be 2 characters"))
		return
	}

	doc, err := h.config.Get(r.Context())
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Error("fetch configuration")
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, configsvc.MobileView(doc, country))
}

func (h *handler) adminGetConfig(w http.ResponseWriter, r *http.Request) {
	doc, err := h.config.Get(r.Context())
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Error("fetch configuration")
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

func (h *handler) adminUpdateConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		httputil.WriteError(w, errors.Validation("Failed to read request body"))
		return
	}

	raw, err := parseUpdatePayload(body)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	claims, _ := middleware.ClaimsFromContext(r.Context())
	userID, userEmail := "", ""
	if claims != nil {
		userID, userEmail = claims.UserID, claims.Email
	}

	clientToken := clientLastModified(raw)
	conflict, err := h.config.CheckConcurrentModification(r.Context(), clientToken)
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Error("check concurrent modification")
		httputil.WriteError(w, err)
		return
	}
	if conflict {
		h.audit.Record(AuditEntry{
			Time:    time.Now().UTC(),
			User:    userID,
			Email:   userEmail,
			Action:  auditActionConflict,
			Details: formatToken(clientToken),
		})
		httputil.WriteError(w, errors.Conflict("Configuration has been modified by another user. Please refresh and try again."))
		return
	}

	var doc cfg.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		httputil.WriteError(w, errors.Validation("Request body must be a configuration document"))
		return
	}

	updated, err := h.config.Update(r.Context(), doc, userID, userEmail)
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Error("update configuration")
		httputil.WriteError(w, err)
		return
	}

	h.audit.Record(AuditEntry{
		Time:    time.Now().UTC(),
		User:    userID,
		Email:   userEmail,
		Action:  auditActionUpdate,
		Details: strconv.FormatInt(updated.LastModified, 10),
	})
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			httputil.WriteError(w, errors.Validation("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	httputil.WriteJSON(w, http.StatusOK, h.audit.ListLimit(limit))
}

func (h *handler) verifyToken(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		httputil.Unauthorized(w, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"valid": true,
		"user": map[string]string{
			"uid":   claims.UserID,
			"email": claims.Email,
		},
	})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handler) notFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusNotFound, map[string]string{
		"error": "Route not found",
		"path":  r.URL.Path,
	})
}

// clientLastModified extracts the optional concurrency token from the raw
// payload. Absent, null and zero values all opt out of the conflict check.
func clientLastModified(raw map[string]json.RawMessage) *int64 {
	value, ok := raw[cfg.KeyLastModified]
	if !ok {
		return nil
	}
	var token int64
	if err := json.Unmarshal(value, &token); err != nil || token == 0 {
		return nil
	}
	return &token
}

func formatToken(token *int64) string {
	if token == nil {
		return ""
	}
	return strconv.FormatInt(*token, 10)
}
