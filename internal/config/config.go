// Package config loads service configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Audit   AuditConfig   `yaml:"audit"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig configures admin JWT verification and the mobile API token.
type AuthConfig struct {
	// JWTPublicKeyFile points at a PEM-encoded RSA public key used to
	// verify admin bearer tokens.
	JWTPublicKeyFile string `yaml:"jwt_public_key_file"`
	// APIToken is the shared token mobile clients present in X-API-Token.
	APIToken string `yaml:"api_token"`
}

// StorageConfig selects and configures the document store backend.
type StorageConfig struct {
	// Driver is "memory" or "postgres".
	Driver      string `yaml:"driver"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// CacheConfig configures the configuration document cache.
type CacheConfig struct {
	// TTL is the cache window as a Go duration string, e.g. "5m".
	TTL string `yaml:"ttl"`
}

// AuditConfig configures admin write auditing.
type AuditConfig struct {
	// FilePath, when set, appends audit entries as JSONL to this file.
	FilePath string `yaml:"file_path"`
	// MaxEntries bounds the in-memory audit ring.
	MaxEntries int `yaml:"max_entries"`
}

// TTLDuration parses the cache TTL, falling back to the given default.
func (c CacheConfig) TTLDuration(fallback time.Duration) time.Duration {
	if c.TTL == "" {
		return fallback
	}
	d, err := time.ParseDuration(c.TTL)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        3000,
			CORSOrigins: []string{"http://localhost:5173"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Storage: StorageConfig{Driver: "memory"},
		Cache:   CacheConfig{TTL: "5m"},
		Audit:   AuditConfig{MaxEntries: 200},
	}
}

// Load reads configuration from CONFIG_PATH (default config/config.yaml),
// falling back to defaults when the file is absent, then applies
// environment overrides.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}
	return LoadFromPath(path)
}

// LoadFromPath reads configuration from the given file. A missing file is
// not an error: defaults plus environment overrides apply.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if cfg.Storage.Driver != "memory" && cfg.Storage.Driver != "postgres" {
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "postgres" && cfg.Storage.PostgresDSN == "" {
		return nil, fmt.Errorf("storage driver postgres requires a DSN")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CORS_ORIGIN"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("JWT_PUBLIC_KEY_FILE"); v != "" {
		cfg.Auth.JWTPublicKeyFile = v
	}
	if v := os.Getenv("API_TOKEN"); v != "" {
		cfg.Auth.APIToken = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		cfg.Cache.TTL = v
	}
	if v := os.Getenv("AUDIT_FILE"); v != "" {
		cfg.Audit.FilePath = v
	}
}
