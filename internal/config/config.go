// Package config provides centralized configuration management for cin7sync.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
//
// Client settings (status, currency, tax rule, delays) can additionally be
// overlaid from a YAML file, and column mappings are read from YAML as well.
package config

import (
	"strconv"
	"time"
)

// DefaultBaseURL is the Cin7 Core (Dear Systems) external API root.
const DefaultBaseURL = "https://inventory.dearsystems.com/ExternalApi/v2/"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Cin7     Cin7Config
	Settings Settings
	Jobs     JobsConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 60s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// MaxUploadSize caps multipart file uploads in bytes (default: 20MB)
	MaxUploadSize int64 `env:"SERVER_MAX_UPLOAD_SIZE" default:"20971520"`

	// RateLimit is the number of requests allowed per client IP per minute; 0 disables (default: 100)
	RateLimit int `env:"SERVER_RATE_LIMIT" default:"100"`
}

// DatabaseConfig holds database connection settings.
// The database is optional for the CLI; the server refuses to start without it.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a database URL was configured.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// Cin7Config holds remote API credentials and client tuning.
type Cin7Config struct {
	// AccountID is sent as api-auth-accountid
	AccountID string `env:"CIN7_ACCOUNT_ID"`

	// ApplicationKey is sent as api-auth-applicationkey (secret)
	ApplicationKey string `env:"CIN7_APPLICATION_KEY"`

	// BaseURL is the API root (default: Dear Systems v2)
	BaseURL string `env:"CIN7_BASE_URL" default:"https://inventory.dearsystems.com/ExternalApi/v2/"`

	// MinInterval is the minimum spacing between calls on one client (default: 340ms)
	MinInterval time.Duration `env:"CIN7_MIN_INTERVAL" default:"340ms"`

	// RequestTimeout bounds single create/lookup calls (default: 30s)
	RequestTimeout time.Duration `env:"CIN7_REQUEST_TIMEOUT" default:"30s"`

	// PingTimeout bounds the /me connectivity check (default: 10s)
	PingTimeout time.Duration `env:"CIN7_PING_TIMEOUT" default:"10s"`

	// PageTimeout bounds each page of a full-catalog fetch (default: 60s)
	PageTimeout time.Duration `env:"CIN7_PAGE_TIMEOUT" default:"60s"`

	// MaxPages caps full-catalog pagination (default: 100)
	MaxPages int `env:"CIN7_MAX_PAGES" default:"100"`

	// MaxRetries is how often a 429, or a 5xx on a read, is retried (default: 2)
	MaxRetries int `env:"CIN7_MAX_RETRIES" default:"2"`

	// RetryBackoff is the first retry wait, doubled per attempt (default: 1s)
	RetryBackoff time.Duration `env:"CIN7_RETRY_BACKOFF" default:"1s"`
}

// Configured reports whether both credential values are present.
func (c Cin7Config) Configured() bool {
	return c.AccountID != "" && c.ApplicationKey != ""
}

// JobsConfig holds background submission job settings.
type JobsConfig struct {
	// MaxConcurrent is the maximum number of submission jobs running at once (default: 2)
	MaxConcurrent int `env:"JOBS_MAX_CONCURRENT" default:"2"`

	// MaxWaitTime is how long to wait for a job slot (default: 5s)
	MaxWaitTime time.Duration `env:"JOBS_MAX_WAIT_TIME" default:"5s"`

	// Retention is how long finished job progress stays queryable (default: 30m)
	Retention time.Duration `env:"JOBS_RETENTION" default:"30m"`
}

// SecurityConfig holds API access settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Real-IP / X-Forwarded-For headers are honoured
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enforces X-API-Key on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys (secret)
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
