// Package config handles loading and validating the application
// configuration from a JSON file, with environment overrides.
//
// The file is optional when every required value is supplied through
// CONSORCIO_* environment variables (or a .env file in the working
// directory). Environment values win over the file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration. It is read once at
// startup; changes require a restart.
type Config struct {
	// DBConn is the PostgreSQL host:port (e.g., "postgres:5432").
	DBConn string `json:"dbConn"`

	// DBName is the PostgreSQL database name.
	DBName string `json:"dbName"`

	// DBUser is the PostgreSQL username. It needs CREATE on the database
	// to provision building schemas.
	DBUser string `json:"dbUser"`

	// DBPass is the PostgreSQL password.
	DBPass string `json:"dbPass"`

	// ListenAddr is the HTTP listen address (default ":3000").
	ListenAddr string `json:"listenAddr"`

	// AdminKey is a shared secret for the webhook registry API.
	// Clients send it as "Authorization: Bearer <adminKey>".
	AdminKey string `json:"adminKey"`

	// JWTSecret signs access and refresh tokens.
	JWTSecret string `json:"jwtSecret"`

	// LogLevel is one of debug, info, warn, error (default info).
	LogLevel string `json:"logLevel"`

	// Env selects production logging and production webhook URLs when
	// set to "production" (default "development").
	Env string `json:"env"`

	// TenantCacheSize bounds the number of building pools kept open
	// (default 256).
	TenantCacheSize int `json:"tenantCacheSize"`

	// TenantCacheTTL is how long an unused building pool stays cached,
	// as a Go duration string (default "30m").
	TenantCacheTTL string `json:"tenantCacheTTL"`

	// TenantPoolMaxConns caps connections per building pool (default 4).
	TenantPoolMaxConns int `json:"tenantPoolMaxConns"`

	// WebhookTimeout bounds outbound workflow calls (default "15s").
	WebhookTimeout string `json:"webhookTimeout"`

	// TrialDays is the trial length for new buildings (default 14).
	TrialDays int `json:"trialDays"`

	cacheTTL       time.Duration
	webhookTimeout time.Duration
}

// Environment variable names recognised by Load.
const (
	EnvDBConn     = "CONSORCIO_DB_CONN"
	EnvDBName     = "CONSORCIO_DB_NAME"
	EnvDBUser     = "CONSORCIO_DB_USER"
	EnvDBPass     = "CONSORCIO_DB_PASS"
	EnvListenAddr = "CONSORCIO_LISTEN_ADDR"
	EnvAdminKey   = "CONSORCIO_ADMIN_KEY"
	EnvJWTSecret  = "CONSORCIO_JWT_SECRET"
	EnvLogLevel   = "CONSORCIO_LOG_LEVEL"
	EnvEnv        = "CONSORCIO_ENV"
	EnvCacheSize  = "CONSORCIO_TENANT_CACHE_SIZE"
	EnvCacheTTL   = "CONSORCIO_TENANT_CACHE_TTL"
)

// Load reads configuration from path (skipped when the file does not
// exist), applies .env and environment overrides, fills defaults and
// validates the result.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnv() error {
	overrides := map[string]*string{
		EnvDBConn:     &c.DBConn,
		EnvDBName:     &c.DBName,
		EnvDBUser:     &c.DBUser,
		EnvDBPass:     &c.DBPass,
		EnvListenAddr: &c.ListenAddr,
		EnvAdminKey:   &c.AdminKey,
		EnvJWTSecret:  &c.JWTSecret,
		EnvLogLevel:   &c.LogLevel,
		EnvEnv:        &c.Env,
		EnvCacheTTL:   &c.TenantCacheTTL,
	}
	for name, field := range overrides {
		if v, ok := os.LookupEnv(name); ok {
			*field = v
		}
	}

	if v, ok := os.LookupEnv(EnvCacheSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvCacheSize, err)
		}
		c.TenantCacheSize = n
	}
	return nil
}

func (c *Config) applyDefaults() error {
	if c.ListenAddr == "" {
		c.ListenAddr = ":3000"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Env == "" {
		c.Env = "development"
	}
	if c.TenantCacheSize <= 0 {
		c.TenantCacheSize = 256
	}
	if c.TenantCacheTTL == "" {
		c.TenantCacheTTL = "30m"
	}
	if c.TenantPoolMaxConns <= 0 {
		c.TenantPoolMaxConns = 4
	}
	if c.WebhookTimeout == "" {
		c.WebhookTimeout = "15s"
	}
	if c.TrialDays <= 0 {
		c.TrialDays = 14
	}

	var err error
	if c.cacheTTL, err = time.ParseDuration(c.TenantCacheTTL); err != nil {
		return fmt.Errorf("config: tenantCacheTTL: %w", err)
	}
	if c.webhookTimeout, err = time.ParseDuration(c.WebhookTimeout); err != nil {
		return fmt.Errorf("config: webhookTimeout: %w", err)
	}
	return nil
}

// validate checks that all required fields are present.
func (c *Config) validate() error {
	switch {
	case c.DBConn == "":
		return fmt.Errorf("config: dbConn is required")
	case c.DBName == "":
		return fmt.Errorf("config: dbName is required")
	case c.DBUser == "":
		return fmt.Errorf("config: dbUser is required")
	case c.DBPass == "":
		return fmt.Errorf("config: dbPass is required")
	case c.AdminKey == "":
		return fmt.Errorf("config: adminKey is required")
	case c.JWTSecret == "":
		return fmt.Errorf("config: jwtSecret is required")
	case len(c.JWTSecret) < 32:
		return fmt.Errorf("config: jwtSecret must be at least 32 bytes")
	}
	return nil
}

// Production reports whether the service runs in production mode.
func (c *Config) Production() bool { return c.Env == "production" }

// CacheTTL returns the parsed TenantCacheTTL.
func (c *Config) CacheTTL() time.Duration { return c.cacheTTL }

// WebhookTimeoutDuration returns the parsed WebhookTimeout.
func (c *Config) WebhookTimeoutDuration() time.Duration { return c.webhookTimeout }

// ConnString builds a PostgreSQL connection URI from the config fields.
// The password is URL-encoded to handle special characters safely.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		url.QueryEscape(c.DBUser),
		url.QueryEscape(c.DBPass),
		c.DBConn,
		url.QueryEscape(c.DBName),
	)
}
