package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ekaya-inc/ekaya-insights/pkg/analytics"
	"github.com/ekaya-inc/ekaya-insights/pkg/requestctx"
)

// Config holds all configuration for ekaya-insights.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// Reporting database (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Hosted product-analytics service
	Analytics AnalyticsConfig `yaml:"analytics"`

	// Template rendering
	Templates TemplatesConfig `yaml:"templates"`

	// Per-client request limit on the report API
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// BatchConcurrency bounds how many reports of one batch request run at once.
	BatchConcurrency int `yaml:"batch_concurrency" env:"BATCH_CONCURRENCY" env-default:"4"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	MaxIdleConns   int32  `yaml:"max_idle_conns" env:"PGMAX_IDLE_CONNS" env-default:"2"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`

	// StatementTimeout is enforced server-side on every report query.
	StatementTimeout time.Duration `yaml:"statement_timeout" env:"PGSTATEMENT_TIMEOUT" env-default:"30s"`
}

// AnalyticsConfig holds the query API endpoint and client tunables.
type AnalyticsConfig struct {
	Host          string        `yaml:"host" env:"ANALYTICS_HOST" env-default:""`
	ProjectID     string        `yaml:"project_id" env:"ANALYTICS_PROJECT_ID" env-default:""`
	APIKey        string        `yaml:"-" env:"ANALYTICS_API_KEY"` // Secret - not in YAML
	MaxConcurrent int           `yaml:"max_concurrent" env:"ANALYTICS_MAX_CONCURRENT" env-default:"3"`
	MaxAttempts   int           `yaml:"max_attempts" env:"ANALYTICS_MAX_ATTEMPTS" env-default:"2"`
	RetryDelay    time.Duration `yaml:"retry_delay" env:"ANALYTICS_RETRY_DELAY" env-default:"2s"`
	Timeout       time.Duration `yaml:"timeout" env:"ANALYTICS_TIMEOUT" env-default:"60s"`
}

// IsAvailable returns true if the analytics service is configured.
func (c *AnalyticsConfig) IsAvailable() bool {
	return c.Host != "" && c.ProjectID != "" && c.APIKey != ""
}

// ClientConfig converts to the analytics client configuration.
func (c *AnalyticsConfig) ClientConfig() analytics.Config {
	return analytics.Config{
		Host:          ResolveURLForDocker(c.Host),
		ProjectID:     c.ProjectID,
		APIKey:        c.APIKey,
		MaxConcurrent: c.MaxConcurrent,
		MaxAttempts:   c.MaxAttempts,
		RetryDelay:    c.RetryDelay,
		Timeout:       c.Timeout,
	}
}

// RateLimitConfig bounds report API requests per client IP.
// Zero requests disables the limit.
type RateLimitConfig struct {
	Requests int           `yaml:"requests" env:"RATE_LIMIT_REQUESTS" env-default:"120"`
	Window   time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW" env-default:"1m"`
}

// TemplatesConfig controls report template rendering.
type TemplatesConfig struct {
	// StrictPlaceholders fails rendering when a placeholder is left unresolved.
	// When false, the query is returned as-is and a warning is logged.
	StrictPlaceholders bool `yaml:"strict_placeholders" env:"TEMPLATES_STRICT_PLACEHOLDERS" env-default:"true"`

	// DefaultTimezone applies to requests that do not name a timezone.
	DefaultTimezone string `yaml:"default_timezone" env:"TEMPLATES_DEFAULT_TIMEZONE" env-default:"UTC"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Secrets (PGPASSWORD, ANALYTICS_API_KEY) must come from environment variables.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	if err := cfg.validateTemplates(); err != nil {
		return nil, fmt.Errorf("invalid templates configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

func (c *Config) validateTemplates() error {
	if !requestctx.IsAllowedTimezone(c.Templates.DefaultTimezone) {
		return fmt.Errorf("default_timezone %q is not a supported timezone", c.Templates.DefaultTimezone)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		ResolveHostForDocker(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
