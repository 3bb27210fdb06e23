package config

import (
	"time"
)

// Config represents the complete application configuration.
// Values come from, in increasing precedence: SetDefaults, the YAML config
// file, FAIRWAY_* environment variables, then command-line flags.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Debug     DebugConfig     `mapstructure:"debug"`
	Admin     AdminConfig     `mapstructure:"admin"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: simple, structured
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated Prometheus exporter port; /metrics on the main port proxies it
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AdminConfig controls the bearer-protected admin endpoints.
type AdminConfig struct {
	// Token enables /admin/* when non-empty. Prefer FAIRWAY_ADMIN_TOKEN over the config file.
	Token string `mapstructure:"token"`
}

// RateLimitConfig configures request admission control.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// ReapInterval is how often expired windows are evicted.
	ReapInterval time.Duration `mapstructure:"reap_interval"`

	// PrincipalHeader carries the authenticated user id set by the auth gateway.
	PrincipalHeader string `mapstructure:"principal_header"`

	// TrustForwarded reads the client origin from X-Forwarded-For.
	// Disable when the service is reachable without a proxy that overwrites the header.
	TrustForwarded bool `mapstructure:"trust_forwarded"`

	// GlobalPolicy guards every /v1 route. Empty disables the group-wide guard.
	GlobalPolicy string `mapstructure:"global_policy"`

	Policies []PolicyConfig `mapstructure:"policies"`
	Journal  JournalConfig  `mapstructure:"journal"`
}

// PolicyConfig is one named policy. Window accepts a duration string ("15m") or seconds.
type PolicyConfig struct {
	Name    string        `mapstructure:"name" json:"name" yaml:"name"`
	Window  time.Duration `mapstructure:"window" json:"window" yaml:"window"`
	Max     int           `mapstructure:"max" json:"max" yaml:"max"`
	KeyRule string        `mapstructure:"key_rule" json:"key_rule" yaml:"key_rule"`
}

// JournalConfig controls persistence of first denials.
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Buffer  int  `mapstructure:"buffer"`
}
