// Package config loads fairway configuration from defaults, the YAML config
// file, and FAIRWAY_* environment variables via viper, and decodes it into
// typed structs with mapstructure.
package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/fairwayhq/fairway/internal/core"
	"github.com/fairwayhq/fairway/internal/core/engine"
)

const defaultAppName = "fairway"

var (
	// appConfig holds the current application configuration
	appConfig   *Config
	configMu    sync.RWMutex
	appIdentity *appidentity.Identity
)

// SetAppIdentity sets the identity used to resolve XDG paths.
func SetAppIdentity(identity *appidentity.Identity) {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = identity
}

// EnvKeyReplacer maps nested keys such as rate_limit.enabled to RATE_LIMIT_ENABLED.
func EnvKeyReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}

// SetDefaults registers every known key on v. Keys without a default are not
// visible to environment overrides.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)
	v.SetDefault("debug.enabled", false)
	v.SetDefault("admin.token", "")

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.reap_interval", engine.DefaultReapInterval.String())
	v.SetDefault("rate_limit.principal_header", "X-Authenticated-User")
	v.SetDefault("rate_limit.trust_forwarded", true)
	v.SetDefault("rate_limit.global_policy", engine.PolicyGlobal)
	v.SetDefault("rate_limit.policies", defaultPolicySettings())
	v.SetDefault("rate_limit.journal.enabled", true)
	v.SetDefault("rate_limit.journal.buffer", 256)
}

func defaultPolicySettings() []map[string]any {
	out := make([]map[string]any, 0, len(engine.DefaultPolicies))
	for _, p := range engine.DefaultPolicies {
		out = append(out, map[string]any{
			"name":     p.Name,
			"window":   p.Window.String(),
			"max":      p.Max,
			"key_rule": string(p.KeyRule),
		})
	}
	return out
}

// Load decodes the settings held by v, validates them and stores the result
// as the current configuration.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create config decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// secondsToDurationHook reads bare numbers as seconds when the target is a
// time.Duration. Values that already are durations pass through.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType || from == durationType {
			return data, nil
		}
		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(reflect.ValueOf(data).Uint()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}

var validLogLevels = map[string]struct{}{
	"trace": {}, "debug": {}, "info": {}, "warn": {}, "error": {},
}

// Validate checks cross-field constraints not expressible in the struct types.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
	}
	if c.Logging.Level != "" {
		if _, ok := validLogLevels[c.Logging.Level]; !ok {
			return fmt.Errorf("logging.level %q is not one of trace, debug, info, warn, error", c.Logging.Level)
		}
	}

	if !c.RateLimit.Enabled {
		return nil
	}
	if c.RateLimit.ReapInterval <= 0 {
		return fmt.Errorf("rate_limit.reap_interval must be positive")
	}
	if c.RateLimit.Journal.Enabled && c.RateLimit.Journal.Buffer <= 0 {
		return fmt.Errorf("rate_limit.journal.buffer must be positive when the journal is enabled")
	}
	registry, err := c.PolicyRegistry()
	if err != nil {
		return fmt.Errorf("rate_limit.policies: %w", err)
	}
	if name := strings.TrimSpace(c.RateLimit.GlobalPolicy); name != "" {
		if err := registry.Require(name); err != nil {
			return fmt.Errorf("rate_limit.global_policy: %w", err)
		}
	}
	return nil
}

// PolicyRegistry builds the policy registry from rate_limit.policies, or from
// the built-in defaults when none are configured.
func (c *Config) PolicyRegistry() (*engine.PolicyRegistry, error) {
	if len(c.RateLimit.Policies) == 0 {
		return engine.NewPolicyRegistry(engine.DefaultPolicies...)
	}

	policies := make([]core.Policy, 0, len(c.RateLimit.Policies))
	for _, p := range c.RateLimit.Policies {
		policies = append(policies, core.Policy{
			Name:    p.Name,
			Window:  p.Window,
			Max:     p.Max,
			KeyRule: core.KeyRule(strings.ToLower(strings.TrimSpace(p.KeyRule))),
		})
	}
	return engine.NewPolicyRegistry(policies...)
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// appNamesForPaths returns the config name and binary name from app identity,
// falling back to "fairway" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	configMu.RLock()
	identity := appIdentity
	configMu.RUnlock()

	configName = defaultAppName
	binaryName = defaultAppName
	if identity == nil {
		return configName, binaryName
	}

	if strings.TrimSpace(identity.ConfigName) != "" {
		configName = identity.ConfigName
	}
	if strings.TrimSpace(identity.BinaryName) != "" {
		binaryName = identity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	configName, _ := appNamesForPaths()
	return gfconfig.GetAppDataDir(configName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}
