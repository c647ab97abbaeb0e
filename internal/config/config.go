// Package config loads service configuration with defaults, optional
// config file, environment overrides, and runtime overrides, in
// ascending precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// envPrefix namespaces every environment override (EXTRECON_*).
const envPrefix = "EXTRECON"

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Blocklist BlocklistConfig `mapstructure:"blocklist"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Bulk      BulkConfig      `mapstructure:"bulk"`
	Retention RetentionConfig `mapstructure:"retention"`
	API       APIConfig       `mapstructure:"api"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// CacheConfig configures the record store.
type CacheConfig struct {
	// Path is the SQLite database location.
	Path string `mapstructure:"path"`

	// Freshness is how long a cache row is served before a lookup
	// rescrapes. Ignored when NoExpiry is set.
	Freshness time.Duration `mapstructure:"freshness"`

	// NoExpiry disables staleness entirely: cached rows are served
	// forever. Distinct from Freshness=0, which makes every row stale.
	NoExpiry bool `mapstructure:"no_expiry"`
}

// FreshnessWindow translates the config into the store's window
// representation: nil disables expiry.
func (c CacheConfig) FreshnessWindow() *time.Duration {
	if c.NoExpiry {
		return nil
	}
	d := c.Freshness
	return &d
}

// BlocklistConfig configures threat-feed aggregation.
type BlocklistConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	SourcesFile string        `mapstructure:"sources_file"`
	TTL         time.Duration `mapstructure:"ttl"`

	// RefreshSchedule is a cron expression for proactive refreshes in
	// serve mode.
	RefreshSchedule string `mapstructure:"refresh_schedule"`
}

// ScraperConfig configures storefront adapters.
type ScraperConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	UserAgent string        `mapstructure:"user_agent"`
}

// BulkConfig configures bulk job execution.
type BulkConfig struct {
	Concurrency   int `mapstructure:"concurrency"`
	MaxActiveJobs int `mapstructure:"max_active_jobs"`
}

// RetentionConfig configures the cache cleanup sweep in serve mode.
type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	MaxAge   time.Duration `mapstructure:"max_age"`
	Schedule string        `mapstructure:"schedule"`
}

// APIConfig configures API protection.
type APIConfig struct {
	// Key enables API-key auth when non-empty.
	Key string `mapstructure:"key"`

	// RateLimit is requests per second per client IP. Zero disables.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// Load builds the configuration and stores it for GetConfig.
// Precedence, highest first: runtime overrides, environment variables,
// config file, defaults.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvAliases(v)

	v.SetConfigName("extrecon")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/extrecon")
	v.AddConfigPath("/etc/extrecon")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// Overrides go through Set, the highest precedence level, so they
	// beat environment variables as well as file values.
	for _, override := range overrides {
		applyOverrides(v, "", override)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil
// before the first Load.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")

	v.SetDefault("cache.path", "data/extrecon.db")
	v.SetDefault("cache.freshness", 24*time.Hour)
	v.SetDefault("cache.no_expiry", false)

	v.SetDefault("blocklist.enabled", true)
	v.SetDefault("blocklist.sources_file", "")
	v.SetDefault("blocklist.ttl", 24*time.Hour)
	v.SetDefault("blocklist.refresh_schedule", "0 5 * * *")

	v.SetDefault("scraper.timeout", 15*time.Second)
	v.SetDefault("scraper.rate_limit", 1.0)
	v.SetDefault("scraper.user_agent", "")

	v.SetDefault("bulk.concurrency", 6)
	v.SetDefault("bulk.max_active_jobs", 10)

	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.max_age", 30*24*time.Hour)
	v.SetDefault("retention.schedule", "30 4 * * *")

	v.SetDefault("api.key", "")
	v.SetDefault("api.rate_limit", 0.0)
	v.SetDefault("api.rate_burst", 10)
}

func applyOverrides(v *viper.Viper, prefix string, values map[string]any) {
	for key, val := range values {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			applyOverrides(v, full, nested)
			continue
		}
		v.Set(full, val)
	}
}

// bindEnvAliases adds short-form environment variables alongside the
// fully qualified EXTRECON_SERVER_PORT style names.
func bindEnvAliases(v *viper.Viper) {
	aliases := map[string]string{
		"server.host":   "EXTRECON_HOST",
		"server.port":   "EXTRECON_PORT",
		"logging.level": "EXTRECON_LOG_LEVEL",
		"cache.path":    "EXTRECON_CACHE_PATH",
		"api.key":       "EXTRECON_API_KEY",
	}
	for key, env := range aliases {
		_ = v.BindEnv(key, env)
	}
}
