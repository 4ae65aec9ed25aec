// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	VendorAPI VendorAPIConfig `mapstructure:"vendorapi"`
	Dataset   DatasetConfig   `mapstructure:"dataset"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// PipelineConfig governs per-URL resolution behavior.
type PipelineConfig struct {
	UserAgent          string `mapstructure:"user_agent"`
	MinContentBytes    int    `mapstructure:"min_content_bytes"`
	CourtesyDelayMinMs int    `mapstructure:"courtesy_delay_min_ms"`
	CourtesyDelayMaxMs int    `mapstructure:"courtesy_delay_max_ms"`
}

// HTTPConfig configures the static HTTP strategy.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the dynamic rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	BrowserPath   string `mapstructure:"browser_path"`
}

// RateLimitConfig governs the per-domain window and retry schedule.
type RateLimitConfig struct {
	MinIntervalMs int `mapstructure:"min_interval_ms"`
	MaxAttempts   int `mapstructure:"max_attempts"`
	BaseDelayMs   int `mapstructure:"base_delay_ms"`
	MaxDelayMs    int `mapstructure:"max_delay_ms"`
}

// VendorAPIConfig enables the documented-API strategy when BaseURL is set.
type VendorAPIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DatasetConfig names the columns of the record set.
type DatasetConfig struct {
	URLColumn    string `mapstructure:"url_column"`
	MarkerColumn string `mapstructure:"marker_column"`
	Delimiter    string `mapstructure:"delimiter"`
}

// ServerConfig controls the optional status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PATCHTRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.user_agent", "patchtrace/0.1")
	v.SetDefault("pipeline.min_content_bytes", 1024)
	v.SetDefault("pipeline.courtesy_delay_min_ms", 500)
	v.SetDefault("pipeline.courtesy_delay_max_ms", 1500)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("ratelimit.min_interval_ms", 2000)
	v.SetDefault("ratelimit.max_attempts", 3)
	v.SetDefault("ratelimit.base_delay_ms", 500)
	v.SetDefault("ratelimit.max_delay_ms", 8000)
	v.SetDefault("vendorapi.base_url", "https://api.msrc.microsoft.com/cvrf/v3.0/cvrf")
	v.SetDefault("vendorapi.timeout_seconds", 25)
	v.SetDefault("dataset.url_column", "advisory_urls")
	v.SetDefault("dataset.marker_column", "resolved_at")
	v.SetDefault("dataset.delimiter", ";")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.RateLimit.MinIntervalMs < 0 {
		return fmt.Errorf("ratelimit.min_interval_ms must be >= 0")
	}
	if c.RateLimit.MaxAttempts <= 0 {
		return fmt.Errorf("ratelimit.max_attempts must be > 0")
	}
	if c.Pipeline.CourtesyDelayMaxMs < c.Pipeline.CourtesyDelayMinMs {
		return fmt.Errorf("pipeline.courtesy_delay_max_ms must be >= courtesy_delay_min_ms")
	}
	if c.Dataset.URLColumn == "" || c.Dataset.MarkerColumn == "" {
		return fmt.Errorf("dataset.url_column and dataset.marker_column must be set")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the status server is enabled")
	}
	return nil
}

// HTTPTimeout converts the static strategy timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
