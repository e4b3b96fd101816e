// Configuration management
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the simulator configuration
type Config struct {
	Version  string         `yaml:"version"`
	Server   ServerConfig   `yaml:"server"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Playback PlaybackConfig `yaml:"playback"`
	Cache    CacheConfig    `yaml:"cache"`
	Journal  JournalConfig  `yaml:"journal"`
	Export   ExportConfig   `yaml:"export"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ServerConfig represents HTTP server settings
type ServerConfig struct {
	HTTPAddr        string          `yaml:"http_addr"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	MaxSessions     int             `yaml:"max_sessions"`
	AllowedOrigins  []string        `yaml:"allowed_origins"`
	IdempotencyTTL  time.Duration   `yaml:"idempotency_ttl"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig limits session creation per client IP
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`

	// Peers (CIDR or address) allowed to name the client in X-Forwarded-For
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// CatalogConfig names the corridor catalog. An empty DataFile uses the
// embedded catalog.
type CatalogConfig struct {
	DataFile        string `yaml:"data_file"`
	DefaultCorridor string `yaml:"default_corridor"`
}

// PlaybackConfig represents autoplay settings
type PlaybackConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// CacheConfig represents simulation result cache settings
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// JournalConfig represents playback journal settings
type JournalConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// ExportConfig represents audit export settings
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig represents logger settings
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// TracingConfig represents OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate"`
	Environment string  `yaml:"environment"`
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		Server: ServerConfig{
			HTTPAddr:        "0.0.0.0:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxSessions:     1000,
			AllowedOrigins:  []string{"*"},
			IdempotencyTTL:  24 * time.Hour,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				BurstSize:         30,
			},
		},
		Playback: PlaybackConfig{
			Interval: 2500 * time.Millisecond,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     10 * time.Minute,
		},
		Journal: JournalConfig{
			MaxEntries: 1000,
		},
		Export: ExportConfig{
			Dir: ".",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			SampleRate:  1.0,
			Environment: "development",
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	// Check for config file path
	configPath := os.Getenv("CORRIDORSIM_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Try to load from file
	if _, err := os.Stat(configPath); err == nil {
		return LoadFile(configPath)
	}

	// Fall back to defaults with env overrides
	cfg := Default()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads config from a YAML file over the defaults
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) error {
	if addr := os.Getenv("CORRIDORSIM_HTTP_ADDR"); addr != "" {
		cfg.Server.HTTPAddr = addr
	}
	if path := os.Getenv("CORRIDORSIM_DATA_FILE"); path != "" {
		cfg.Catalog.DataFile = path
	}
	if v := os.Getenv("CORRIDORSIM_AUTOPLAY_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CORRIDORSIM_AUTOPLAY_INTERVAL: %w", err)
		}
		cfg.Playback.Interval = d
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Server.MaxSessions <= 0 {
		return fmt.Errorf("server.max_sessions must be positive")
	}
	if c.Server.IdempotencyTTL <= 0 {
		return fmt.Errorf("server.idempotency_ttl must be positive")
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_minute must be positive when rate limiting is enabled")
	}
	if c.Playback.Interval <= 0 {
		return fmt.Errorf("playback.interval must be positive")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive when the cache is enabled")
	}
	if c.Journal.MaxEntries <= 0 {
		return fmt.Errorf("journal.max_entries must be positive")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}
	return nil
}
