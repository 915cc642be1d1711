// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Listener  ListenerConfig  `yaml:"listener"`
	Session   SessionConfig   `yaml:"session"`
	Database  DatabaseConfig  `yaml:"database"`
	Retention RetentionConfig `yaml:"retention"`
	Cache     CacheConfig     `yaml:"cache"`
	Auth      AuthConfig      `yaml:"auth"`
	DNS       DNSConfig       `yaml:"dns"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds admin HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ListenerConfig holds the capture TCP listener settings.
type ListenerConfig struct {
	Addr         string        `yaml:"addr"`
	Shards       int           `yaml:"shards"`
	Balance      string        `yaml:"balance"` // round_robin, least_loaded, hash
	ReusePort    bool          `yaml:"reuse_port"`
	KeepAlive    time.Duration `yaml:"keepalive"`
	ConnsPerMin  int64         `yaml:"conns_per_minute"` // per peer IP, 0 = unlimited
	ConnsBurst   int64         `yaml:"conns_burst"`
	ReadBuffer   int           `yaml:"read_buffer"`
	MaxFrame     int           `yaml:"max_frame"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// SessionConfig holds per-session protocol settings.
type SessionConfig struct {
	PollTimeout time.Duration `yaml:"poll_timeout"`
	IdleTimeout time.Duration `yaml:"idle_timeout"` // 0 disables idle eviction
	MaxInvalid  int           `yaml:"max_invalid"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN       string `yaml:"dsn"` // file path or ":memory:"
	ReadConns int    `yaml:"read_conns"`
}

// RetentionConfig controls pruning of stored sessions.
type RetentionConfig struct {
	Sessions   time.Duration `yaml:"sessions"` // 0 keeps forever
	Interval   time.Duration `yaml:"interval"`
	LimiterTTL time.Duration `yaml:"limiter_ttl"`
}

// CacheConfig holds session lookup cache settings.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

// AuthConfig holds admin API credentials.
type AuthConfig struct {
	AdminKeys []AdminKeyEntry `yaml:"admin_keys"`
}

// AdminKeyEntry is a named admin key. Empty keys are ignored.
type AdminKeyEntry struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// DNSConfig controls reverse lookups of peer addresses.
type DNSConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Timeout         time.Duration `yaml:"timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Listener: ListenerConfig{
			Addr:         ":7070",
			Shards:       4,
			Balance:      "round_robin",
			KeepAlive:    30 * time.Second,
			ConnsPerMin:  120,
			ReadBuffer:   4096,
			MaxFrame:     64 << 10,
			WriteTimeout: 2 * time.Second,
		},
		Session: SessionConfig{
			PollTimeout: 50 * time.Millisecond,
			IdleTimeout: 5 * time.Minute,
			MaxInvalid:  10,
		},
		Database: DatabaseConfig{
			DSN: "capture.db",
		},
		Retention: RetentionConfig{
			Sessions:   30 * 24 * time.Hour,
			Interval:   10 * time.Minute,
			LimiterTTL: 15 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled: true,
			MaxSize: 10_000,
			TTL:     5 * time.Minute,
		},
		DNS: DNSConfig{
			Enabled:         true,
			Timeout:         time.Second,
			RefreshInterval: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports every setting the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Listener.Addr == "" {
		errs = append(errs, errors.New("listener.addr is required"))
	}
	if c.Listener.Shards <= 0 {
		errs = append(errs, fmt.Errorf("listener.shards must be positive, got %d", c.Listener.Shards))
	}
	switch c.Listener.Balance {
	case "round_robin", "least_loaded", "hash":
	default:
		errs = append(errs, fmt.Errorf("listener.balance %q is not one of round_robin, least_loaded, hash", c.Listener.Balance))
	}
	if c.Listener.MaxFrame <= 0 {
		errs = append(errs, fmt.Errorf("listener.max_frame must be positive, got %d", c.Listener.MaxFrame))
	}
	if c.Listener.ConnsPerMin < 0 {
		errs = append(errs, errors.New("listener.conns_per_minute must not be negative"))
	}
	if c.Session.PollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.poll_timeout must be positive, got %s", c.Session.PollTimeout))
	}
	if c.Session.IdleTimeout < 0 {
		errs = append(errs, errors.New("session.idle_timeout must not be negative"))
	}
	if c.Retention.Interval <= 0 {
		errs = append(errs, errors.New("retention.interval must be positive"))
	}
	if c.DNS.Enabled && c.DNS.RefreshInterval <= 0 {
		errs = append(errs, errors.New("dns.refresh_interval must be positive when dns is enabled"))
	}
	if c.Cache.Enabled && c.Cache.MaxSize <= 0 {
		errs = append(errs, errors.New("cache.max_size must be positive when cache is enabled"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format %q is not one of json, text", c.Log.Format))
	}
	if r := c.Telemetry.Tracing.SampleRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.tracing.sample_rate must be within [0,1], got %v", r))
	}
	return errors.Join(errs...)
}
