package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config represents the lanes configuration
type Config struct {
	// Executor
	Executor ExecutorConfig `json:"executor" mapstructure:"executor"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Watch
	Watch WatchConfig `json:"watch" mapstructure:"watch"`

	// Audit log path, disabled when empty
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ExecutorConfig holds lane registry settings
type ExecutorConfig struct {
	DefaultLane  string `json:"default_lane" mapstructure:"default_lane"`
	DrainTimeout int    `json:"drain_timeout" mapstructure:"drain_timeout"` // seconds
	WarnAfterMs  int    `json:"warn_after_ms" mapstructure:"warn_after_ms"`
	DedupTTL     int    `json:"dedup_ttl" mapstructure:"dedup_ttl"` // seconds
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// MetricsConfig holds Prometheus exporter settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// WatchConfig holds file watcher settings
type WatchConfig struct {
	DebounceMs int `json:"debounce_ms" mapstructure:"debounce_ms"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Executor: ExecutorConfig{
			DefaultLane:  "main",
			DrainTimeout: 30,
			WarnAfterMs:  0,
			DedupTTL:     300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "lanes",
			SampleRatio: 1,
		},
		Watch: WatchConfig{
			DebounceMs: 100,
		},
	}
}

// DrainTimeout returns the executor drain timeout as a duration
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.Executor.DrainTimeout) * time.Second
}

// WarnAfter returns the default queue wait warning threshold
func (c *Config) WarnAfter() time.Duration {
	return time.Duration(c.Executor.WarnAfterMs) * time.Millisecond
}

// DedupTTL returns how long request IDs are remembered
func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.Executor.DedupTTL) * time.Second
}

// Debounce returns the watcher debounce interval
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMs) * time.Millisecond
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Executor.DefaultLane) == "*" {
		return fmt.Errorf("executor.default_lane: %q is reserved", "*")
	}
	if c.Executor.DrainTimeout <= 0 {
		return fmt.Errorf("executor.drain_timeout must be positive, got %d", c.Executor.DrainTimeout)
	}
	if c.Executor.WarnAfterMs < 0 {
		return fmt.Errorf("executor.warn_after_ms must not be negative, got %d", c.Executor.WarnAfterMs)
	}
	if c.Executor.DedupTTL < 0 {
		return fmt.Errorf("executor.dedup_ttl must not be negative, got %d", c.Executor.DedupTTL)
	}

	if c.Logging.Level != "" {
		if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("invalid logging level %q: %w", c.Logging.Level, err)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	if c.Tracing.Enabled {
		if c.Tracing.ServiceName == "" {
			return fmt.Errorf("tracing.service_name is required when tracing is enabled")
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			return fmt.Errorf("tracing.sample_ratio must be within [0, 1], got %v", c.Tracing.SampleRatio)
		}
	}

	if c.Watch.DebounceMs < 0 {
		return fmt.Errorf("watch.debounce_ms must not be negative, got %d", c.Watch.DebounceMs)
	}

	return nil
}
