// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/sqelf/internal/core"
)

// SqelfConfig represents the top-level configuration.
// Maps to the `sqelf:` root key in YAML.
type SqelfConfig struct {
	Server  ServerConfig   `mapstructure:"server"`
	Receive ReceiveConfig  `mapstructure:"receive"`
	Process ProcessConfig  `mapstructure:"process"`
	Outputs []OutputConfig `mapstructure:"outputs"`
	Control ControlConfig  `mapstructure:"control"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Log     LogConfig      `mapstructure:"log"`
}

// ─── Receive Loop ───

// ServerConfig configures the UDP socket and receive loop.
type ServerConfig struct {
	Bind               string `mapstructure:"bind"`
	ReadTimeout        string `mapstructure:"read_timeout"`   // bounds shutdown latency
	EvictInterval      string `mapstructure:"evict_interval"` // empty = read_timeout
	QueueCapacity      int    `mapstructure:"queue_capacity"` // 0 = call outputs on the receive goroutine
	ReusePort          bool   `mapstructure:"reuse_port"`
	ReceiveBufferBytes int    `mapstructure:"receive_buffer_bytes"` // 0 = OS default
	WaitOnStdin        bool   `mapstructure:"wait_on_stdin"`        // stop when stdin reaches EOF

	MaxDatagramsPerSource int    `mapstructure:"max_datagrams_per_source"` // 0 = disabled
	RateLimitWindow       string `mapstructure:"rate_limit_window"`
}

// ReadTimeoutDuration returns the parsed read timeout.
func (c ServerConfig) ReadTimeoutDuration() time.Duration {
	return mustDuration(c.ReadTimeout)
}

// EvictIntervalDuration returns the parsed eviction cadence.
func (c ServerConfig) EvictIntervalDuration() time.Duration {
	if c.EvictInterval == "" {
		return c.ReadTimeoutDuration()
	}
	return mustDuration(c.EvictInterval)
}

// RateLimitWindowDuration returns the parsed rate limit window.
func (c ServerConfig) RateLimitWindowDuration() time.Duration {
	return mustDuration(c.RateLimitWindow)
}

// ─── Chunk Reassembly ───

// ReceiveConfig bounds chunk reassembly.
type ReceiveConfig struct {
	MaxChunksPerMessage   int    `mapstructure:"max_chunks_per_message"`
	MaxIncompleteMessages int    `mapstructure:"max_incomplete_messages"`
	IncompleteTimeout     string `mapstructure:"incomplete_timeout"`
	MaxMessageSize        int    `mapstructure:"max_message_size"` // bytes, after reassembly and decompression
}

// IncompleteTimeoutDuration returns the parsed partial message expiry.
func (c ReceiveConfig) IncompleteTimeoutDuration() time.Duration {
	return mustDuration(c.IncompleteTimeout)
}

// ─── Processing & Outputs ───

// ProcessConfig configures the GELF to CLEF mapping.
type ProcessConfig struct {
	IncludeRawLevel bool `mapstructure:"include_raw_level"`
}

// OutputConfig declares one output. Options are decoded by the output type.
type OutputConfig struct {
	Type    string         `mapstructure:"type"` // stdout | file | kafka | beats
	Name    string         `mapstructure:"name"` // empty = type
	Options map[string]any `mapstructure:"options"`
}

// ─── Control ───

// ControlConfig contains process control settings.
type ControlConfig struct {
	PIDFile string `mapstructure:"pid_file"` // empty = no PID file
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`  // MB
	MaxAgeDays int  `mapstructure:"max_age_days"` // Days
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `sqelf: ...`.
type configRoot struct {
	Sqelf SqelfConfig `mapstructure:"sqelf"`
}

// Load loads configuration from file. An empty path loads defaults and
// environment overrides only.
// The YAML file uses `sqelf:` as root key; env vars use the SQELF_ prefix
// (e.g., SQELF_SERVER_BIND).
func Load(path string) (*SqelfConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `sqelf.` key prefix maps to `SQELF_` through the key replacer
	// (e.g., key "sqelf.log.level" → env "SQELF_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Sqelf

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "sqelf." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("sqelf.server.bind", "0.0.0.0:12201")
	v.SetDefault("sqelf.server.read_timeout", "100ms")
	v.SetDefault("sqelf.server.evict_interval", "")
	v.SetDefault("sqelf.server.queue_capacity", 0)
	v.SetDefault("sqelf.server.reuse_port", false)
	v.SetDefault("sqelf.server.receive_buffer_bytes", 0)
	v.SetDefault("sqelf.server.wait_on_stdin", false)
	v.SetDefault("sqelf.server.max_datagrams_per_source", 0)
	v.SetDefault("sqelf.server.rate_limit_window", "10s")

	// Receive defaults
	v.SetDefault("sqelf.receive.max_chunks_per_message", 128)
	v.SetDefault("sqelf.receive.max_incomplete_messages", 1024)
	v.SetDefault("sqelf.receive.incomplete_timeout", "5s")
	v.SetDefault("sqelf.receive.max_message_size", 512*1024)

	// Process defaults
	v.SetDefault("sqelf.process.include_raw_level", false)

	// Output defaults
	v.SetDefault("sqelf.outputs", []map[string]any{{"type": "stdout"}})

	// Control defaults
	v.SetDefault("sqelf.control.pid_file", "")

	// Log defaults
	v.SetDefault("sqelf.log.level", "info")
	v.SetDefault("sqelf.log.format", "json")
	v.SetDefault("sqelf.log.outputs.file.enabled", false)
	v.SetDefault("sqelf.log.outputs.file.path", "/var/log/sqelf/sqelf.log")
	v.SetDefault("sqelf.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("sqelf.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("sqelf.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("sqelf.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("sqelf.metrics.enabled", false)
	v.SetDefault("sqelf.metrics.listen", ":9102")
	v.SetDefault("sqelf.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *SqelfConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return invalid("log.outputs.file.path is required when log.outputs.file.enabled=true")
	}

	// ── Server validation ──
	if _, _, err := net.SplitHostPort(cfg.Server.Bind); err != nil {
		return invalid("invalid server.bind %q: %v", cfg.Server.Bind, err)
	}
	durations := map[string]string{
		"server.read_timeout":        cfg.Server.ReadTimeout,
		"server.rate_limit_window":   cfg.Server.RateLimitWindow,
		"receive.incomplete_timeout": cfg.Receive.IncompleteTimeout,
	}
	if cfg.Server.EvictInterval != "" {
		durations["server.evict_interval"] = cfg.Server.EvictInterval
	}
	for key, value := range durations {
		if err := positiveDuration(key, value); err != nil {
			return err
		}
	}
	if cfg.Server.QueueCapacity < 0 {
		return invalid("server.queue_capacity must be >= 0, got %d", cfg.Server.QueueCapacity)
	}
	if cfg.Server.ReceiveBufferBytes < 0 {
		return invalid("server.receive_buffer_bytes must be >= 0, got %d", cfg.Server.ReceiveBufferBytes)
	}
	if cfg.Server.MaxDatagramsPerSource < 0 {
		return invalid("server.max_datagrams_per_source must be >= 0, got %d", cfg.Server.MaxDatagramsPerSource)
	}

	// ── Receive validation ──
	if n := cfg.Receive.MaxChunksPerMessage; n < 1 || n > 255 {
		return invalid("receive.max_chunks_per_message must be between 1 and 255, got %d", n)
	}
	if cfg.Receive.MaxIncompleteMessages < 1 {
		return invalid("receive.max_incomplete_messages must be >= 1, got %d", cfg.Receive.MaxIncompleteMessages)
	}
	if cfg.Receive.MaxMessageSize < 1 {
		return invalid("receive.max_message_size must be >= 1, got %d", cfg.Receive.MaxMessageSize)
	}

	// ── Output validation ──
	if len(cfg.Outputs) == 0 {
		return invalid("at least one output is required")
	}
	names := make(map[string]bool, len(cfg.Outputs))
	for i := range cfg.Outputs {
		out := &cfg.Outputs[i]
		if out.Type == "" {
			return invalid("outputs[%d].type is required", i)
		}
		if out.Name == "" {
			out.Name = out.Type
		}
		if names[out.Name] {
			return invalid("duplicate output name %q", out.Name)
		}
		names[out.Name] = true
	}

	// ── Metrics validation ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return invalid("metrics.listen is required when metrics.enabled=true")
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...))
}

func positiveDuration(key, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return invalid("invalid %s %q: %v", key, value, err)
	}
	if d <= 0 {
		return invalid("%s must be positive, got %s", key, value)
	}
	return nil
}

// mustDuration parses a duration already checked by ValidateAndApplyDefaults.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
