package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"firestige.xyz/sqelf/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
sqelf:
  server:
    bind: "127.0.0.1:12202"
    read_timeout: "250ms"
    queue_capacity: 512
    wait_on_stdin: true
  receive:
    max_incomplete_messages: 64
    incomplete_timeout: "2s"
  outputs:
    - type: file
      options:
        path: /tmp/sqelf-events.log
    - type: kafka
      name: central
      options:
        brokers: ["localhost:9092"]
        topic: logs
  log:
    level: debug
    format: text
  metrics:
    enabled: true
    listen: "127.0.0.1:9102"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Bind != "127.0.0.1:12202" {
		t.Errorf("Expected bind 127.0.0.1:12202, got %s", cfg.Server.Bind)
	}
	if got := cfg.Server.ReadTimeoutDuration(); got != 250*time.Millisecond {
		t.Errorf("Expected read timeout 250ms, got %s", got)
	}
	if got := cfg.Server.EvictIntervalDuration(); got != 250*time.Millisecond {
		t.Errorf("Expected evict interval to follow read timeout, got %s", got)
	}
	if cfg.Server.QueueCapacity != 512 || !cfg.Server.WaitOnStdin {
		t.Errorf("Unexpected server config: %+v", cfg.Server)
	}
	if cfg.Receive.MaxIncompleteMessages != 64 {
		t.Errorf("Expected 64 incomplete messages, got %d", cfg.Receive.MaxIncompleteMessages)
	}
	if got := cfg.Receive.IncompleteTimeoutDuration(); got != 2*time.Second {
		t.Errorf("Expected incomplete timeout 2s, got %s", got)
	}
	if cfg.Receive.MaxChunksPerMessage != 128 {
		t.Errorf("Expected default 128 chunks, got %d", cfg.Receive.MaxChunksPerMessage)
	}
	if len(cfg.Outputs) != 2 {
		t.Fatalf("Expected 2 outputs, got %d", len(cfg.Outputs))
	}
	if cfg.Outputs[0].Name != "file" || cfg.Outputs[0].Options["path"] != "/tmp/sqelf-events.log" {
		t.Errorf("Unexpected file output: %+v", cfg.Outputs[0])
	}
	if cfg.Outputs[1].Name != "central" || cfg.Outputs[1].Type != "kafka" {
		t.Errorf("Unexpected kafka output: %+v", cfg.Outputs[1])
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Unexpected log config: %+v", cfg.Log)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Unexpected metrics config: %+v", cfg.Metrics)
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	if cfg.Server.Bind != "0.0.0.0:12201" {
		t.Errorf("Expected default bind, got %s", cfg.Server.Bind)
	}
	if cfg.Server.ReadTimeoutDuration() != 100*time.Millisecond {
		t.Errorf("Expected default read timeout 100ms, got %s", cfg.Server.ReadTimeoutDuration())
	}
	if cfg.Receive.MaxMessageSize != 512*1024 {
		t.Errorf("Expected default max message size, got %d", cfg.Receive.MaxMessageSize)
	}
	if len(cfg.Outputs) != 1 || cfg.Outputs[0].Type != "stdout" {
		t.Errorf("Expected default stdout output, got %+v", cfg.Outputs)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SQELF_SERVER_BIND", "127.0.0.1:5555")
	t.Setenv("SQELF_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, "sqelf:\n  log:\n    level: debug\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Server.Bind != "127.0.0.1:5555" {
		t.Errorf("Expected env bind override, got %s", cfg.Server.Bind)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected env log level override, got %s", cfg.Log.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"log level", "sqelf:\n  log:\n    level: verbose\n"},
		{"log format", "sqelf:\n  log:\n    format: xml\n"},
		{"bind", "sqelf:\n  server:\n    bind: nope\n"},
		{"read timeout", "sqelf:\n  server:\n    read_timeout: soon\n"},
		{"zero expiry", "sqelf:\n  receive:\n    incomplete_timeout: 0s\n"},
		{"chunk limit", "sqelf:\n  receive:\n    max_chunks_per_message: 300\n"},
		{"capacity", "sqelf:\n  receive:\n    max_incomplete_messages: 0\n"},
		{"queue", "sqelf:\n  server:\n    queue_capacity: -1\n"},
		{"empty outputs", "sqelf:\n  outputs: []\n"},
		{"output type", "sqelf:\n  outputs:\n    - name: x\n"},
		{"duplicate output", "sqelf:\n  outputs:\n    - type: stdout\n    - type: stdout\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Fatalf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestMemoryWarning(t *testing.T) {
	cfg := &SqelfConfig{Receive: ReceiveConfig{MaxIncompleteMessages: 1024, MaxMessageSize: 1 << 20}}

	if got := cfg.BufferFootprint(); got != 1<<30 {
		t.Errorf("Expected 1GiB footprint, got %d", got)
	}
	if w := cfg.MemoryWarning(8 << 30); w != "" {
		t.Errorf("Expected no warning with 8GiB free, got %q", w)
	}
	if w := cfg.MemoryWarning(1 << 30); w == "" {
		t.Error("Expected warning with 1GiB free")
	}
	if w := cfg.MemoryWarning(0); w != "" {
		t.Errorf("Expected no warning when free memory is unknown, got %q", w)
	}
}
