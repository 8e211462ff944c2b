package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Pool.MaxConcurrentProcesses != 5 {
		t.Errorf("expected 5 max concurrent processes, got %d", cfg.Pool.MaxConcurrentProcesses)
	}
	if cfg.Monitor.Interval != 500*time.Millisecond {
		t.Errorf("expected 500ms monitor interval, got %s", cfg.Monitor.Interval)
	}
	if cfg.Monitor.StallWindow != 30*time.Minute {
		t.Errorf("expected 30m stall window, got %s", cfg.Monitor.StallWindow)
	}
	if cfg.Registry.OvershootTolerance != 0.2 {
		t.Errorf("expected 0.2 overshoot tolerance, got %v", cfg.Registry.OvershootTolerance)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `pool:
  max_concurrent_processes: 3
  admission_timeout: 30s
limits:
  max_memory_mb: 128
  execution_timeout: 10m
monitor:
  interval: 250ms
history:
  enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Pool.MaxConcurrentProcesses != 3 {
		t.Errorf("expected 3 max concurrent processes, got %d", cfg.Pool.MaxConcurrentProcesses)
	}
	if cfg.Pool.AdmissionTimeout != 30*time.Second {
		t.Errorf("expected 30s admission timeout, got %s", cfg.Pool.AdmissionTimeout)
	}
	if cfg.Limits.MaxMemoryMB != 128 {
		t.Errorf("expected 128 MB ceiling, got %d", cfg.Limits.MaxMemoryMB)
	}
	if cfg.Monitor.Interval != 250*time.Millisecond {
		t.Errorf("expected 250ms interval, got %s", cfg.Monitor.Interval)
	}
	if cfg.History.Enabled {
		t.Error("expected history disabled")
	}

	// Unset keys fall back to defaults
	if cfg.Monitor.StallWindow != 30*time.Minute {
		t.Errorf("expected default stall window, got %s", cfg.Monitor.StallWindow)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero pool size", func(c *Config) { c.Pool.MaxConcurrentProcesses = 0 }},
		{"zero memory ceiling", func(c *Config) { c.Limits.MaxMemoryMB = 0 }},
		{"zero monitor interval", func(c *Config) { c.Monitor.Interval = 0 }},
		{"negative overshoot", func(c *Config) { c.Registry.OvershootTolerance = -0.1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMemoryCeilingBytes(t *testing.T) {
	l := LimitsConfig{MaxMemoryMB: 50}
	if got := l.MemoryCeilingBytes(); got != 50<<20 {
		t.Errorf("expected %d bytes, got %d", 50<<20, got)
	}
}
