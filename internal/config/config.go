// Package config handles configuration loading and management for Foreman.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Foreman.
type Config struct {
	Pool     PoolConfig     `mapstructure:"pool"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Registry RegistryConfig `mapstructure:"registry"`
	History  HistoryConfig  `mapstructure:"history"`
}

// PoolConfig holds admission control settings for the process pool.
type PoolConfig struct {
	// MaxConcurrentProcesses bounds how many agent processes may run at once.
	MaxConcurrentProcesses int `mapstructure:"max_concurrent_processes"`
	// AdmissionTimeout is the hard deadline for acquiring a pool slot.
	AdmissionTimeout time.Duration `mapstructure:"admission_timeout"`
}

// LimitsConfig holds per-process resource ceilings.
type LimitsConfig struct {
	// MaxMemoryMB is the resident memory ceiling per agent process.
	MaxMemoryMB int `mapstructure:"max_memory_mb"`
	// MaxCpuPercent is the CPU utilization ceiling per agent process.
	MaxCpuPercent float64 `mapstructure:"max_cpu_percent"`
	// ExecutionTimeout is the wall-clock ceiling per execution.
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
	// Niceness is the scheduling priority applied to spawned processes.
	Niceness int `mapstructure:"niceness"`
}

// MonitorConfig holds resource-monitoring and reassignment-scan settings.
type MonitorConfig struct {
	// Interval is the resource polling interval for running processes.
	Interval time.Duration `mapstructure:"interval"`
	// StallWindow is how long a running work item may show no progress
	// before being flagged for reassignment.
	StallWindow time.Duration `mapstructure:"stall_window"`
	// ScanInterval is the cadence of the reassignment monitor.
	ScanInterval time.Duration `mapstructure:"scan_interval"`
}

// RegistryConfig holds capability registry settings.
type RegistryConfig struct {
	// OvershootTolerance is the extra load allowed beyond an agent's
	// capacity, used only for emergency reassignment.
	OvershootTolerance float64 `mapstructure:"overshoot_tolerance"`
}

// HistoryConfig holds execution history settings.
type HistoryConfig struct {
	// Enabled toggles best-effort SQLite logging of terminal executions.
	Enabled bool `mapstructure:"enabled"`
	// Path overrides the default database location.
	Path string `mapstructure:"path"`
}

// MemoryCeilingBytes returns the memory ceiling in bytes.
func (l LimitsConfig) MemoryCeilingBytes() uint64 {
	return uint64(l.MaxMemoryMB) << 20
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (FOREMAN_*)
// 2. Project config (.foreman.yaml in current directory or parent)
// 3. User config (~/.config/foreman/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("FOREMAN")
	v.AutomaticEnv()
	v.BindEnv("pool.max_concurrent_processes", "FOREMAN_MAX_CONCURRENT_PROCESSES")
	v.BindEnv("limits.max_memory_mb", "FOREMAN_MAX_MEMORY_MB")
	v.BindEnv("limits.max_cpu_percent", "FOREMAN_MAX_CPU_PERCENT")
	v.BindEnv("monitor.interval", "FOREMAN_MONITORING_INTERVAL")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Pool.MaxConcurrentProcesses < 1 {
		return fmt.Errorf("pool.max_concurrent_processes must be at least 1, got %d", c.Pool.MaxConcurrentProcesses)
	}
	if c.Limits.MaxMemoryMB < 1 {
		return fmt.Errorf("limits.max_memory_mb must be at least 1, got %d", c.Limits.MaxMemoryMB)
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive, got %s", c.Monitor.Interval)
	}
	if c.Registry.OvershootTolerance < 0 {
		return fmt.Errorf("registry.overshoot_tolerance must not be negative, got %v", c.Registry.OvershootTolerance)
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	// Admission control defaults
	v.SetDefault("pool.max_concurrent_processes", 5)
	v.SetDefault("pool.admission_timeout", "2m")

	// Resource ceiling defaults
	v.SetDefault("limits.max_memory_mb", 512)
	v.SetDefault("limits.max_cpu_percent", 80.0)
	v.SetDefault("limits.execution_timeout", "1h")
	v.SetDefault("limits.niceness", 10)

	// Monitoring defaults
	v.SetDefault("monitor.interval", "500ms")
	v.SetDefault("monitor.stall_window", "30m")
	v.SetDefault("monitor.scan_interval", "1m")

	// Registry defaults
	v.SetDefault("registry.overshoot_tolerance", 0.2)

	// History defaults
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")
}

// getUserConfigDir returns the XDG config directory for Foreman.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "foreman")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "foreman")
	}
	return filepath.Join(home, ".config", "foreman")
}

// findProjectConfig searches for .foreman.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".foreman.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			MaxConcurrentProcesses: 5,
			AdmissionTimeout:       2 * time.Minute,
		},
		Limits: LimitsConfig{
			MaxMemoryMB:      512,
			MaxCpuPercent:    80.0,
			ExecutionTimeout: time.Hour,
			Niceness:         10,
		},
		Monitor: MonitorConfig{
			Interval:     500 * time.Millisecond,
			StallWindow:  30 * time.Minute,
			ScanInterval: time.Minute,
		},
		Registry: RegistryConfig{
			OvershootTolerance: 0.2,
		},
		History: HistoryConfig{
			Enabled: true,
		},
	}
}
