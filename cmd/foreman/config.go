package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crewfoundry/foreman/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show effective configuration",
	Long: `Display the effective configuration after merging defaults, the user
config file, the project-local .foreman.yaml, and FOREMAN_* environment
variables.

Without arguments, displays all values. With one argument, displays the
value for that key.

Configuration is stored at ~/.config/foreman/config.yaml
Project-specific overrides can be placed in .foreman.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		if len(args) == 0 {
			displayAllConfig(cfg)
			return
		}
		displayConfigKey(cfg, args[0])
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("pool.max_concurrent_processes: %d\n", cfg.Pool.MaxConcurrentProcesses)
	fmt.Printf("pool.admission_timeout: %s\n", cfg.Pool.AdmissionTimeout)
	fmt.Printf("limits.max_memory_mb: %d\n", cfg.Limits.MaxMemoryMB)
	fmt.Printf("limits.max_cpu_percent: %.0f\n", cfg.Limits.MaxCpuPercent)
	fmt.Printf("limits.execution_timeout: %s\n", cfg.Limits.ExecutionTimeout)
	fmt.Printf("limits.niceness: %d\n", cfg.Limits.Niceness)
	fmt.Printf("monitor.interval: %s\n", cfg.Monitor.Interval)
	fmt.Printf("monitor.stall_window: %s\n", cfg.Monitor.StallWindow)
	fmt.Printf("monitor.scan_interval: %s\n", cfg.Monitor.ScanInterval)
	fmt.Printf("registry.overshoot_tolerance: %.2f\n", cfg.Registry.OvershootTolerance)
	fmt.Printf("history.enabled: %t\n", cfg.History.Enabled)
	fmt.Printf("history.path: %s\n", cfg.History.Path)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	var value string
	switch key {
	case "pool.max_concurrent_processes":
		value = fmt.Sprintf("%d", cfg.Pool.MaxConcurrentProcesses)
	case "pool.admission_timeout":
		value = cfg.Pool.AdmissionTimeout.String()
	case "limits.max_memory_mb":
		value = fmt.Sprintf("%d", cfg.Limits.MaxMemoryMB)
	case "limits.max_cpu_percent":
		value = fmt.Sprintf("%.0f", cfg.Limits.MaxCpuPercent)
	case "limits.execution_timeout":
		value = cfg.Limits.ExecutionTimeout.String()
	case "limits.niceness":
		value = fmt.Sprintf("%d", cfg.Limits.Niceness)
	case "monitor.interval":
		value = cfg.Monitor.Interval.String()
	case "monitor.stall_window":
		value = cfg.Monitor.StallWindow.String()
	case "monitor.scan_interval":
		value = cfg.Monitor.ScanInterval.String()
	case "registry.overshoot_tolerance":
		value = fmt.Sprintf("%.2f", cfg.Registry.OvershootTolerance)
	case "history.enabled":
		value = fmt.Sprintf("%t", cfg.History.Enabled)
	case "history.path":
		value = cfg.History.Path
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown config key: %s\n", key)
		os.Exit(1)
	}
	fmt.Println(value)
}
