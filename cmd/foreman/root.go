package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rosterPath string

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Agent coordination engine",
	Long: `Foreman decomposes operator instructions into specialized work items,
matches them against a roster of external agent processes, and supervises
their execution under memory and time ceilings.

Core capabilities:
- Splits instructions into sentence-level work items with detected
  specialization, priority, and duration estimates
- Scores every registered agent on specialization fit, current load,
  success history, and assignment recency
- Runs agent processes under a bounded concurrency pool with resource
  monitoring and forced termination on ceiling breach
- Reassigns stalled or failed work to replacement agents on a fixed cadence`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rosterPath, "roster", "foreman.agents.yaml", "Path to the agent roster file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
