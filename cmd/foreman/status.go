package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/crewfoundry/foreman/internal/config"
	"github.com/crewfoundry/foreman/internal/history"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent execution history",
	Long: `Display recent agent executions from the history database: which agent
ran which work item, the terminal state, and the failure reason if any.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "Maximum number of executions to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	path := cfg.History.Path
	if path == "" {
		path = history.DefaultPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Println("No execution history. Run 'foreman run <instruction>' to start.")
		return nil
	}

	db, err := history.Open(path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer db.Close()

	entries, err := db.Recent(statusLimit)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No execution history yet.")
		return nil
	}

	for _, e := range entries {
		state := e.State
		switch state {
		case "completed":
			state = color.GreenString(state)
		case "failed":
			state = color.RedString(state)
		case "terminated":
			state = color.YellowString(state)
		}

		line := fmt.Sprintf("%s  %-12s item %s on %s",
			e.EndedAt.Format("2006-01-02 15:04:05"), state, e.WorkItemID, e.AgentID)
		if e.Reason != "" {
			line += fmt.Sprintf(" (%s)", e.Reason)
		}
		fmt.Println(line)
	}

	return nil
}
