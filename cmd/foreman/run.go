package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/crewfoundry/foreman/internal/config"
	"github.com/crewfoundry/foreman/internal/coordinator"
	"github.com/crewfoundry/foreman/internal/history"
	"github.com/crewfoundry/foreman/internal/registry"
)

var (
	runWatch   bool
	runVerbose bool
	runLogPath string
)

var runCmd = &cobra.Command{
	Use:   "run <instruction>",
	Short: "Submit an instruction and execute its work items",
	Long: `Parse an instruction into work items and execute each on the best
matching roster agent.

The instruction is split on sentence boundaries; each fragment becomes a
work item with a detected specialization (development, testing, UX design,
or project management), priority, and duration estimate. Items run in
order under the configured concurrency pool, and the reassignment monitor
moves stalled or failed items to replacement agents.

Agents come from the roster file (default foreman.agents.yaml); use
--watch to pick up roster edits while running.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInstruction,
}

func init() {
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Reload the roster file on change while running")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print live agent output")
	runCmd.Flags().StringVar(&runLogPath, "log", "", "Write debug log to this file")
}

func runInstruction(cmd *cobra.Command, args []string) error {
	instructionText := strings.Join(args, " ")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	roster, err := registry.LoadRoster(rosterPath)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	if errs := roster.Preflight(); len(errs) > 0 {
		for _, perr := range errs {
			color.Yellow("warning: %v", perr)
		}
	}

	var opts []coordinator.Option

	if runLogPath != "" {
		logger, err := coordinator.NewDebugLogger(runLogPath)
		if err != nil {
			return fmt.Errorf("open debug log: %w", err)
		}
		defer logger.Close()
		opts = append(opts, coordinator.WithLogger(logger))
	}

	if cfg.History.Enabled {
		path := cfg.History.Path
		if path == "" {
			path = history.DefaultPath()
		}
		db, err := history.Open(path)
		if err != nil {
			color.Yellow("warning: history disabled: %v", err)
		} else {
			defer db.Close()
			opts = append(opts, coordinator.WithHistory(db))
		}
	}

	coord := coordinator.New(cfg, opts...)
	defer coord.Stop()

	added := coord.Registry().Apply(roster)
	fmt.Printf("Registered %d agents from %s\n", added, rosterPath)

	if runWatch {
		watcher, err := registry.NewRosterWatcher(coord.Registry(), rosterPath)
		if err != nil {
			return fmt.Errorf("watch roster: %w", err)
		}
		defer watcher.Close()
		watcher.SetOnReload(func(added int, err error) {
			if err != nil {
				color.Yellow("roster reload: %v", err)
				return
			}
			if added > 0 {
				fmt.Printf("Roster reloaded: %d new agents\n", added)
			}
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		color.Yellow("\nInterrupted, terminating running agents...")
		coord.TerminateAll()
		cancel()
	}()

	go printEvents(coord)

	breakdown := coord.Submit(instructionText)
	if breakdown.Empty() {
		fmt.Println("Nothing to do: the instruction produced no work items.")
		return nil
	}

	fmt.Printf("Breakdown %s: %d items, complexity %.2f\n\n",
		breakdown.ID, len(breakdown.Items), breakdown.Complexity)

	coord.StartMonitor()
	results := coord.ExecuteBreakdown(ctx, breakdown)

	fmt.Println()
	completed, failed := 0, 0
	for _, res := range results {
		if res.Success() {
			completed++
		} else {
			failed++
		}
	}
	unfinished := len(breakdown.Items) - len(results)

	if failed == 0 && unfinished == 0 {
		color.Green("All %d items completed.", completed)
	} else {
		color.Yellow("%d completed, %d failed, %d not executed.", completed, failed, unfinished)
	}
	return nil
}

// printEvents renders coordinator events until the stream closes.
func printEvents(coord *coordinator.Coordinator) {
	for evt := range coord.Events() {
		switch evt.Type {
		case coordinator.EventItemAssigned:
			fmt.Printf("%s %s -> %s (%s)\n", color.CyanString("assign"), evt.WorkItemID, evt.AgentID, evt.Message)
		case coordinator.EventItemCompleted:
			fmt.Printf("%s %s (%s)\n", color.GreenString("done"), evt.WorkItemID, evt.Message)
		case coordinator.EventItemFailed:
			fmt.Printf("%s %s on %s: %s\n", color.RedString("failed"), evt.WorkItemID, evt.AgentID, evt.Message)
		case coordinator.EventItemUnassigned:
			fmt.Printf("%s %s: %s\n", color.YellowString("unassigned"), evt.WorkItemID, evt.Message)
		case coordinator.EventItemReassigned:
			fmt.Printf("%s %s away from %s: %s\n", color.YellowString("reassign"), evt.WorkItemID, evt.AgentID, evt.Message)
		case coordinator.EventItemRework:
			fmt.Printf("%s %s: %s\n", color.YellowString("rework"), evt.WorkItemID, evt.Message)
		case coordinator.EventAgentTerminated:
			fmt.Printf("%s %s: %s\n", color.RedString("terminated"), evt.AgentID, evt.Message)
		case coordinator.EventAgentOutput:
			if runVerbose {
				fmt.Printf("  [%s] %s\n", evt.AgentID, evt.Message)
			}
		}
	}
}
