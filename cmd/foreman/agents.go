package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/crewfoundry/foreman/internal/registry"
)

var agentsPreflight bool

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Show the agent roster",
	Long: `Display the agents declared in the roster file, their specializations,
and capacities. With --preflight, also verify each agent's launch command
resolves on PATH.`,
	RunE: runAgents,
}

func init() {
	agentsCmd.Flags().BoolVar(&agentsPreflight, "preflight", false, "Verify launch commands resolve on PATH")
}

func runAgents(cmd *cobra.Command, args []string) error {
	roster, err := registry.LoadRoster(rosterPath)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}

	if len(roster.Agents) == 0 {
		fmt.Println("Roster is empty.")
		return nil
	}

	for _, a := range roster.Agents {
		specs := make([]string, 0, len(a.Specializations))
		for _, s := range a.Specializations {
			label := string(s.Kind)
			if len(s.Tags) > 0 {
				label += "[" + strings.Join(s.Tags, ",") + "]"
			}
			specs = append(specs, label)
		}
		fmt.Printf("%s  capacity %.1f  %s\n",
			color.CyanString("%-16s", a.ID), a.Capacity, strings.Join(specs, " "))
		fmt.Printf("  command: %s\n", strings.Join(a.Command, " "))
	}

	if agentsPreflight {
		fmt.Println()
		if errs := roster.Preflight(); len(errs) > 0 {
			for _, perr := range errs {
				printStatus("✗", perr.Error(), color.FgRed)
			}
			return fmt.Errorf("%d agents failed preflight", len(errs))
		}
		printStatus("✓", "All launch commands resolve", color.FgGreen)
	}

	return nil
}

func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
