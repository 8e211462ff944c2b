package registry

import (
	"fmt"
	"os"
	"os/exec"

	"gopkg.in/yaml.v3"

	"github.com/crewfoundry/foreman/pkg/models"
)

// RosterAgent is one agent declaration in the roster file.
type RosterAgent struct {
	// ID is the unique agent identifier.
	ID string `yaml:"id"`
	// Command is the argv used to launch the agent's external process.
	// The work item input is appended as the final argument.
	Command []string `yaml:"command"`
	// Specializations are the disciplines the agent declares.
	Specializations []models.Specialization `yaml:"specializations"`
	// Capacity is the load ceiling, defaulting to 1.0.
	Capacity float64 `yaml:"capacity"`
}

// Roster is the parsed agent roster file.
type Roster struct {
	Agents []RosterAgent `yaml:"agents"`
}

// LoadRoster reads and validates a YAML roster file.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}

	var roster Roster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}

	seen := make(map[string]bool)
	for i := range roster.Agents {
		a := &roster.Agents[i]
		if a.ID == "" {
			return nil, fmt.Errorf("roster agent %d: missing id", i)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("roster agent %q: duplicate id", a.ID)
		}
		seen[a.ID] = true
		if len(a.Command) == 0 {
			return nil, fmt.Errorf("roster agent %q: missing command", a.ID)
		}
		for _, s := range a.Specializations {
			if !s.Kind.Valid() {
				return nil, fmt.Errorf("roster agent %q: unknown specialization kind %q", a.ID, s.Kind)
			}
		}
		if a.Capacity == 0 {
			a.Capacity = 1.0
		}
		if a.Capacity < 0 {
			return nil, fmt.Errorf("roster agent %q: negative capacity", a.ID)
		}
	}

	return &roster, nil
}

// Apply registers every roster agent, skipping IDs already present.
// Returns the number of newly registered agents.
func (r *Registry) Apply(roster *Roster) int {
	added := 0
	for _, a := range roster.Agents {
		if r.Register(a.ID, a.Command, a.Specializations, a.Capacity) {
			added++
		}
	}
	return added
}

// Preflight verifies each roster agent's launch binary is on PATH.
// Returns one error per missing binary; an empty slice means all resolved.
func (roster *Roster) Preflight() []error {
	var errs []error
	for _, a := range roster.Agents {
		if _, err := exec.LookPath(a.Command[0]); err != nil {
			errs = append(errs, fmt.Errorf("agent %q: %q not found in PATH", a.ID, a.Command[0]))
		}
	}
	return errs
}
