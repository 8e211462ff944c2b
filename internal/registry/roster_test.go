package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crewfoundry/foreman/pkg/models"
)

const sampleRoster = `agents:
  - id: backend-dev
    command: [claude, -p]
    specializations:
      - kind: development
        tags: [go, api]
    capacity: 1.0
  - id: qa-bot
    command: [claude, -p]
    specializations:
      - kind: testing
        tags: [unit, integration]
`

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "foreman.agents.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write roster: %v", err)
	}
	return path
}

func TestLoadRoster(t *testing.T) {
	path := writeRoster(t, sampleRoster)

	roster, err := LoadRoster(path)
	if err != nil {
		t.Fatalf("LoadRoster: %v", err)
	}

	if len(roster.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(roster.Agents))
	}
	if roster.Agents[0].ID != "backend-dev" {
		t.Errorf("expected backend-dev first, got %s", roster.Agents[0].ID)
	}
	if roster.Agents[0].Specializations[0].Kind != models.SpecDevelopment {
		t.Errorf("expected development kind, got %s", roster.Agents[0].Specializations[0].Kind)
	}

	// Capacity defaults to 1.0 when omitted.
	if roster.Agents[1].Capacity != 1.0 {
		t.Errorf("expected default capacity 1.0, got %v", roster.Agents[1].Capacity)
	}
}

func TestLoadRosterRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing id", "agents:\n  - command: [run]\n"},
		{"missing command", "agents:\n  - id: a1\n"},
		{"duplicate id", "agents:\n  - id: a1\n    command: [run]\n  - id: a1\n    command: [run]\n"},
		{"bad kind", "agents:\n  - id: a1\n    command: [run]\n    specializations:\n      - kind: wizardry\n"},
		{"negative capacity", "agents:\n  - id: a1\n    command: [run]\n    capacity: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRoster(t, tt.content)
			if _, err := LoadRoster(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestApplyIdempotent(t *testing.T) {
	path := writeRoster(t, sampleRoster)
	roster, err := LoadRoster(path)
	if err != nil {
		t.Fatalf("LoadRoster: %v", err)
	}

	r := New(0)
	if added := r.Apply(roster); added != 2 {
		t.Errorf("first apply: expected 2 added, got %d", added)
	}
	if added := r.Apply(roster); added != 0 {
		t.Errorf("second apply: expected 0 added, got %d", added)
	}
	if r.Count() != 2 {
		t.Errorf("expected 2 agents, got %d", r.Count())
	}
}

func TestRosterWatcherRegistersNewAgents(t *testing.T) {
	path := writeRoster(t, sampleRoster)
	roster, err := LoadRoster(path)
	if err != nil {
		t.Fatalf("LoadRoster: %v", err)
	}

	r := New(0)
	r.Apply(roster)

	w, err := NewRosterWatcher(r, path)
	if err != nil {
		t.Fatalf("NewRosterWatcher: %v", err)
	}
	defer w.Close()

	updated := sampleRoster + `  - id: ux-bot
    command: [claude, -p]
    specializations:
      - kind: ux_design
`
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("rewrite roster: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for r.Count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("watcher did not register new agent, count=%d", r.Count())
		}
		time.Sleep(20 * time.Millisecond)
	}

	if _, err := r.Profile("ux-bot"); err != nil {
		t.Errorf("expected ux-bot registered: %v", err)
	}
}
