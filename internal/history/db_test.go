package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/crewfoundry/foreman/internal/proc"
	"github.com/crewfoundry/foreman/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndRecent(t *testing.T) {
	db := openTestDB(t)

	started := time.Now().Add(-time.Minute)
	results := []*proc.ExecutionResult{
		{
			AgentID:    "agent-1",
			WorkItemID: "w1",
			State:      models.StateCompleted,
			ExitCode:   0,
			Output:     "all good",
			StartedAt:  started,
			EndedAt:    started.Add(30 * time.Second),
		},
		{
			AgentID:    "agent-2",
			WorkItemID: "w2",
			State:      models.StateFailed,
			Reason:     models.ReasonMemoryCeiling,
			ExitCode:   -1,
			StartedAt:  started,
			EndedAt:    started.Add(10 * time.Second),
		},
	}

	for _, res := range results {
		if err := db.Record(res); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	entries, err := db.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	// Newest first.
	if entries[0].AgentID != "agent-2" {
		t.Errorf("expected agent-2 first, got %s", entries[0].AgentID)
	}
	if entries[0].Reason != string(models.ReasonMemoryCeiling) {
		t.Errorf("expected ceiling reason, got %q", entries[0].Reason)
	}
	if entries[1].State != string(models.StateCompleted) {
		t.Errorf("expected completed state, got %q", entries[1].State)
	}
}

func TestRecentRespectsLimit(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 5; i++ {
		res := &proc.ExecutionResult{
			AgentID:    "agent-1",
			WorkItemID: "w",
			State:      models.StateCompleted,
			StartedAt:  time.Now(),
			EndedAt:    time.Now(),
		}
		if err := db.Record(res); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	entries, err := db.Recent(3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("expected 3 entries, got %d", len(entries))
	}
}

func TestOutputTailTruncation(t *testing.T) {
	long := make([]byte, 10000)
	for i := range long {
		long[i] = 'x'
	}

	if got := tail(string(long), 4096); len(got) != 4096 {
		t.Errorf("expected 4096 byte tail, got %d", len(got))
	}
	if got := tail("short", 4096); got != "short" {
		t.Errorf("short output should be untouched, got %q", got)
	}
}
