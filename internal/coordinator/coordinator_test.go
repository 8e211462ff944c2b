package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crewfoundry/foreman/internal/config"
	"github.com/crewfoundry/foreman/internal/proc"
	"github.com/crewfoundry/foreman/internal/registry"
	"github.com/crewfoundry/foreman/pkg/models"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Pool.MaxConcurrentProcesses = 3
	cfg.Pool.AdmissionTimeout = 2 * time.Second
	cfg.Limits.ExecutionTimeout = 30 * time.Second
	cfg.Monitor.Interval = 20 * time.Millisecond
	cfg.Monitor.ScanInterval = 50 * time.Millisecond
	return cfg
}

func devSpec() []models.Specialization {
	return []models.Specialization{{Kind: models.SpecDevelopment}}
}

func testingSpec() []models.Specialization {
	return []models.Specialization{{Kind: models.SpecTesting}}
}

func echoCommand() []string {
	return []string{"sh", "-c", "echo done"}
}

func sleepCommand(seconds string) []string {
	return []string{"sh", "-c", "sleep " + seconds}
}

func devItem(id string) models.WorkItem {
	return models.WorkItem{
		ID:                id,
		Title:             "Implement the widget",
		Required:          models.Specialization{Kind: models.SpecDevelopment},
		EstimatedDuration: 4 * time.Hour,
		Priority:          models.PriorityMedium,
	}
}

// waitForStatus polls the assignment table until the item reaches the
// wanted status or the deadline passes.
func waitForStatus(t *testing.T, c *Coordinator, itemID string, want ItemStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if a, ok := c.Assignment(itemID); ok && a.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	a, _ := c.Assignment(itemID)
	t.Fatalf("item %s status = %q, want %q", itemID, a.Status, want)
}

// drainEventTypes empties the event channel without blocking and returns
// the set of observed event types.
func drainEventTypes(c *Coordinator) map[EventType]int {
	seen := make(map[EventType]int)
	for {
		select {
		case evt := <-c.Events():
			seen[evt.Type]++
		default:
			return seen
		}
	}
}

func TestSubmitQueuesItems(t *testing.T) {
	c := New(testConfig())
	defer c.Stop()

	breakdown := c.Submit("Implement the login API. Test the login API.")

	if len(breakdown.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(breakdown.Items))
	}
	if breakdown.Items[0].Required.Kind != models.SpecDevelopment {
		t.Errorf("first item kind = %s, want development", breakdown.Items[0].Required.Kind)
	}
	if breakdown.Items[1].Required.Kind != models.SpecTesting {
		t.Errorf("second item kind = %s, want testing", breakdown.Items[1].Required.Kind)
	}

	for _, item := range breakdown.Items {
		a, ok := c.Assignment(item.ID)
		if !ok {
			t.Fatalf("item %s missing from assignment table", item.ID)
		}
		if a.Status != StatusPending {
			t.Errorf("item %s status = %q, want pending", item.ID, a.Status)
		}
	}

	seen := drainEventTypes(c)
	if seen[EventItemQueued] != 2 {
		t.Errorf("expected 2 item_queued events, got %d", seen[EventItemQueued])
	}
}

func TestSubmitEmptyInstruction(t *testing.T) {
	c := New(testConfig())
	defer c.Stop()

	breakdown := c.Submit("   \n  ")
	if !breakdown.Empty() {
		t.Errorf("expected empty breakdown, got %d items", len(breakdown.Items))
	}
	if len(c.Assignments()) != 0 {
		t.Errorf("expected empty assignment table, got %d rows", len(c.Assignments()))
	}
}

func TestAssignAndExecuteCompletes(t *testing.T) {
	c := New(testConfig())
	defer c.Stop()

	if !c.RegisterAgent("agent-1", echoCommand(), devSpec(), 1.0) {
		t.Fatal("register failed")
	}

	item := devItem("item-1")
	result, err := c.AssignAndExecute(context.Background(), item)
	if err != nil {
		t.Fatalf("AssignAndExecute: %v", err)
	}
	if !result.Success() {
		t.Fatalf("state = %s (reason %s), want completed", result.State, result.Reason)
	}
	if result.AgentID != "agent-1" {
		t.Errorf("agent = %s, want agent-1", result.AgentID)
	}

	a, _ := c.Assignment("item-1")
	if a.Status != StatusCompleted {
		t.Errorf("assignment status = %q, want completed", a.Status)
	}

	profile, err := c.Registry().Profile("agent-1")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.CurrentLoad != 0 {
		t.Errorf("load not released: %f", profile.CurrentLoad)
	}
	if profile.CompletedTasks != 1 {
		t.Errorf("completed tasks = %d, want 1", profile.CompletedTasks)
	}

	seen := drainEventTypes(c)
	for _, want := range []EventType{EventItemAssigned, EventItemStarted, EventItemCompleted} {
		if seen[want] == 0 {
			t.Errorf("missing %s event", want)
		}
	}
}

func TestAssignAndExecuteNoAgent(t *testing.T) {
	c := New(testConfig())
	defer c.Stop()

	_, err := c.AssignAndExecute(context.Background(), devItem("item-1"))
	if !errors.Is(err, ErrNoEligibleAgent) {
		t.Fatalf("err = %v, want ErrNoEligibleAgent", err)
	}

	a, ok := c.Assignment("item-1")
	if !ok || a.Status != StatusUnassigned {
		t.Errorf("assignment status = %q, want unassigned", a.Status)
	}

	seen := drainEventTypes(c)
	if seen[EventItemUnassigned] == 0 {
		t.Error("missing item_unassigned event")
	}
}

func TestAssignAndExecuteCapacityRejected(t *testing.T) {
	c := New(testConfig())
	defer c.Stop()

	c.RegisterAgent("agent-1", echoCommand(), devSpec(), 1.0)

	// Occupy most of the agent's capacity so a 0.6-load item cannot fit.
	if err := c.Registry().Reserve("agent-1", 0.6, false); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	item := devItem("item-1")
	item.EstimatedDuration = time.Duration(4.8 * float64(time.Hour)) // 0.6 load

	_, err := c.AssignAndExecute(context.Background(), item)
	if !errors.Is(err, registry.ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}

	a, _ := c.Assignment("item-1")
	if a.Status != StatusUnassigned {
		t.Errorf("assignment status = %q, want unassigned", a.Status)
	}

	// The failed reservation must not leak load.
	profile, _ := c.Registry().Profile("agent-1")
	if profile.CurrentLoad != 0.6 {
		t.Errorf("load = %f, want 0.6", profile.CurrentLoad)
	}
}

func TestAssignAndExecuteFailure(t *testing.T) {
	c := New(testConfig())
	defer c.Stop()

	c.RegisterAgent("agent-1", []string{"sh", "-c", "exit 3"}, devSpec(), 1.0)

	result, err := c.AssignAndExecute(context.Background(), devItem("item-1"))
	if err != nil {
		t.Fatalf("AssignAndExecute: %v", err)
	}
	if result.State != models.StateFailed || result.Reason != models.ReasonNonZeroExit {
		t.Errorf("state = %s/%s, want failed/nonzero_exit", result.State, result.Reason)
	}

	a, _ := c.Assignment("item-1")
	if a.Status != StatusFailed {
		t.Errorf("assignment status = %q, want failed", a.Status)
	}

	seen := drainEventTypes(c)
	if seen[EventItemFailed] == 0 {
		t.Error("missing item_failed event")
	}
}

func TestExecuteBreakdownRoundTrip(t *testing.T) {
	c := New(testConfig())
	defer c.Stop()

	c.RegisterAgent("dev-1", echoCommand(), devSpec(), 1.0)
	c.RegisterAgent("qa-1", echoCommand(), testingSpec(), 1.0)

	breakdown := c.Submit("Implement the login API. Test the login API.")
	results := c.ExecuteBreakdown(context.Background(), breakdown)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, res := range results {
		if !res.Success() {
			t.Errorf("item %s on %s: state %s", res.WorkItemID, res.AgentID, res.State)
		}
	}
	for _, item := range breakdown.Items {
		a, _ := c.Assignment(item.ID)
		if a.Status != StatusCompleted {
			t.Errorf("item %s status = %q, want completed", item.ID, a.Status)
		}
	}
}

func TestExecuteBreakdownBlockedDependency(t *testing.T) {
	c := New(testConfig())
	defer c.Stop()

	c.RegisterAgent("agent-1", echoCommand(), devSpec(), 1.0)

	breakdown := c.Submit("Implement the parser.")
	if len(breakdown.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(breakdown.Items))
	}

	// Give the item a dependency that never completes.
	blocked := breakdown.Items[0]
	blocked.DependsOn = []string{"missing-item"}
	c.mu.Lock()
	c.assignments[blocked.ID].Item = blocked
	c.mu.Unlock()
	breakdown.Items[0] = blocked

	results := c.ExecuteBreakdown(context.Background(), breakdown)
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}

	a, _ := c.Assignment(blocked.ID)
	if a.Status != StatusUnassigned {
		t.Errorf("status = %q, want unassigned", a.Status)
	}
}

// rejectOnceGate fails the first review and passes every later one.
type rejectOnceGate struct {
	mu       sync.Mutex
	rejected bool
}

func (g *rejectOnceGate) Review(models.WorkItem, *proc.ExecutionResult) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.rejected {
		g.rejected = true
		return false
	}
	return true
}

func TestQualityGateRework(t *testing.T) {
	gate := &rejectOnceGate{}
	c := New(testConfig(), WithQualityGate(gate))
	defer c.Stop()

	c.RegisterAgent("agent-1", echoCommand(), devSpec(), 1.0)

	result, err := c.AssignAndExecute(context.Background(), devItem("item-1"))
	if err != nil {
		t.Fatalf("AssignAndExecute: %v", err)
	}
	if !result.Success() {
		t.Fatalf("state = %s, want completed", result.State)
	}

	a, _ := c.Assignment("item-1")
	if a.Status != StatusRework {
		t.Fatalf("status = %q, want rework", a.Status)
	}

	// The monitor re-runs rework items until the gate passes. The only
	// registered agent is excluded on the first rework pass, so two
	// cycles may be needed.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.scanOnce()
		if a, _ := c.Assignment("item-1"); a.Status == StatusCompleted {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	waitForStatus(t, c, "item-1", StatusCompleted)
}

func TestTerminateAgent(t *testing.T) {
	c := New(testConfig())
	defer c.Stop()

	c.RegisterAgent("agent-1", sleepCommand("30"), devSpec(), 1.0)

	done := make(chan *proc.ExecutionResult, 1)
	go func() {
		result, err := c.AssignAndExecute(context.Background(), devItem("item-1"))
		if err != nil {
			t.Errorf("AssignAndExecute: %v", err)
			done <- nil
			return
		}
		done <- result
	}()

	// Wait for the process to actually be running.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if record, err := c.GetAgentState("agent-1"); err == nil && record.State == models.StateRunning && record.PID > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !c.TerminateAgent("agent-1") {
		t.Fatal("TerminateAgent returned false for a running agent")
	}

	result := <-done
	if result == nil {
		t.Fatal("no result")
	}
	if result.State != models.StateTerminated {
		t.Errorf("state = %s, want terminated", result.State)
	}

	if c.TerminateAgent("agent-1") {
		t.Error("TerminateAgent returned true for an idle agent")
	}
}

func TestRegisterAgentIdempotent(t *testing.T) {
	c := New(testConfig())
	defer c.Stop()

	if !c.RegisterAgent("agent-1", echoCommand(), devSpec(), 1.0) {
		t.Fatal("first register failed")
	}
	if c.RegisterAgent("agent-1", echoCommand(), devSpec(), 2.0) {
		t.Error("second register with same ID should return false")
	}
	if len(c.GetAllAgentStates()) != 1 {
		t.Errorf("expected 1 record, got %d", len(c.GetAllAgentStates()))
	}
}
