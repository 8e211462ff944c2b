package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crewfoundry/foreman/internal/config"
	"github.com/crewfoundry/foreman/internal/history"
	"github.com/crewfoundry/foreman/internal/instruction"
	"github.com/crewfoundry/foreman/internal/match"
	"github.com/crewfoundry/foreman/internal/proc"
	"github.com/crewfoundry/foreman/internal/registry"
	"github.com/crewfoundry/foreman/pkg/models"
)

// ErrNoEligibleAgent indicates no registered agent cleared the match
// threshold for a work item.
var ErrNoEligibleAgent = errors.New("no eligible agent")

// ItemStatus tracks a work item through the assignment table.
type ItemStatus string

const (
	// StatusPending means the item was queued but not yet assigned.
	StatusPending ItemStatus = "pending"
	// StatusInProgress means an agent is executing the item.
	StatusInProgress ItemStatus = "in_progress"
	// StatusCompleted means the item finished and passed the quality gate.
	StatusCompleted ItemStatus = "completed"
	// StatusFailed means the item's execution failed terminally.
	StatusFailed ItemStatus = "failed"
	// StatusUnassigned means no agent could take the item; the
	// reassignment monitor retries these.
	StatusUnassigned ItemStatus = "unassigned"
	// StatusRework means the item completed but the quality gate sent
	// it back for another pass.
	StatusRework ItemStatus = "rework"
)

// Assignment is one row of the coordinator's assignment table.
type Assignment struct {
	// Item is the work item being tracked.
	Item models.WorkItem
	// AgentID is the agent currently or last responsible for the item.
	AgentID string
	// Status is the item's position in the assignment lifecycle.
	Status ItemStatus
	// Attempts counts how many executions were started for this item.
	Attempts int
	// UpdatedAt is when the status last changed.
	UpdatedAt time.Time

	// gen identifies the attempt that owns the row. A terminal result
	// applies only while its generation is current, so a killed
	// execution finishing late cannot overwrite its replacement.
	gen uint64
}

// QualityGate reviews a completed work item. Implementations outside this
// module decide pass/fail; a failing review re-queues the item for rework.
type QualityGate interface {
	Review(item models.WorkItem, result *proc.ExecutionResult) bool
}

// acceptAllGate passes every completed item. Used when no gate is wired.
type acceptAllGate struct{}

func (acceptAllGate) Review(models.WorkItem, *proc.ExecutionResult) bool { return true }

// Option configures a Coordinator at construction.
type Option func(*Coordinator)

// WithHistory wires best-effort SQLite execution logging.
func WithHistory(db *history.DB) Option {
	return func(c *Coordinator) { c.hist = db }
}

// WithQualityGate wires an external quality gate.
func WithQualityGate(g QualityGate) Option {
	return func(c *Coordinator) {
		if g != nil {
			c.gate = g
		}
	}
}

// WithLogger wires a debug logger. The logger also becomes the
// package-level fallback used by sub-components.
func WithLogger(l *DebugLogger) Option {
	return func(c *Coordinator) {
		c.logger = l
		setPackageLogger(l)
	}
}

// Coordinator composes the parser, matcher, registry, and executor into
// the full assignment pipeline. Constructed once; lifecycle owned by the
// caller, who must call Stop when done.
type Coordinator struct {
	cfg     *config.Config
	reg     *registry.Registry
	exec    *proc.Executor
	emitter *EventEmitter
	logger  *DebugLogger
	hist    *history.DB
	gate    QualityGate

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	assignments map[string]*Assignment
}

// New creates a coordinator from configuration. The registry and executor
// are constructed here and owned by the coordinator.
func New(cfg *config.Config, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	reg := registry.New(cfg.Registry.OvershootTolerance)
	exec := proc.NewExecutor(proc.Config{
		MaxConcurrent:      cfg.Pool.MaxConcurrentProcesses,
		AdmissionTimeout:   cfg.Pool.AdmissionTimeout,
		MemoryCeilingBytes: cfg.Limits.MemoryCeilingBytes(),
		TimeCeiling:        cfg.Limits.ExecutionTimeout,
		MonitorInterval:    cfg.Monitor.Interval,
		Niceness:           cfg.Limits.Niceness,
	}, reg)

	c := &Coordinator{
		cfg:         cfg,
		reg:         reg,
		exec:        exec,
		emitter:     NewEventEmitter(256),
		gate:        acceptAllGate{},
		ctx:         ctx,
		cancel:      cancel,
		assignments: make(map[string]*Assignment),
	}

	for _, opt := range opts {
		opt(c)
	}

	exec.Logf = debugLog
	exec.OnOutput = func(agentID, workItemID string, line proc.Line) {
		c.emitter.Emit(Event{
			Type:       EventAgentOutput,
			AgentID:    agentID,
			WorkItemID: workItemID,
			Message:    line.Text,
			Time:       line.At,
		})
	}

	return c
}

// Registry exposes the capability registry for roster loading and live
// reload wiring.
func (c *Coordinator) Registry() *registry.Registry {
	return c.reg
}

// Events returns the coordinator's event stream.
func (c *Coordinator) Events() <-chan Event {
	return c.emitter.Events()
}

// SetSampler overrides the executor's resource sampler. Test hook.
func (c *Coordinator) SetSampler(s proc.Sampler) {
	c.exec.SetSampler(s)
}

// RegisterAgent adds an agent to the registry. Idempotent per agent ID;
// returns false when the ID was already registered.
func (c *Coordinator) RegisterAgent(id string, launchCommand []string, specs []models.Specialization, capacity float64) bool {
	added := c.reg.Register(id, launchCommand, specs, capacity)
	if added {
		debugLog("registered agent %s (capacity %.2f)", id, capacity)
	}
	return added
}

// Submit parses an instruction into a breakdown and queues its work items
// in the assignment table. Pure with respect to execution: nothing runs
// until ExecuteBreakdown or AssignAndExecute is called.
func (c *Coordinator) Submit(instructionText string) *models.InstructionBreakdown {
	breakdown := instruction.Parse(instructionText)

	c.mu.Lock()
	for _, item := range breakdown.Items {
		c.assignments[item.ID] = &Assignment{
			Item:      item,
			Status:    StatusPending,
			UpdatedAt: time.Now(),
		}
	}
	c.mu.Unlock()

	for _, item := range breakdown.Items {
		c.emitter.Emit(Event{
			Type:       EventItemQueued,
			WorkItemID: item.ID,
			Message:    item.Title,
		})
	}

	debugLog("submitted instruction %s: %d items, complexity %.2f",
		breakdown.ID, len(breakdown.Items), breakdown.Complexity)

	return breakdown
}

// loadFraction converts an item's duration estimate into a load fraction,
// treating eight hours as one full capacity slot.
func loadFraction(item models.WorkItem) float64 {
	f := item.EstimatedDuration.Hours() / 8
	if f > 1 {
		return 1
	}
	if f <= 0 {
		return 0.05
	}
	return f
}

// AssignAndExecute matches a work item to the best eligible agent,
// reserves load, and runs the execution to completion. Blocks until the
// execution reaches a terminal state or an assignment-level error occurs.
func (c *Coordinator) AssignAndExecute(ctx context.Context, item models.WorkItem) (*proc.ExecutionResult, error) {
	return c.assignAndExecute(ctx, item, nil, false)
}

func (c *Coordinator) assignAndExecute(ctx context.Context, item models.WorkItem, exclude map[string]bool, emergency bool) (*proc.ExecutionResult, error) {
	res := match.FindBestAgent(c.reg.Snapshot(), item, exclude)
	if !res.Matched() {
		c.markUnassigned(item, "no agent cleared the match threshold")
		return nil, fmt.Errorf("match item %s: %w", item.ID, ErrNoEligibleAgent)
	}

	agentID := res.Profile.ID
	load := loadFraction(item)

	if err := c.reg.Reserve(agentID, load, emergency); err != nil {
		c.markUnassigned(item, fmt.Sprintf("reserve on %s: %v", agentID, err))
		return nil, fmt.Errorf("reserve load on %s: %w", agentID, err)
	}

	gen := c.beginAttempt(item, agentID)
	c.emitter.Emit(Event{
		Type:       EventItemAssigned,
		AgentID:    agentID,
		WorkItemID: item.ID,
		Message:    res.Rationale,
	})
	c.emitter.Emit(Event{
		Type:       EventItemStarted,
		AgentID:    agentID,
		WorkItemID: item.ID,
		Message:    item.Title,
	})

	result, err := c.exec.Execute(ctx, agentID, item, load)
	if err != nil {
		// The execution never got supervised, so the reservation is
		// still ours to roll back.
		if uerr := c.reg.Unreserve(agentID, load); uerr != nil {
			debugLog("unreserve %s after execute error: %v", agentID, uerr)
		}
		c.markUnassigned(item, fmt.Sprintf("execute on %s: %v", agentID, err))
		return nil, fmt.Errorf("execute item %s on %s: %w", item.ID, agentID, err)
	}

	c.finishAssignment(item, result, gen)
	return result, nil
}

// finishAssignment records the terminal outcome of an execution: status
// table update, quality gate review, events, and best-effort history.
// A result from a superseded attempt still reaches history but leaves
// the assignment row (and the event stream) to the current attempt.
func (c *Coordinator) finishAssignment(item models.WorkItem, result *proc.ExecutionResult, gen uint64) {
	if c.hist != nil {
		if err := c.hist.Record(result); err != nil {
			debugLog("history record for item %s: %v", item.ID, err)
		}
	}

	if !result.Success() {
		if !c.settleAttempt(item.ID, result.AgentID, gen, StatusFailed) {
			debugLog("item %s: stale %s result from %s ignored", item.ID, result.State, result.AgentID)
			return
		}
		c.emitter.Emit(Event{
			Type:       EventItemFailed,
			AgentID:    result.AgentID,
			WorkItemID: item.ID,
			Message:    string(result.Reason),
		})
		return
	}

	if !c.gate.Review(item, result) {
		if !c.settleAttempt(item.ID, result.AgentID, gen, StatusRework) {
			debugLog("item %s: stale rework verdict from %s ignored", item.ID, result.AgentID)
			return
		}
		c.emitter.Emit(Event{
			Type:       EventItemRework,
			AgentID:    result.AgentID,
			WorkItemID: item.ID,
			Message:    "quality gate rejected result",
		})
		return
	}

	if !c.settleAttempt(item.ID, result.AgentID, gen, StatusCompleted) {
		debugLog("item %s: stale completed result from %s ignored", item.ID, result.AgentID)
		return
	}
	c.emitter.Emit(Event{
		Type:       EventItemCompleted,
		AgentID:    result.AgentID,
		WorkItemID: item.ID,
		Message:    item.Title,
	})
}

// ExecuteBreakdown runs a breakdown's work items in order. An item whose
// dependencies did not complete is marked unassigned and skipped; the
// reassignment monitor picks it up later. Returns the results of the
// executions that produced one.
func (c *Coordinator) ExecuteBreakdown(ctx context.Context, breakdown *models.InstructionBreakdown) []*proc.ExecutionResult {
	var results []*proc.ExecutionResult

	for _, item := range breakdown.Items {
		if ctx.Err() != nil {
			break
		}

		if blocked, dep := c.blockedOn(item); blocked {
			c.markUnassigned(item, fmt.Sprintf("dependency %s not completed", dep))
			continue
		}

		if !c.claim(item.ID, StatusPending) {
			// Already picked up elsewhere (e.g. monitor retry).
			continue
		}

		result, err := c.assignAndExecute(ctx, item, nil, false)
		if err != nil {
			debugLog("breakdown %s item %s: %v", breakdown.ID, item.ID, err)
			continue
		}
		results = append(results, result)
	}

	return results
}

// blockedOn reports whether any dependency of the item has not completed.
func (c *Coordinator) blockedOn(item models.WorkItem) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, dep := range item.DependsOn {
		a, ok := c.assignments[dep]
		if !ok || a.Status != StatusCompleted {
			return true, dep
		}
	}
	return false, ""
}

// claim atomically transitions an assignment from the given status to
// in-progress. Returns false when the item is not in that status, which
// keeps the breakdown loop and the monitor from double-executing an item.
func (c *Coordinator) claim(itemID string, from ItemStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.assignments[itemID]
	if !ok || a.Status != from {
		return false
	}
	a.Status = StatusInProgress
	a.Attempts++
	a.UpdatedAt = time.Now()
	// Invalidate any still-running earlier attempt: its terminal result
	// must not settle the row the new attempt now owns.
	a.gen++
	return true
}

// beginAttempt marks the row in progress for the given agent and bumps
// its generation. The returned token must accompany the terminal result.
func (c *Coordinator) beginAttempt(item models.WorkItem, agentID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.assignments[item.ID]
	if !ok {
		a = &Assignment{Item: item}
		c.assignments[item.ID] = a
	}
	a.AgentID = agentID
	a.Status = StatusInProgress
	a.UpdatedAt = time.Now()
	a.gen++
	return a.gen
}

// settleAttempt applies a terminal status if the row still belongs to the
// given attempt. Returns false when the attempt was superseded, e.g. by a
// reassignment that killed its process.
func (c *Coordinator) settleAttempt(itemID, agentID string, gen uint64, status ItemStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.assignments[itemID]
	if !ok || a.gen != gen || a.AgentID != agentID || a.Status != StatusInProgress {
		return false
	}
	a.Status = status
	a.UpdatedAt = time.Now()
	return true
}

func (c *Coordinator) markUnassigned(item models.WorkItem, reason string) {
	c.mu.Lock()
	a, ok := c.assignments[item.ID]
	if !ok {
		a = &Assignment{Item: item}
		c.assignments[item.ID] = a
	}
	a.Status = StatusUnassigned
	a.UpdatedAt = time.Now()
	c.mu.Unlock()

	c.emitter.Emit(Event{
		Type:       EventItemUnassigned,
		WorkItemID: item.ID,
		Message:    reason,
	})
	debugLog("item %s unassigned: %s", item.ID, reason)
}

// Assignments returns a snapshot of the assignment table.
func (c *Coordinator) Assignments() []Assignment {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Assignment, 0, len(c.assignments))
	for _, a := range c.assignments {
		out = append(out, *a)
	}
	return out
}

// Assignment returns the tracked state of one work item.
func (c *Coordinator) Assignment(itemID string) (Assignment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.assignments[itemID]
	if !ok {
		return Assignment{}, false
	}
	return *a, true
}

// GetAgentState returns the process record for one agent.
func (c *Coordinator) GetAgentState(agentID string) (models.ProcessRecord, error) {
	return c.reg.Record(agentID)
}

// GetAllAgentStates returns process records for every registered agent,
// in registration order.
func (c *Coordinator) GetAllAgentStates() []models.ProcessRecord {
	return c.reg.Records()
}

// TerminateAgent force-stops an agent's running process. Returns false
// when the agent had nothing running.
func (c *Coordinator) TerminateAgent(agentID string) bool {
	killed := c.exec.Terminate(agentID)
	if killed {
		c.emitter.Emit(Event{
			Type:    EventAgentTerminated,
			AgentID: agentID,
			Message: "terminated by operator",
		})
	}
	return killed
}

// TerminateAll force-stops every running agent process.
func (c *Coordinator) TerminateAll() {
	c.exec.TerminateAll()
}

// Stop raises the coordinator-wide cancellation signal, terminates all
// running processes, and waits for background loops to drain.
func (c *Coordinator) Stop() {
	c.cancel()
	c.exec.TerminateAll()
	c.wg.Wait()
	c.emitter.Close()
}
