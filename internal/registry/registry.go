// Package registry maintains the in-memory table of agent capability
// profiles and process records. Each agent's state is guarded by its own
// lock so unrelated agents' updates never serialize against each other.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crewfoundry/foreman/pkg/models"
)

// ErrUnknownAgent is returned when an agent ID is not registered.
var ErrUnknownAgent = errors.New("unknown agent")

// ErrAgentBusy is returned when an agent already has a running process.
var ErrAgentBusy = errors.New("agent busy")

// ErrCapacityExceeded is returned when a reservation would push an agent
// past its load capacity.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// entry holds one agent's state under its own lock.
type entry struct {
	mu      sync.Mutex
	profile models.AgentCapabilityProfile
	record  models.ProcessRecord
	launch  []string
}

// Registry is the thread-safe capability registry. The outer lock guards the
// map and registration order only; per-agent state is guarded per entry.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	order     []string
	tolerance float64
}

// New creates a Registry with the given emergency overshoot tolerance.
func New(overshootTolerance float64) *Registry {
	return &Registry{
		entries:   make(map[string]*entry),
		tolerance: overshootTolerance,
	}
}

// Register adds an agent. It is idempotent per agent ID: registering an
// existing ID returns false and leaves the stored state untouched. An
// empty launch command is rejected, also returning false.
func (r *Registry) Register(id string, launchCommand []string, specs []models.Specialization, capacity float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return false
	}
	// An agent without a launch command could never execute anything.
	if len(launchCommand) == 0 {
		return false
	}

	r.entries[id] = &entry{
		profile: models.AgentCapabilityProfile{
			ID:              id,
			Specializations: specs,
			LoadCapacity:    capacity,
			SuccessRate:     1.0,
		},
		record: models.ProcessRecord{
			AgentID: id,
			State:   models.StateIdle,
		},
		launch: append([]string(nil), launchCommand...),
	}
	r.order = append(r.order, id)
	return true
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// get returns the entry for an agent, or nil.
func (r *Registry) get(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// LaunchCommand returns the agent's launch command argv.
func (r *Registry) LaunchCommand(id string) ([]string, error) {
	e := r.get(id)
	if e == nil {
		return nil, fmt.Errorf("launch command for %s: %w", id, ErrUnknownAgent)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.launch...), nil
}

// Profile returns a copy of the agent's capability profile.
func (r *Registry) Profile(id string) (models.AgentCapabilityProfile, error) {
	e := r.get(id)
	if e == nil {
		return models.AgentCapabilityProfile{}, fmt.Errorf("profile for %s: %w", id, ErrUnknownAgent)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyProfile(&e.profile), nil
}

// Snapshot returns copies of all profiles in registration order. The matcher
// relies on this ordering for stable tie-breaking.
func (r *Registry) Snapshot() []models.AgentCapabilityProfile {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	entries := make([]*entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, r.entries[id])
	}
	r.mu.RUnlock()

	profiles := make([]models.AgentCapabilityProfile, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		profiles = append(profiles, copyProfile(&e.profile))
		e.mu.Unlock()
	}
	return profiles
}

// Reserve commits a load reservation for an assignment. A reservation that
// would exceed the agent's capacity fails with ErrCapacityExceeded unless
// emergency is set, in which case the configured overshoot tolerance applies.
func (r *Registry) Reserve(id string, load float64, emergency bool) error {
	e := r.get(id)
	if e == nil {
		return fmt.Errorf("reserve on %s: %w", id, ErrUnknownAgent)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ceiling := e.profile.LoadCapacity
	if emergency {
		ceiling += r.tolerance
	}
	if e.profile.CurrentLoad+load > ceiling {
		return fmt.Errorf("reserve %.2f on %s (load %.2f, capacity %.2f): %w",
			load, id, e.profile.CurrentLoad, e.profile.LoadCapacity, ErrCapacityExceeded)
	}

	e.profile.CurrentLoad += load
	e.profile.LastAssignedAt = time.Now()
	return nil
}

// Unreserve rolls back a reservation that never turned into a supervised
// execution. Unlike ReleaseLoad it does not touch the success statistics.
func (r *Registry) Unreserve(id string, load float64) error {
	e := r.get(id)
	if e == nil {
		return fmt.Errorf("unreserve on %s: %w", id, ErrUnknownAgent)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.profile.CurrentLoad -= load
	if e.profile.CurrentLoad < 0 {
		e.profile.CurrentLoad = 0
	}
	return nil
}

// ReleaseLoad releases a reservation after an execution reaches a terminal
// state, and folds the outcome into the rolling success rate and average
// duration.
func (r *Registry) ReleaseLoad(id string, load float64, success bool, duration time.Duration) error {
	e := r.get(id)
	if e == nil {
		return fmt.Errorf("release on %s: %w", id, ErrUnknownAgent)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.profile.CurrentLoad -= load
	if e.profile.CurrentLoad < 0 {
		e.profile.CurrentLoad = 0
	}

	// Simple running average over completed executions.
	n := float64(e.profile.CompletedTasks)
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	e.profile.SuccessRate = (e.profile.SuccessRate*n + outcome) / (n + 1)
	e.profile.AvgTaskDuration = time.Duration(
		(float64(e.profile.AvgTaskDuration)*n + float64(duration)) / (n + 1))
	e.profile.CompletedTasks++
	return nil
}

// Record returns a copy of the agent's process record.
func (r *Registry) Record(id string) (models.ProcessRecord, error) {
	e := r.get(id)
	if e == nil {
		return models.ProcessRecord{}, fmt.Errorf("record for %s: %w", id, ErrUnknownAgent)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record, nil
}

// Records returns copies of all process records in registration order.
func (r *Registry) Records() []models.ProcessRecord {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	entries := make([]*entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, r.entries[id])
	}
	r.mu.RUnlock()

	records := make([]models.ProcessRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		records = append(records, e.record)
		e.mu.Unlock()
	}
	return records
}

// BeginExecution transitions the agent's record to Running for a new work
// item. The record must not already be Running; a terminal state from a
// previous execution counts as idle because the agent returns to Idle before
// its next execution.
func (r *Registry) BeginExecution(id, workItemID string) error {
	e := r.get(id)
	if e == nil {
		return fmt.Errorf("begin execution on %s: %w", id, ErrUnknownAgent)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record.State == models.StateRunning {
		return fmt.Errorf("begin execution on %s: %w", id, ErrAgentBusy)
	}

	e.record = models.ProcessRecord{
		AgentID:    id,
		State:      models.StateRunning,
		WorkItemID: workItemID,
		StartedAt:  time.Now(),
	}
	return nil
}

// UpdateRecord applies fn to the agent's record under its lock. Used by the
// process executor and its monitoring loop; fn must not block.
func (r *Registry) UpdateRecord(id string, fn func(*models.ProcessRecord)) error {
	e := r.get(id)
	if e == nil {
		return fmt.Errorf("update record on %s: %w", id, ErrUnknownAgent)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.record)
	return nil
}

// FinishExecution transitions the agent's record to a terminal state exactly
// once for the current execution. Later calls for the same execution are
// ignored so the monitoring loop and the exit path cannot double-finalize.
func (r *Registry) FinishExecution(id string, state models.ProcessState, reason models.FailureReason, exitCode int) error {
	if !state.Terminal() {
		return fmt.Errorf("finish execution on %s: %s is not terminal", id, state)
	}

	e := r.get(id)
	if e == nil {
		return fmt.Errorf("finish execution on %s: %w", id, ErrUnknownAgent)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record.State != models.StateRunning {
		return nil
	}

	e.record.State = state
	e.record.Reason = reason
	e.record.ExitCode = exitCode
	e.record.EndedAt = time.Now()
	e.record.PID = 0
	return nil
}

func copyProfile(p *models.AgentCapabilityProfile) models.AgentCapabilityProfile {
	cp := *p
	cp.Specializations = append([]models.Specialization(nil), p.Specializations...)
	return cp
}
