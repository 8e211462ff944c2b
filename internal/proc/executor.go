package proc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/crewfoundry/foreman/internal/registry"
	"github.com/crewfoundry/foreman/pkg/models"
)

// ErrAdmissionTimeout is returned when a pool slot cannot be acquired within
// the configured hard deadline.
var ErrAdmissionTimeout = errors.New("admission timeout")

// Config holds the executor's pool size and per-process ceilings.
type Config struct {
	// MaxConcurrent bounds how many agent processes may run at once.
	MaxConcurrent int
	// AdmissionTimeout is the hard deadline for acquiring a pool slot.
	AdmissionTimeout time.Duration
	// MemoryCeilingBytes is the resident memory ceiling per process.
	MemoryCeilingBytes uint64
	// TimeCeiling is the wall-clock execution ceiling per process.
	TimeCeiling time.Duration
	// MonitorInterval is the resource polling interval.
	MonitorInterval time.Duration
	// Niceness is the scheduling priority applied to spawned processes.
	Niceness int
}

// Executor runs agent processes under admission control and resource
// ceilings. One Executor is constructed per coordinator and shared by all
// executions; the semaphore is the only cross-agent synchronization point.
type Executor struct {
	cfg      Config
	registry *registry.Registry
	sem      *semaphore.Weighted
	sampler  Sampler

	// Logf receives low-severity diagnostics. Optional.
	Logf func(format string, args ...interface{})
	// OnOutput receives live output lines. Optional.
	OnOutput func(agentID, workItemID string, line Line)

	mu      sync.Mutex
	running map[string]*execution
}

// execution tracks one in-flight process for termination and verdicts.
type execution struct {
	agentID string
	itemID  string
	proc    *Process

	mu      sync.Mutex
	state   models.ProcessState
	reason  models.FailureReason
	decided bool
}

// decide records the terminal verdict for this execution. Only the first
// caller wins; the monitoring loop, terminate requests, and the exit path
// race here and exactly one of them sticks.
func (ex *execution) decide(state models.ProcessState, reason models.FailureReason) bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.decided {
		return false
	}
	ex.decided = true
	ex.state = state
	ex.reason = reason
	return true
}

// verdict returns the recorded verdict, if any.
func (ex *execution) verdict() (models.ProcessState, models.FailureReason, bool) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.state, ex.reason, ex.decided
}

// NewExecutor creates an Executor over the given registry.
func NewExecutor(cfg Config, reg *registry.Registry) *Executor {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Executor{
		cfg:      cfg,
		registry: reg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		sampler:  SystemSampler{},
		running:  make(map[string]*execution),
	}
}

// SetSampler replaces the resource sampler. Tests use this to emulate
// ceiling breaches.
func (e *Executor) SetSampler(s Sampler) {
	e.sampler = s
}

// RunningCount returns the number of in-flight executions.
func (e *Executor) RunningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

// logf writes a diagnostic if a logger is attached.
func (e *Executor) logf(format string, args ...interface{}) {
	if e.Logf != nil {
		e.Logf(format, args...)
	}
}

// Execute runs the work item on the given agent and blocks until the
// execution reaches a terminal state. The load fraction was reserved by the
// caller when it committed the assignment; Execute releases it exactly once.
//
// Errors are returned only when no process was supervised at all: admission
// timeout, cancellation while waiting, or a busy agent. Every other failure
// mode is reported inside the ExecutionResult.
func (e *Executor) Execute(ctx context.Context, agentID string, item models.WorkItem, load float64) (*ExecutionResult, error) {
	admCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.AdmissionTimeout > 0 {
		admCtx, cancel = context.WithTimeout(ctx, e.cfg.AdmissionTimeout)
		defer cancel()
	}

	if err := e.sem.Acquire(admCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquire slot for %s: %w", agentID, ctx.Err())
		}
		return nil, fmt.Errorf("acquire slot for %s: %w", agentID, ErrAdmissionTimeout)
	}
	defer e.sem.Release(1)

	if err := e.registry.BeginExecution(agentID, item.ID); err != nil {
		return nil, err
	}

	argv, err := e.registry.LaunchCommand(agentID)
	if err != nil {
		ex := &execution{agentID: agentID, itemID: item.ID}
		ex.decide(models.StateFailed, models.ReasonLaunchFailure)
		return e.finalize(ex, time.Now(), -1, load), nil
	}

	startedAt := time.Now()
	process := NewProcess(ctx, argv, item.Description)

	ex := &execution{agentID: agentID, itemID: item.ID, proc: process}
	e.mu.Lock()
	e.running[agentID] = ex
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, agentID)
		e.mu.Unlock()
	}()

	if err := process.Start(); err != nil {
		e.logf("[proc] %s: launch failed: %v", agentID, err)
		ex.decide(models.StateFailed, models.ReasonLaunchFailure)
		return e.finalize(ex, startedAt, -1, load), nil
	}

	if err := process.SetNiceness(e.cfg.Niceness); err != nil {
		e.logf("[proc] %s: %v", agentID, err)
	}

	e.registry.UpdateRecord(agentID, func(rec *models.ProcessRecord) {
		rec.PID = process.PID()
		rec.Usage.Niceness = e.cfg.Niceness
		rec.Usage.MemoryCeilingBytes = e.cfg.MemoryCeilingBytes
		rec.Usage.TimeCeiling = e.cfg.TimeCeiling
	})

	// Forward live output into the agent's record for inspection.
	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		for line := range process.Lines() {
			l := line
			e.registry.UpdateRecord(agentID, func(rec *models.ProcessRecord) {
				rec.LastOutput = l.Text
				rec.LastOutputAt = l.At
			})
			if e.OnOutput != nil {
				e.OnOutput(agentID, item.ID, l)
			}
		}
	}()

	monitorStop := make(chan struct{})
	monitorDone := make(chan struct{})
	go e.monitor(ex, startedAt, monitorStop, monitorDone)

	exitCode, waitErr := process.Wait()
	close(monitorStop)
	<-monitorDone
	<-outputDone

	if _, _, decided := ex.verdict(); !decided {
		switch {
		case ctx.Err() != nil:
			// Global cancellation killed the process.
			ex.decide(models.StateTerminated, models.ReasonTerminated)
		case waitErr != nil:
			e.logf("[proc] %s: wait: %v", agentID, waitErr)
			ex.decide(models.StateFailed, models.ReasonLaunchFailure)
		case exitCode == 0:
			ex.decide(models.StateCompleted, models.ReasonNone)
		default:
			ex.decide(models.StateFailed, models.ReasonNonZeroExit)
		}
	}

	return e.finalize(ex, startedAt, exitCode, load), nil
}

// finalize builds the result and applies the per-execution side effects
// exactly once: registry record transition, load release, success-rate fold.
func (e *Executor) finalize(ex *execution, startedAt time.Time, exitCode int, load float64) *ExecutionResult {
	state, reason, _ := ex.verdict()

	result := &ExecutionResult{
		AgentID:    ex.agentID,
		WorkItemID: ex.itemID,
		State:      state,
		Reason:     reason,
		ExitCode:   exitCode,
		StartedAt:  startedAt,
		EndedAt:    time.Now(),
	}
	if ex.proc != nil {
		result.Output = ex.proc.OutputTail()
		result.Stderr = ex.proc.StderrTail()
	}

	if err := e.registry.FinishExecution(ex.agentID, state, reason, exitCode); err != nil {
		e.logf("[proc] %s: finish record: %v", ex.agentID, err)
	}
	if err := e.registry.ReleaseLoad(ex.agentID, load, result.Success(), result.Duration()); err != nil {
		e.logf("[proc] %s: release load: %v", ex.agentID, err)
	}

	return result
}

// monitor polls resource usage until the process exits or a ceiling breach
// forces a kill. Sampling errors are logged at low severity and never stop
// the loop; the process may simply have exited between ticks.
func (e *Executor) monitor(ex *execution, startedAt time.Time, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := e.cfg.MonitorInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if e.cfg.TimeCeiling > 0 && time.Since(startedAt) > e.cfg.TimeCeiling {
			if ex.decide(models.StateFailed, models.ReasonTimeCeiling) {
				e.logf("[proc] %s: execution time ceiling exceeded (%s)", ex.agentID, e.cfg.TimeCeiling)
				ex.proc.Kill()
			}
			return
		}

		pid := ex.proc.PID()
		if pid == 0 {
			continue
		}

		usage, err := e.sampler.Sample(pid)
		if err != nil {
			e.logf("[proc] %s: sample pid %d: %v", ex.agentID, pid, err)
			continue
		}

		e.registry.UpdateRecord(ex.agentID, func(rec *models.ProcessRecord) {
			rec.Usage.CPUPercent = usage.CPUPercent
			rec.Usage.MemoryBytes = usage.MemoryBytes
			rec.Usage.SampledAt = time.Now()
		})

		if e.cfg.MemoryCeilingBytes > 0 && usage.MemoryBytes > e.cfg.MemoryCeilingBytes {
			if ex.decide(models.StateFailed, models.ReasonMemoryCeiling) {
				e.logf("[proc] %s: memory ceiling exceeded (%d > %d bytes)",
					ex.agentID, usage.MemoryBytes, e.cfg.MemoryCeilingBytes)
				ex.proc.Kill()
			}
			return
		}
	}
}

// Terminate forcibly stops the agent's running process. Returns false if the
// agent has no process in flight. Distinct from ceiling enforcement: the
// record lands in Terminated, not Failed.
func (e *Executor) Terminate(agentID string) bool {
	e.mu.Lock()
	ex := e.running[agentID]
	e.mu.Unlock()

	if ex == nil {
		return false
	}
	if ex.decide(models.StateTerminated, models.ReasonTerminated) {
		ex.proc.Kill()
	}
	return true
}

// TerminateAll forcibly stops every running process.
func (e *Executor) TerminateAll() {
	e.mu.Lock()
	running := make([]*execution, 0, len(e.running))
	for _, ex := range e.running {
		running = append(running, ex)
	}
	e.mu.Unlock()

	for _, ex := range running {
		if ex.decide(models.StateTerminated, models.ReasonTerminated) {
			ex.proc.Kill()
		}
	}
}
