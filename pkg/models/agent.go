package models

import "time"

// ProcessState represents the lifecycle state of an agent's execution.
type ProcessState string

const (
	// StateIdle indicates the agent has no running process.
	StateIdle ProcessState = "idle"
	// StateRunning indicates the agent's process is executing.
	StateRunning ProcessState = "running"
	// StateCompleted indicates the last execution finished with exit code 0.
	StateCompleted ProcessState = "completed"
	// StateFailed indicates the last execution failed.
	StateFailed ProcessState = "failed"
	// StateTerminated indicates the last execution was forcibly stopped
	// by an operator or supervisor request.
	StateTerminated ProcessState = "terminated"
)

// Valid returns true if the state is a known value.
func (s ProcessState) Valid() bool {
	switch s {
	case StateIdle, StateRunning, StateCompleted, StateFailed, StateTerminated:
		return true
	default:
		return false
	}
}

// Terminal returns true if the state ends an execution. Idle is not terminal
// because it precedes the next execution; Running is in flight.
func (s ProcessState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTerminated:
		return true
	default:
		return false
	}
}

// FailureReason is a machine-readable code explaining a terminal state.
type FailureReason string

const (
	// ReasonNone is set on successful completion.
	ReasonNone FailureReason = ""
	// ReasonLaunchFailure indicates the external process failed to start.
	ReasonLaunchFailure FailureReason = "launch_failure"
	// ReasonMemoryCeiling indicates the resident memory ceiling was exceeded.
	ReasonMemoryCeiling FailureReason = "memory_ceiling"
	// ReasonTimeCeiling indicates the wall-clock execution ceiling was exceeded.
	ReasonTimeCeiling FailureReason = "time_ceiling"
	// ReasonNonZeroExit indicates the process exited with a non-zero code.
	ReasonNonZeroExit FailureReason = "nonzero_exit"
	// ReasonTerminated indicates an explicit terminate request.
	ReasonTerminated FailureReason = "terminated"
	// ReasonAgentBusy indicates the agent already had a running process.
	ReasonAgentBusy FailureReason = "agent_busy"
)

// ResourceUsage is a point-in-time snapshot of a running process.
type ResourceUsage struct {
	// CPUPercent is the process CPU utilization.
	CPUPercent float64 `json:"cpu_percent"`
	// MemoryBytes is the resident set size.
	MemoryBytes uint64 `json:"memory_bytes"`
	// Niceness is the scheduling priority applied to the process.
	Niceness int `json:"niceness"`
	// MemoryCeilingBytes is the configured resident memory ceiling.
	MemoryCeilingBytes uint64 `json:"memory_ceiling_bytes"`
	// TimeCeiling is the configured wall-clock execution ceiling.
	TimeCeiling time.Duration `json:"time_ceiling"`
	// SampledAt is when the snapshot was taken.
	SampledAt time.Time `json:"sampled_at"`
}

// AgentCapabilityProfile describes what an agent can do and how loaded it is.
// The registry owns all mutation; callers receive copies.
type AgentCapabilityProfile struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Specializations are the disciplines this agent declared.
	Specializations []Specialization `json:"specializations"`
	// LoadCapacity is the unit-less ceiling, 1.0 meaning one full-time slot.
	LoadCapacity float64 `json:"load_capacity"`
	// CurrentLoad is the sum of in-flight work item load fractions.
	CurrentLoad float64 `json:"current_load"`
	// SuccessRate is the rolling success rate in [0,1].
	SuccessRate float64 `json:"success_rate"`
	// AvgTaskDuration is the running average execution duration.
	AvgTaskDuration time.Duration `json:"avg_task_duration"`
	// CompletedTasks is the number of finished executions.
	CompletedTasks int `json:"completed_tasks"`
	// LastAssignedAt is when the agent last received work.
	// Zero means the agent has never been assigned.
	LastAssignedAt time.Time `json:"last_assigned_at,omitempty"`
}

// HasSpecialization returns true if any declared specialization matches the
// required one.
func (p *AgentCapabilityProfile) HasSpecialization(required Specialization) bool {
	for _, s := range p.Specializations {
		if s.Matches(required) {
			return true
		}
	}
	return false
}

// AvailableCapacity returns the remaining load headroom, floored at zero.
func (p *AgentCapabilityProfile) AvailableCapacity() float64 {
	if p.CurrentLoad >= p.LoadCapacity {
		return 0
	}
	return p.LoadCapacity - p.CurrentLoad
}

// ProcessRecord tracks an agent's current or most recent execution.
// At most one record per agent is non-terminal at any time.
type ProcessRecord struct {
	// AgentID is the owning agent.
	AgentID string `json:"agent_id"`
	// State is the current lifecycle state.
	State ProcessState `json:"state"`
	// Reason explains a Failed or Terminated state.
	Reason FailureReason `json:"reason,omitempty"`
	// PID is the operating system process ID, 0 when idle.
	PID int `json:"pid,omitempty"`
	// WorkItemID is the work item being executed, empty when idle.
	WorkItemID string `json:"work_item_id,omitempty"`
	// StartedAt is when the current or last execution began.
	StartedAt time.Time `json:"started_at,omitempty"`
	// EndedAt is when the last execution reached a terminal state.
	EndedAt time.Time `json:"ended_at,omitempty"`
	// ExitCode is the last process exit code, meaningful only in
	// Completed or Failed states.
	ExitCode int `json:"exit_code"`
	// LastOutput is the most recent captured output line.
	LastOutput string `json:"last_output,omitempty"`
	// LastOutputAt is when output was last observed.
	LastOutputAt time.Time `json:"last_output_at,omitempty"`
	// Usage is the latest resource usage snapshot.
	Usage ResourceUsage `json:"usage"`
}
