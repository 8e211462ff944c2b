package proc

import (
	"time"

	"github.com/crewfoundry/foreman/pkg/models"
)

// ExecutionResult is the terminal outcome of one supervised execution.
type ExecutionResult struct {
	// AgentID is the agent that ran the work item.
	AgentID string `json:"agent_id"`
	// WorkItemID is the executed work item.
	WorkItemID string `json:"work_item_id"`
	// State is the terminal lifecycle state.
	State models.ProcessState `json:"state"`
	// Reason is the machine-readable failure reason, empty on success.
	Reason models.FailureReason `json:"reason,omitempty"`
	// ExitCode is the process exit code, -1 when the process was killed
	// or never started.
	ExitCode int `json:"exit_code"`
	// Output is the captured standard output tail.
	Output string `json:"output,omitempty"`
	// Stderr is the captured standard error tail, kept for diagnostics.
	Stderr string `json:"stderr,omitempty"`
	// StartedAt is when the execution began.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is when the execution reached its terminal state.
	EndedAt time.Time `json:"ended_at"`
}

// Success returns true if the execution completed normally.
func (r *ExecutionResult) Success() bool {
	return r.State == models.StateCompleted
}

// Duration returns the wall-clock execution time.
func (r *ExecutionResult) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}
