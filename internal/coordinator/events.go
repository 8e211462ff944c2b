package coordinator

import (
	"sync"
	"time"
)

// EventType identifies a coordinator event category.
type EventType string

const (
	// EventItemQueued indicates a work item was produced by decomposition.
	EventItemQueued EventType = "item_queued"
	// EventItemAssigned indicates a work item was matched to an agent.
	EventItemAssigned EventType = "item_assigned"
	// EventItemStarted indicates the agent process for an item launched.
	EventItemStarted EventType = "item_started"
	// EventItemCompleted indicates an item finished successfully.
	EventItemCompleted EventType = "item_completed"
	// EventItemFailed indicates an item's execution failed.
	EventItemFailed EventType = "item_failed"
	// EventItemUnassigned indicates no eligible agent could take the item.
	EventItemUnassigned EventType = "item_unassigned"
	// EventItemReassigned indicates a stalled item was handed to a new agent.
	EventItemReassigned EventType = "item_reassigned"
	// EventItemRework indicates the quality gate sent an item back.
	EventItemRework EventType = "item_rework"
	// EventAgentOutput carries a line of agent process output.
	EventAgentOutput EventType = "agent_output"
	// EventAgentTerminated indicates an agent process was killed.
	EventAgentTerminated EventType = "agent_terminated"
)

// Event is a coordinator lifecycle notification.
type Event struct {
	// Type categorizes the event.
	Type EventType
	// AgentID is the agent involved, if any.
	AgentID string
	// WorkItemID is the work item involved, if any.
	WorkItemID string
	// Message is a human-readable description or output line.
	Message string
	// Time is when the event was emitted.
	Time time.Time
}

// EventEmitter fans coordinator events out to a buffered channel.
// Events are dropped (and counted) rather than blocking the pipeline
// when the consumer falls behind.
type EventEmitter struct {
	mu      sync.Mutex
	ch      chan Event
	dropped int
	closed  bool
}

// NewEventEmitter creates an emitter with the given buffer size.
// A size of zero or less gets a sensible default.
func NewEventEmitter(buffer int) *EventEmitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &EventEmitter{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the event stream.
func (e *EventEmitter) Events() <-chan Event {
	return e.ch
}

// Emit publishes an event without blocking. If the buffer is full the
// event is dropped and the drop counter incremented.
func (e *EventEmitter) Emit(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	select {
	case e.ch <- evt:
	default:
		e.dropped++
		debugLog("event emitter: buffer full, dropped %s event (total dropped: %d)", evt.Type, e.dropped)
	}
}

// Dropped returns how many events were discarded due to a full buffer.
func (e *EventEmitter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close closes the event channel. Emit becomes a no-op afterwards.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}
