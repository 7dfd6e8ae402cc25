package hub

import (
	"github.com/agent-collab/backend/internal/session"
)

// Priority determines batching and drop behaviour for an outbound event.
type Priority int

const (
	// PriorityPassive events are batched and dropped first under load.
	PriorityPassive Priority = iota
	// PriorityNormal events are batched but share the passive drop policy.
	PriorityNormal
	// PriorityCritical events bypass batching and are never dropped.
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityNormal:
		return "normal"
	}
	return "passive"
}

// Classify maps an event type to its delivery priority. Approval and stop
// signals must never wait behind a batch tick or be dropped under load;
// everything unknown defaults to passive.
func Classify(eventType string) Priority {
	switch eventType {
	case session.TypeApproval, session.TypeRunError, session.TypeRunStop:
		return PriorityCritical
	case session.TypeRunEvent, session.TypeTaskUpdate:
		return PriorityNormal
	}
	return PriorityPassive
}

// Action is the enqueue decision for one (priority, queue state) pair.
type Action int

const (
	// ActionEnqueue places the event on the queue without waiting.
	ActionEnqueue Action = iota
	// ActionDrop discards the event and counts it.
	ActionDrop
	// ActionBlock waits for queue space, bounded by the client's closed
	// signal.
	ActionBlock
)

// DeliveryAction is the whole backpressure policy as a pure function, kept
// separate from the socket plumbing so it can be tested on its own.
func DeliveryAction(p Priority, queueFull bool) Action {
	if !queueFull {
		return ActionEnqueue
	}
	if p == PriorityCritical {
		return ActionBlock
	}
	return ActionDrop
}

// snapshotMessage is sent once, directly on the fresh connection, when a
// member joins.
type snapshotMessage struct {
	Type    string           `json:"type"`
	Session *session.Session `json:"session"`
}

// batchMessage carries accumulated non-critical events on each flush.
type batchMessage struct {
	Type   string           `json:"type"`
	Events []*session.Event `json:"events"`
}
