package session

import "time"

// Event type names exchanged on the wire. Inbound events outside this set are
// accepted and ignored so older servers tolerate newer clients.
const (
	TypeRunEvent   = "run.event"
	TypeApproval   = "approval"
	TypeTaskUpdate = "task.update"
	TypeRunError   = "run.error"
	TypeRunStop    = "run.stop"
	TypeSnapshot   = "session.snapshot"
	TypeBatch      = "batch"
)

// Event is the JSON message exchanged with clients. The hub stamps SessionID
// and At on receipt; everything else arrives from the sender verbatim. An
// Event is never mutated after it has been handed to the fan-out engine.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	Approval  string         `json:"approval,omitempty"`
	Task      string         `json:"task,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	At        time.Time      `json:"at,omitempty"`
}

// NodeID extracts the node identifier from the event payload, if present.
func (e *Event) NodeID() string {
	if e.Payload == nil {
		return ""
	}
	id, _ := e.Payload["node_id"].(string)
	return id
}
