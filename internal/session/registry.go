package session

import (
	"errors"
	"sync"
)

// ErrTenantMismatch is returned when a join names a session that is already
// pinned to a different tenant.
var ErrTenantMismatch = errors.New("session: tenant mismatch")

// Session is one collaboration room. TenantID is set at creation and never
// changes; every later join must present the same tenant.
type Session struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenant_id"`
	Members         map[string]Role   `json:"members"`
	ActiveRuns      map[string]string `json:"active_runs"`
	NodeAssignments map[string]string `json:"node_assignments"`
}

// Clone returns a deep copy safe to marshal or retain after the registry
// lock is released.
func (s *Session) Clone() *Session {
	c := &Session{
		ID:              s.ID,
		TenantID:        s.TenantID,
		Members:         make(map[string]Role, len(s.Members)),
		ActiveRuns:      make(map[string]string, len(s.ActiveRuns)),
		NodeAssignments: make(map[string]string, len(s.NodeAssignments)),
	}
	for k, v := range s.Members {
		c.Members[k] = v
	}
	for k, v := range s.ActiveRuns {
		c.ActiveRuns[k] = v
	}
	for k, v := range s.NodeAssignments {
		c.NodeAssignments[k] = v
	}
	return c
}

// Registry is the process-wide table of sessions. A single lock covers the
// table and every field of every Session: membership, run status, and node
// assignments are always read and written together, so splitting the lock
// would reintroduce torn reads.
//
// Sessions are created lazily and live for the process lifetime. The table
// grows with the number of distinct session ids ever referenced, which is
// bounded in practice by the number of long-lived collaboration rooms.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session for id, creating it pinned to tenantID if
// it does not exist. Joining an existing session under a different tenant
// fails with ErrTenantMismatch and leaves the session untouched.
func (r *Registry) GetOrCreate(id, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		if s.TenantID != tenantID {
			return ErrTenantMismatch
		}
		return nil
	}
	r.sessions[id] = &Session{
		ID:              id,
		TenantID:        tenantID,
		Members:         make(map[string]Role),
		ActiveRuns:      make(map[string]string),
		NodeAssignments: make(map[string]string),
	}
	return nil
}

// SetMember records memberID with role. Rejoining with a different role is
// last-write-wins.
func (r *Registry) SetMember(id, memberID string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.Members[memberID] = role
	}
}

// RemoveMember drops memberID from the session's member map.
func (r *Registry) RemoveMember(id, memberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		delete(s.Members, memberID)
	}
}

// RecordRun assigns nodeID to runID and marks the run active, in one
// critical section.
func (r *Registry) RecordRun(id, runID, nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.NodeAssignments[runID] = nodeID
		s.ActiveRuns[runID] = "active"
	}
}

// Snapshot returns a deep copy of the session, or false if it has never been
// referenced.
func (r *Registry) Snapshot(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// TenantSessions returns deep copies of every session pinned to tenantID.
func (r *Registry) TenantSessions(tenantID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.TenantID == tenantID {
			out = append(out, s.Clone())
		}
	}
	return out
}

// Count reports the number of sessions ever created.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
