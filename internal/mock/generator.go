// Package mock generates synthetic collaboration traffic for demos and
// frontend development: a scripted session with a handful of runs emitting
// run events, task updates, and the occasional approval.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/agent-collab/backend/internal/session"
)

// Broadcaster is the slice of the hub the generator needs.
type Broadcaster interface {
	Broadcast(sessionID string, ev *session.Event)
}

// Generator drives a fake session full of run activity. It mutates the
// registry the same way the read loop would, so connected clients see
// realistic snapshots and event streams.
type Generator struct {
	registry *session.Registry
	b        Broadcaster

	sessionID string
	tenantID  string
	interval  time.Duration
	runs      []string
}

func NewGenerator(registry *session.Registry, b Broadcaster) *Generator {
	return &Generator{
		registry:  registry,
		b:         b,
		sessionID: "demo-session",
		tenantID:  "demo-tenant",
		interval:  500 * time.Millisecond,
		runs:      []string{"run-build", "run-tests", "run-deploy"},
	}
}

// SessionID is the session the generator emits into; demo clients join it.
func (g *Generator) SessionID() string {
	return g.sessionID
}

// Start emits events until ctx is cancelled.
func (g *Generator) Start(ctx context.Context) {
	if err := g.registry.GetOrCreate(g.sessionID, g.tenantID); err != nil {
		return
	}
	for i, runID := range g.runs {
		g.registry.RecordRun(g.sessionID, runID, fmt.Sprintf("node-%d", i+1))
	}

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			g.b.Broadcast(g.sessionID, g.eventForTick(tick))
		}
	}
}

// eventForTick scripts the traffic mix: mostly chatty run/task events, an
// approval roughly every twentieth tick so critical-path delivery shows up
// in demos too.
func (g *Generator) eventForTick(tick int) *session.Event {
	runID := g.runs[tick%len(g.runs)]
	now := time.Now().UTC()

	if tick%20 == 0 {
		return &session.Event{
			Type:      session.TypeApproval,
			SessionID: g.sessionID,
			RunID:     runID,
			Approval:  "granted",
			At:        now,
		}
	}
	if tick%3 == 0 {
		return &session.Event{
			Type:      session.TypeTaskUpdate,
			SessionID: g.sessionID,
			RunID:     runID,
			Task:      fmt.Sprintf("step-%d", tick),
			At:        now,
		}
	}
	return &session.Event{
		Type:      session.TypeRunEvent,
		SessionID: g.sessionID,
		RunID:     runID,
		Payload: map[string]any{
			"progress": rand.Intn(100),
		},
		At: now,
	}
}
