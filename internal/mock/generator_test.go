package mock

import (
	"context"
	"testing"
	"time"

	"github.com/agent-collab/backend/internal/session"
)

type captureBroadcaster struct {
	events chan *session.Event
}

func (c *captureBroadcaster) Broadcast(sessionID string, ev *session.Event) {
	c.events <- ev
}

func TestGenerator_SeedsSessionAndEmits(t *testing.T) {
	registry := session.NewRegistry()
	sink := &captureBroadcaster{events: make(chan *session.Event, 64)}

	g := NewGenerator(registry, sink)
	g.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Start(ctx)

	var first *session.Event
	select {
	case first = <-sink.events:
	case <-time.After(2 * time.Second):
		t.Fatal("no events emitted")
	}

	if first.SessionID != g.SessionID() {
		t.Errorf("event session = %q, want %q", first.SessionID, g.SessionID())
	}
	if first.At.IsZero() {
		t.Error("events must carry a timestamp")
	}

	snap, ok := registry.Snapshot(g.SessionID())
	if !ok {
		t.Fatal("demo session not created")
	}
	if snap.TenantID == "" {
		t.Error("demo session must be tenant-pinned")
	}
	if len(snap.ActiveRuns) == 0 || len(snap.NodeAssignments) == 0 {
		t.Error("demo runs should be seeded with node assignments")
	}
}

func TestEventForTick_Mix(t *testing.T) {
	g := NewGenerator(session.NewRegistry(), &captureBroadcaster{events: make(chan *session.Event, 1)})

	if ev := g.eventForTick(20); ev.Type != session.TypeApproval {
		t.Errorf("tick 20 type = %q, want approval", ev.Type)
	}
	if ev := g.eventForTick(3); ev.Type != session.TypeTaskUpdate {
		t.Errorf("tick 3 type = %q, want task.update", ev.Type)
	}
	if ev := g.eventForTick(1); ev.Type != session.TypeRunEvent {
		t.Errorf("tick 1 type = %q, want run.event", ev.Type)
	}
}
