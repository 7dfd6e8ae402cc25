package hub

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/agent-collab/backend/internal/metrics"
	"github.com/agent-collab/backend/internal/session"
)

func newTestHub(m *metrics.Metrics, limits Limits) *Hub {
	if m == nil {
		m = metrics.New()
	}
	return New(zap.NewNop(), m, limits)
}

// addClient registers a client without a live connection. Broadcast and the
// queue policy never touch the socket, so these tests run without one.
func addClient(t *testing.T, h *Hub, sessionID, memberID string, queueCap int) *client {
	t.Helper()
	c := newClient(sessionID, memberID, nil, queueCap)
	if err := h.register(c); err != nil {
		t.Fatalf("register: %v", err)
	}
	return c
}

func TestBroadcast_DeliversToAllSessionClients(t *testing.T) {
	h := newTestHub(nil, Limits{QueueCapacity: 8})
	a := addClient(t, h, "s1", "a", 8)
	b := addClient(t, h, "s1", "b", 8)
	other := addClient(t, h, "s2", "c", 8)

	ev := &session.Event{Type: session.TypeTaskUpdate, Task: "ready"}
	h.Broadcast("s1", ev)

	if len(a.send) != 1 || len(b.send) != 1 {
		t.Errorf("s1 clients should each have 1 queued event, got %d and %d",
			len(a.send), len(b.send))
	}
	if len(other.send) != 0 {
		t.Errorf("s2 client should have no events, got %d", len(other.send))
	}
}

func TestBroadcast_DropsNonCriticalWhenFull(t *testing.T) {
	m := metrics.New()
	h := newTestHub(m, Limits{QueueCapacity: 1})
	c := addClient(t, h, "s1", "a", 1)

	h.Broadcast("s1", &session.Event{Type: session.TypeTaskUpdate})
	h.Broadcast("s1", &session.Event{Type: session.TypeTaskUpdate})
	h.Broadcast("s1", &session.Event{Type: "chat.message"})

	if len(c.send) != 1 {
		t.Fatalf("queue should hold exactly 1 event, got %d", len(c.send))
	}
	if got := m.Dropped(metrics.PriorityNormal); got != 1 {
		t.Errorf("normal drops = %d, want 1", got)
	}
	if got := m.Dropped(metrics.PriorityPassive); got != 1 {
		t.Errorf("passive drops = %d, want 1", got)
	}
}

func TestBroadcast_CriticalWaitsForSpace(t *testing.T) {
	h := newTestHub(nil, Limits{QueueCapacity: 1})
	c := addClient(t, h, "s1", "a", 1)

	h.Broadcast("s1", &session.Event{Type: session.TypeTaskUpdate})

	done := make(chan struct{})
	go func() {
		h.Broadcast("s1", &session.Event{Type: session.TypeApproval, Approval: "granted"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("critical broadcast should block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	// Drain one slot; the critical event must land.
	<-c.send
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("critical broadcast did not complete after space freed")
	}

	ev := <-c.send
	if ev.Type != session.TypeApproval {
		t.Errorf("queued event type = %q, want approval", ev.Type)
	}
}

func TestBroadcast_CriticalCancelledByClosedSignal(t *testing.T) {
	m := metrics.New()
	h := newTestHub(m, Limits{QueueCapacity: 1})
	c := addClient(t, h, "s1", "a", 1)

	h.Broadcast("s1", &session.Event{Type: session.TypeTaskUpdate})

	done := make(chan struct{})
	go func() {
		h.Broadcast("s1", &session.Event{Type: session.TypeRunStop})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	c.signalClosed()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("closed signal did not unblock the critical broadcast")
	}

	// A cancelled critical send is not a silent drop.
	if got := m.Dropped(metrics.PriorityNormal) + m.Dropped(metrics.PriorityPassive); got != 0 {
		t.Errorf("dropped counters = %d, want 0", got)
	}
}

func TestRegister_ConnectionCap(t *testing.T) {
	h := newTestHub(nil, Limits{QueueCapacity: 1, MaxConnections: 2})

	addClient(t, h, "s1", "a", 1)
	addClient(t, h, "s1", "b", 1)

	c := newClient("s1", "c", nil, 1)
	if err := h.register(c); !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("expected ErrTooManyConnections, got %v", err)
	}
	if got := h.ClientCount(); got != 2 {
		t.Errorf("ClientCount = %d, want 2", got)
	}
}

func TestUnregister_Idempotent(t *testing.T) {
	h := newTestHub(nil, Limits{QueueCapacity: 1})
	c := addClient(t, h, "s1", "a", 1)

	h.unregister(c)
	h.unregister(c) // second call must not double-decrement or panic

	if got := h.ClientCount(); got != 0 {
		t.Errorf("ClientCount = %d, want 0", got)
	}
	select {
	case <-c.closed:
	default:
		t.Error("closed signal should have fired")
	}
}

func TestQueueDepth(t *testing.T) {
	h := newTestHub(nil, Limits{QueueCapacity: 8})
	addClient(t, h, "s1", "a", 8)
	addClient(t, h, "s1", "b", 8)

	if got := h.QueueDepth(); got != 0 {
		t.Fatalf("initial depth = %d, want 0", got)
	}

	for i := 0; i < 3; i++ {
		h.Broadcast("s1", &session.Event{Type: session.TypeRunEvent, RunID: fmt.Sprintf("r%d", i)})
	}
	if got := h.QueueDepth(); got != 6 {
		t.Errorf("depth = %d, want 6 (3 events x 2 clients)", got)
	}
}

func TestCloseAll(t *testing.T) {
	h := newTestHub(nil, Limits{QueueCapacity: 1})
	a := addClient(t, h, "s1", "a", 1)
	b := addClient(t, h, "s2", "b", 1)

	h.CloseAll()

	if got := h.ClientCount(); got != 0 {
		t.Errorf("ClientCount = %d, want 0", got)
	}
	for _, c := range []*client{a, b} {
		select {
		case <-c.closed:
		default:
			t.Error("closed signal should have fired for every client")
		}
	}
}

func TestSetLimits_AffectsNewRegistrations(t *testing.T) {
	h := newTestHub(nil, Limits{QueueCapacity: 1, MaxConnections: 1})
	addClient(t, h, "s1", "a", 1)

	if err := h.register(newClient("s1", "b", nil, 1)); err == nil {
		t.Fatal("expected cap rejection before limit change")
	}

	h.SetLimits(Limits{QueueCapacity: 1, MaxConnections: 5})
	if err := h.register(newClient("s1", "b", nil, 1)); err != nil {
		t.Fatalf("register after raising cap: %v", err)
	}
}
