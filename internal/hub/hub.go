package hub

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agent-collab/backend/internal/metrics"
	"github.com/agent-collab/backend/internal/session"
)

// ErrTooManyConnections is returned when the process-wide client cap is hit.
var ErrTooManyConnections = errors.New("hub: too many connections")

// Limits are the tunables that may change at runtime via config reload. They
// apply to connections established after the change.
type Limits struct {
	// BatchInterval is the write-loop flush period for non-critical events.
	BatchInterval time.Duration
	// QueueCapacity is the per-client outbound queue depth.
	QueueCapacity int
	// MaxConnections caps total clients across all sessions; 0 is unlimited.
	MaxConnections int
}

// Hub owns the per-session client sets and the fan-out/batching engine.
// Session state itself (members, runs, assignments) lives in the registry;
// the hub only tracks live connections and delivery.
type Hub struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[string]map[*client]struct{} // keyed by session id
	total   int
	limits  Limits
}

func New(log *zap.Logger, m *metrics.Metrics, limits Limits) *Hub {
	return &Hub{
		log:     log,
		metrics: m,
		clients: make(map[string]map[*client]struct{}),
		limits:  limits,
	}
}

// SetLimits swaps the runtime tunables. Existing connections keep the
// limits they were created with.
func (h *Hub) SetLimits(l Limits) {
	h.mu.Lock()
	h.limits = l
	h.mu.Unlock()
}

func (h *Hub) currentLimits() Limits {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.limits
}

// register adds a client to its session's set, enforcing the connection cap.
func (h *Hub) register(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.limits.MaxConnections > 0 && h.total >= h.limits.MaxConnections {
		return ErrTooManyConnections
	}
	set, ok := h.clients[c.sessionID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.sessionID] = set
	}
	set[c] = struct{}{}
	h.total++
	return nil
}

// unregister removes the client and fires its closed signal. Idempotent:
// the teardown path runs for every exit cause and must tolerate repeats.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if set, ok := h.clients[c.sessionID]; ok {
		if _, present := set[c]; present {
			delete(set, c)
			h.total--
			if len(set) == 0 {
				delete(h.clients, c.sessionID)
			}
		}
	}
	h.mu.Unlock()
	c.signalClosed()
}

// Broadcast fans ev out to every client registered for sessionID, including
// the sender. Non-critical events are dropped when a client's queue is full;
// critical events wait for space, bounded by that client's closed signal, so
// the broadcaster can never deadlock on a dying connection.
func (h *Hub) Broadcast(sessionID string, ev *session.Event) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[sessionID]))
	for c := range h.clients[sessionID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	p := Classify(ev.Type)
	for _, c := range targets {
		select {
		case c.send <- ev:
			continue
		default:
		}

		switch DeliveryAction(p, true) {
		case ActionBlock:
			select {
			case c.send <- ev:
			case <-c.closed:
			}
		case ActionDrop:
			h.metrics.AddDropped(p.String())
			h.log.Debug("event dropped, client queue full",
				zap.String("session_id", sessionID),
				zap.String("member_id", c.memberID),
				zap.String("event_type", ev.Type))
		}
	}
}

// writeLoop drains a client's queue, batching non-critical events on a fixed
// interval and flushing critical events immediately. It is the only writer
// on the connection. Runs until the closed signal fires or a write fails.
func (h *Hub) writeLoop(c *client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	var batch []*session.Event
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		msg := batchMessage{Type: session.TypeBatch, Events: batch}
		if err := c.conn.WriteMessage(msg); err != nil {
			return err
		}
		h.metrics.AddBatched(len(batch))
		batch = nil
		return nil
	}

	for {
		select {
		case ev := <-c.send:
			if Classify(ev.Type) == PriorityCritical {
				// Flush whatever is pending first so per-client ordering
				// holds, then send the critical event unbatched.
				if err := flush(); err != nil {
					h.unregister(c)
					return
				}
				if err := c.conn.WriteMessage(ev); err != nil {
					h.unregister(c)
					return
				}
				continue
			}
			batch = append(batch, ev)

		case <-ticker.C:
			if err := flush(); err != nil {
				h.unregister(c)
				return
			}

		case <-c.closed:
			flush() //nolint:errcheck // best effort, connection is going away
			return
		}
	}
}

// QueueDepth sums outbound queue occupancy across all clients. Sampled by
// the metrics endpoint at scrape time.
func (h *Hub) QueueDepth() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	depth := 0
	for _, set := range h.clients {
		for c := range set {
			depth += len(c.send)
		}
	}
	return depth
}

// ClientCount reports the number of live clients across all sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// SessionClientCount reports the number of live clients in one session.
func (h *Hub) SessionClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// CloseAll fires every client's closed signal. Used on shutdown; each write
// loop performs its final flush and closes its connection.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	var all []*client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range all {
		c.signalClosed()
	}
}
