// Package metrics tracks fan-out delivery counters and serves them in the
// Prometheus text exposition format.
package metrics

import (
	"sync/atomic"
)

// Priority label values for the dropped-event counter. Critical events are
// never dropped, so no critical series exists.
const (
	PriorityNormal  = "normal"
	PriorityPassive = "passive"
)

// Metrics holds process-wide delivery counters. All methods are safe for
// concurrent use.
type Metrics struct {
	batched        atomic.Uint64
	droppedNormal  atomic.Uint64
	droppedPassive atomic.Uint64
}

func New() *Metrics {
	return &Metrics{}
}

// AddBatched records n events delivered inside batch envelopes.
func (m *Metrics) AddBatched(n int) {
	m.batched.Add(uint64(n))
}

// AddDropped records one event dropped at enqueue because the target queue
// was full. priority must be PriorityNormal or PriorityPassive.
func (m *Metrics) AddDropped(priority string) {
	switch priority {
	case PriorityNormal:
		m.droppedNormal.Add(1)
	case PriorityPassive:
		m.droppedPassive.Add(1)
	}
}

// Batched returns the running batched-event total.
func (m *Metrics) Batched() uint64 {
	return m.batched.Load()
}

// Dropped returns the running dropped-event total for a priority label.
func (m *Metrics) Dropped(priority string) uint64 {
	switch priority {
	case PriorityNormal:
		return m.droppedNormal.Load()
	case PriorityPassive:
		return m.droppedPassive.Load()
	}
	return 0
}
