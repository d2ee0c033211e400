package events

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/metrics"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/state"
)

// Event is one task lifecycle event as seen by stream consumers.
type Event struct {
	TaskID    string    `json:"task_id"`
	Type      string    `json:"type"`
	Stage     string    `json:"stage,omitempty"`
	Status    string    `json:"status,omitempty"`
	Version   int       `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

const TypeTransition = "transition"

// Marshal returns the event as JSON for stream payloads and logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

const defaultRingCapacity = 256

// Manager is an in-memory pub/sub hub for task events with a per-task
// ring buffer for replay. Delivery to subscribers is non-blocking; a
// slow subscriber loses events rather than stalling the publisher.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
	logger      *zap.Logger
}

// NewManager creates an event manager. capacity bounds per-task replay
// history; zero or negative selects the default.
func NewManager(capacity int, logger *zap.Logger) *Manager {
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		logger:      logger,
	}
}

// PublishTransition adapts a state transition into a stream event.
// It satisfies the state store's publisher contract: it never blocks
// and never reports failure back to the store.
func (m *Manager) PublishTransition(ev state.TransitionEvent) {
	m.Publish(Event{
		TaskID:    ev.TaskID,
		Type:      TypeTransition,
		Stage:     ev.Stage,
		Status:    string(ev.Status),
		Version:   ev.Version,
		Timestamp: ev.Timestamp,
	})
}

// Publish assigns the event its sequence number, records it for replay
// and fans it out to current subscribers of the task.
func (m *Manager) Publish(evt Event) {
	m.mu.Lock()
	rg := m.history[evt.TaskID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[evt.TaskID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)

	// Fan out under the lock so Unsubscribe cannot close a channel
	// mid-send; sends are non-blocking either way.
	for ch := range m.subscribers[evt.TaskID] {
		select {
		case ch <- evt:
		default:
			// Slow subscriber, drop
		}
	}
	m.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(evt.Type).Inc()
}

// Subscribe registers a buffered channel for taskID events. The caller
// must drain it and call Unsubscribe when done.
func (m *Manager) Subscribe(taskID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[taskID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[taskID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes the subscriber channel.
func (m *Manager) Unsubscribe(taskID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[taskID]; ok {
		if _, member := subs[ch]; member {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(m.subscribers, taskID)
		}
	}
}

// ReplaySince returns recorded events with Seq > since, best-effort
// within the ring capacity.
func (m *Manager) ReplaySince(taskID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[taskID]
	if rg == nil {
		m.mu.RUnlock()
		return nil
	}
	out := rg.since(since)
	m.mu.RUnlock()
	return out
}

// ring is a fixed-capacity event buffer.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
