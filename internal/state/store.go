package state

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/metrics"
)

// Publisher receives transition events. Delivery is fire-and-forget; the
// store never blocks on or retries a sink.
type Publisher interface {
	PublishTransition(ev TransitionEvent)
}

// Store keeps immutable, versioned task snapshots. Snapshot history is
// per-task append-only, so there is no cross-task contention beyond the
// map lock.
type Store struct {
	mu        sync.RWMutex
	tasks     map[string][]TaskState
	logger    *zap.Logger
	publisher Publisher
}

// NewStore creates a state store. publisher may be nil.
func NewStore(logger *zap.Logger, publisher Publisher) *Store {
	return &Store{
		tasks:     make(map[string][]TaskState),
		logger:    logger,
		publisher: publisher,
	}
}

// Create registers a new task at version 1 in pending status. The caller-
// supplied taskID is authoritative and is never rewritten; reusing an
// existing id is an error.
func (s *Store) Create(taskID string, payload map[string]interface{}) (TaskState, error) {
	if taskID == "" {
		return TaskState{}, fmt.Errorf("task id must not be empty")
	}

	s.mu.Lock()
	if _, exists := s.tasks[taskID]; exists {
		s.mu.Unlock()
		return TaskState{}, fmt.Errorf("task %q already exists", taskID)
	}

	now := time.Now()
	snap := TaskState{
		TaskID:    taskID,
		Version:   1,
		Status:    StatusPending,
		Payload:   clonePayload(payload),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.tasks[taskID] = []TaskState{snap}
	s.mu.Unlock()

	s.logger.Info("Task created",
		zap.String("task_id", taskID),
		zap.Int("version", snap.Version),
	)
	s.emit(snap)
	return snap, nil
}

// Apply produces the next snapshot for taskID from the given transition.
// Versions are strictly monotonic; applying to a task already in a
// terminal status is an error.
func (s *Store) Apply(taskID string, tr Transition) (TaskState, error) {
	s.mu.Lock()

	history, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return TaskState{}, fmt.Errorf("unknown task %q", taskID)
	}
	prev := history[len(history)-1]
	if prev.Status.IsTerminal() {
		s.mu.Unlock()
		return TaskState{}, fmt.Errorf("task %q already terminal (%s)", taskID, prev.Status)
	}

	next := prev
	next.Version = prev.Version + 1
	next.Payload = clonePayload(prev.Payload)
	next.UpdatedAt = time.Now()

	if tr.Stage != "" {
		next.Stage = tr.Stage
	}
	if tr.Status != "" {
		next.Status = tr.Status
	}
	for k, v := range tr.Patch {
		next.Payload[k] = v
	}
	if tr.Quality != nil {
		next.Quality = *tr.Quality
	}
	if tr.Error != nil {
		rec := *tr.Error
		if rec.Timestamp.IsZero() {
			rec.Timestamp = next.UpdatedAt
		}
		next.Control.Error = &rec
	}
	if tr.Degraded {
		next.Degraded = true
	}
	if tr.Cancel {
		next.Control.Cancelled = true
	}

	s.tasks[taskID] = append(history, next)
	s.mu.Unlock()

	metrics.StateTransitions.WithLabelValues(next.Stage).Inc()
	s.emit(next)
	return next, nil
}

// Cancel flips the cooperative cancellation flag on the next snapshot.
// Cancelling an already-terminal task is a no-op returning the terminal
// snapshot.
func (s *Store) Cancel(taskID string) (TaskState, error) {
	s.mu.RLock()
	history, ok := s.tasks[taskID]
	var last TaskState
	if ok {
		last = history[len(history)-1]
	}
	s.mu.RUnlock()

	if !ok {
		return TaskState{}, fmt.Errorf("unknown task %q", taskID)
	}
	if last.Status.IsTerminal() {
		return last, nil
	}
	return s.Apply(taskID, Transition{Cancel: true})
}

// Latest returns the newest snapshot for taskID.
func (s *Store) Latest(taskID string) (TaskState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history, ok := s.tasks[taskID]
	if !ok {
		return TaskState{}, false
	}
	snap := history[len(history)-1]
	snap.Payload = clonePayload(snap.Payload)
	return snap, true
}

// History returns all snapshots for taskID in version order.
func (s *Store) History(taskID string) []TaskState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.tasks[taskID]
	out := make([]TaskState, len(history))
	for i, snap := range history {
		snap.Payload = clonePayload(snap.Payload)
		out[i] = snap
	}
	return out
}

// emit is always called after the store lock is released: a slow
// publisher must never hold up concurrent readers or other tasks'
// transitions.
func (s *Store) emit(snap TaskState) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishTransition(TransitionEvent{
		TaskID:    snap.TaskID,
		Version:   snap.Version,
		Stage:     snap.Stage,
		Status:    snap.Status,
		Timestamp: snap.UpdatedAt,
	})
}
