package db

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/state"
)

const (
	recorderQueueSize = 1000
	recorderWorkers   = 4
	recorderTimeout   = 5 * time.Second
)

// Recorder persists state transitions asynchronously so the state store
// never waits on the database. It satisfies the store's publisher
// contract: enqueueing is non-blocking and a full queue drops the event
// with a log line instead of stalling the workflow.
type Recorder struct {
	client *Client
	queue  chan state.TransitionEvent
	stopCh chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewRecorder starts the persistence worker pool.
func NewRecorder(client *Client, logger *zap.Logger) *Recorder {
	r := &Recorder{
		client: client,
		queue:  make(chan state.TransitionEvent, recorderQueueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	for i := 0; i < recorderWorkers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// PublishTransition enqueues the transition for persistence.
func (r *Recorder) PublishTransition(ev state.TransitionEvent) {
	select {
	case r.queue <- ev:
	default:
		r.logger.Warn("Transition persistence queue full, dropping event",
			zap.String("task_id", ev.TaskID),
			zap.Int("version", ev.Version),
		)
	}
}

// Close drains the queue and stops the workers.
func (r *Recorder) Close() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.queue:
			r.persist(ev)
		case <-r.stopCh:
			// Drain what is already queued before exiting
			for {
				select {
				case ev := <-r.queue:
					r.persist(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) persist(ev state.TransitionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), recorderTimeout)
	defer cancel()

	err := r.client.SaveTransition(ctx, &TransitionRecord{
		TaskID:    ev.TaskID,
		Version:   ev.Version,
		Stage:     ev.Stage,
		Status:    string(ev.Status),
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		r.logger.Warn("Failed to persist transition",
			zap.String("task_id", ev.TaskID),
			zap.Int("version", ev.Version),
			zap.Error(err),
		)
	}
}
