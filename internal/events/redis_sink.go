package events

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/state"
)

const (
	streamKeyPrefix  = "inkwell:events:"
	defaultStreamLen = 1000
	sinkQueueSize    = 256
	sinkTimeout      = 2 * time.Second
)

// RedisSink appends task transition events to a per-task Redis Stream
// so external consumers can tail task progress. Like every publisher,
// it is fire-and-forget: appends happen on a background worker fed by
// a bounded queue, so a slow or unreachable Redis never blocks the
// state store. A full queue drops the event with a log line; write
// failures are logged and dropped, never surfaced.
type RedisSink struct {
	client *redis.Client
	maxLen int64
	queue  chan state.TransitionEvent
	stopCh chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewRedisSink creates a Redis Streams sink and starts its worker.
// maxLen caps each task's stream length; zero or negative selects the
// default.
func NewRedisSink(client *redis.Client, maxLen int64, logger *zap.Logger) *RedisSink {
	if maxLen <= 0 {
		maxLen = defaultStreamLen
	}
	s := &RedisSink{
		client: client,
		maxLen: maxLen,
		queue:  make(chan state.TransitionEvent, sinkQueueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// StreamKey returns the Redis Stream key for a task.
func StreamKey(taskID string) string { return streamKeyPrefix + taskID }

// PublishTransition enqueues the transition for appending. It never
// blocks.
func (s *RedisSink) PublishTransition(ev state.TransitionEvent) {
	select {
	case s.queue <- ev:
	default:
		s.logger.Warn("Redis event queue full, dropping transition",
			zap.String("task_id", ev.TaskID),
			zap.Int("version", ev.Version),
		)
	}
}

// Close drains the queue and stops the worker.
func (s *RedisSink) Close() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *RedisSink) worker() {
	defer s.wg.Done()
	for {
		select {
		case ev := <-s.queue:
			s.append(ev)
		case <-s.stopCh:
			// Drain what is already queued before exiting
			for {
				select {
				case ev := <-s.queue:
					s.append(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *RedisSink) append(ev state.TransitionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(ev.TaskID),
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":      TypeTransition,
			"task_id":   ev.TaskID,
			"version":   strconv.Itoa(ev.Version),
			"stage":     ev.Stage,
			"status":    string(ev.Status),
			"timestamp": ev.Timestamp.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		s.logger.Warn("Failed to append transition to Redis stream",
			zap.String("task_id", ev.TaskID),
			zap.Int("version", ev.Version),
			zap.Error(err),
		)
	}
}

// Multi fans one transition out to several publishers.
type Multi []state.Publisher

func (m Multi) PublishTransition(ev state.TransitionEvent) {
	for _, p := range m {
		if p != nil {
			p.PublishTransition(ev)
		}
	}
}
