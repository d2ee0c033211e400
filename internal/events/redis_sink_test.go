package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/state"
)

func newTestSink(t *testing.T, maxLen int64) (*RedisSink, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisSink(client, maxLen, zap.NewNop()), client
}

func TestRedisSinkAppendsTransitions(t *testing.T) {
	sink, client := newTestSink(t, 0)

	ts := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	sink.PublishTransition(state.TransitionEvent{
		TaskID:    "task-1",
		Version:   3,
		Stage:     "research",
		Status:    state.StatusRunning,
		Timestamp: ts,
	})
	sink.PublishTransition(state.TransitionEvent{
		TaskID:    "task-1",
		Version:   4,
		Stage:     "write",
		Status:    state.StatusRunning,
		Timestamp: ts.Add(time.Second),
	})
	sink.Close()

	ctx := context.Background()
	entries, err := client.XRange(ctx, StreamKey("task-1"), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "3", entries[0].Values["version"])
	assert.Equal(t, "research", entries[0].Values["stage"])
	assert.Equal(t, "running", entries[0].Values["status"])
	assert.Equal(t, "task-1", entries[0].Values["task_id"])
	assert.Equal(t, "4", entries[1].Values["version"])
	assert.Equal(t, "write", entries[1].Values["stage"])
}

func TestRedisSinkSeparateStreamsPerTask(t *testing.T) {
	sink, client := newTestSink(t, 0)

	sink.PublishTransition(state.TransitionEvent{TaskID: "a", Version: 1})
	sink.PublishTransition(state.TransitionEvent{TaskID: "b", Version: 1})
	sink.Close()

	ctx := context.Background()
	lenA, err := client.XLen(ctx, StreamKey("a")).Result()
	require.NoError(t, err)
	lenB, err := client.XLen(ctx, StreamKey("b")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), lenA)
	assert.Equal(t, int64(1), lenB)
}

func TestRedisSinkSurvivesBrokenConnection(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	sink := NewRedisSink(client, 0, zap.NewNop())

	mr.Close()

	// Fire-and-forget: must not panic or surface the write failure
	sink.PublishTransition(state.TransitionEvent{TaskID: "task-1", Version: 1})
	sink.Close()
}

func TestRedisSinkNeverBlocksPublisher(t *testing.T) {
	sink, _ := newTestSink(t, 0)

	// Stop the worker so nothing drains the queue, then publish well
	// past its capacity. Every call must return immediately via the
	// drop path; the test hangs if enqueueing ever blocks.
	sink.Close()
	for i := 0; i < 2*sinkQueueSize; i++ {
		sink.PublishTransition(state.TransitionEvent{TaskID: "task-1", Version: i + 1})
	}
}

func TestMultiFansOut(t *testing.T) {
	m := NewManager(0, zap.NewNop())
	sink, client := newTestSink(t, 0)

	ch := m.Subscribe("task-1", 10)
	defer m.Unsubscribe("task-1", ch)

	pub := Multi{m, sink, nil}
	pub.PublishTransition(state.TransitionEvent{TaskID: "task-1", Version: 2, Stage: "plan"})

	select {
	case ev := <-ch:
		assert.Equal(t, "plan", ev.Stage)
	case <-time.After(time.Second):
		t.Fatal("manager did not deliver")
	}

	sink.Close()
	n, err := client.XLen(context.Background(), StreamKey("task-1")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
