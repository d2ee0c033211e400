package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/degradation"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/fanout"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/providers"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/state"
)

func newTestEngine(t *testing.T, g *Graph) (*Engine, *state.Store) {
	logger := zaptest.NewLogger(t)
	store := state.NewStore(logger, nil)
	engine, err := NewEngine(g, store, fanout.NewRunner(logger), degradation.NewManager(degradation.DefaultPolicy(), logger), logger)
	require.NoError(t, err)
	return engine, store
}

func linearGraph(t *testing.T, executors map[string]Executor) *Graph {
	g := NewGraph()
	ids := []string{"first", "second"}
	for _, id := range ids {
		exec := executors[id]
		if exec == nil {
			id := id
			exec = func(ctx context.Context, snap state.TaskState) (NodeResult, error) {
				return NodeResult{Patch: state.Patch{id: "ok"}}, nil
			}
		}
		require.NoError(t, g.AddNode(Node{ID: id, Kind: KindSequential, Execute: exec}))
	}
	require.NoError(t, g.AddNode(terminalNode("done", state.StatusCompleted)))
	require.NoError(t, g.AddNode(terminalNode("failed", state.StatusFailed)))
	require.NoError(t, g.AddEdge("first", "second"))
	require.NoError(t, g.AddEdge("second", "done"))
	g.SetEntry("first")
	g.SetFailureNode("failed")
	return g
}

func TestExecuteLinearPipeline(t *testing.T) {
	engine, store := newTestEngine(t, linearGraph(t, nil))

	final, err := engine.Execute(context.Background(), "task-1", map[string]interface{}{"query": "q"})
	require.NoError(t, err)

	assert.Equal(t, state.StatusCompleted, final.Status)
	assert.Equal(t, "done", final.Stage)
	assert.Equal(t, "ok", final.Payload["first"])
	assert.Equal(t, "ok", final.Payload["second"])

	// create + 2 node transitions + terminal settle
	history := store.History("task-1")
	assert.Len(t, history, 4)
	assert.Equal(t, 4, final.Version)
}

func TestExecutePreservesCallerTaskID(t *testing.T) {
	engine, _ := newTestEngine(t, linearGraph(t, nil))

	callerID := "caller-supplied-2024"
	final, err := engine.Execute(context.Background(), callerID, nil)
	require.NoError(t, err)
	assert.Equal(t, callerID, final.TaskID, "caller-supplied id must never be overridden")
}

func TestExecuteNodeErrorRoutesToFailureTerminal(t *testing.T) {
	g := linearGraph(t, map[string]Executor{
		"second": func(ctx context.Context, snap state.TaskState) (NodeResult, error) {
			return NodeResult{}, errors.New("agent crashed")
		},
	})
	engine, _ := newTestEngine(t, g)

	final, err := engine.Execute(context.Background(), "task-1", nil)
	require.NoError(t, err, "node errors must settle the task, not surface")

	assert.Equal(t, state.StatusFailed, final.Status)
	require.NotNil(t, final.Control.Error)
	assert.Equal(t, ErrKindNodeExecution, final.Control.Error.Kind)
	assert.Equal(t, "second", final.Control.Error.NodeID)
	assert.Contains(t, final.Control.Error.Message, "agent crashed")
}

func TestExecuteProviderExhaustionClassified(t *testing.T) {
	g := linearGraph(t, map[string]Executor{
		"first": func(ctx context.Context, snap state.TaskState) (NodeResult, error) {
			return NodeResult{}, &providers.ExhaustionError{
				Capability: providers.CapabilityLLM,
				Attempts:   []providers.AttemptError{{EndpointID: "primary", Err: errors.New("timeout")}},
			}
		},
	})
	engine, _ := newTestEngine(t, g)

	final, err := engine.Execute(context.Background(), "task-1", nil)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, final.Status)
	require.NotNil(t, final.Control.Error)
	assert.Equal(t, ErrKindProviderExhaustion, final.Control.Error.Kind)
}

func TestExecuteConditionalRouting(t *testing.T) {
	build := func(route string) *Graph {
		g := NewGraph()
		require.NoError(t, g.AddNode(Node{ID: "decide", Kind: KindConditional, Execute: func(ctx context.Context, snap state.TaskState) (NodeResult, error) {
			return NodeResult{Patch: state.Patch{"decide": route}}, nil
		}}))
		require.NoError(t, g.AddNode(Node{ID: "left", Kind: KindSequential, Execute: func(ctx context.Context, snap state.TaskState) (NodeResult, error) {
			return NodeResult{Patch: state.Patch{"left": true}}, nil
		}}))
		require.NoError(t, g.AddNode(Node{ID: "right", Kind: KindSequential, Execute: func(ctx context.Context, snap state.TaskState) (NodeResult, error) {
			return NodeResult{Patch: state.Patch{"right": true}}, nil
		}}))
		require.NoError(t, g.AddNode(terminalNode("done", state.StatusCompleted)))
		require.NoError(t, g.AddNode(terminalNode("failed", state.StatusFailed)))
		// Predicate runs against the snapshot produced by the node itself
		require.NoError(t, g.AddConditionalEdges("decide", func(snap state.TaskState) string {
			v, _ := snap.Get("decide")
			s, _ := v.(string)
			return s
		}, map[string]string{"left": "left", "right": "right"}))
		require.NoError(t, g.AddEdge("left", "done"))
		require.NoError(t, g.AddEdge("right", "done"))
		g.SetEntry("decide")
		g.SetFailureNode("failed")
		return g
	}

	engine, _ := newTestEngine(t, build("left"))
	final, err := engine.Execute(context.Background(), "t-left", nil)
	require.NoError(t, err)
	assert.Equal(t, true, final.Payload["left"])
	_, tookRight := final.Payload["right"]
	assert.False(t, tookRight)

	engine, _ = newTestEngine(t, build("right"))
	final, err = engine.Execute(context.Background(), "t-right", nil)
	require.NoError(t, err)
	assert.Equal(t, true, final.Payload["right"])
}

func TestExecuteUnmatchedRouteFailsTask(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddNode(Node{ID: "decide", Kind: KindConditional}))
	require.NoError(t, g.AddNode(terminalNode("done", state.StatusCompleted)))
	require.NoError(t, g.AddNode(terminalNode("failed", state.StatusFailed)))
	require.NoError(t, g.AddConditionalEdges("decide", func(snap state.TaskState) string {
		return "unmapped"
	}, map[string]string{"known": "done"}))
	g.SetEntry("decide")
	g.SetFailureNode("failed")

	engine, _ := newTestEngine(t, g)
	final, err := engine.Execute(context.Background(), "task-1", nil)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, final.Status)
	require.NotNil(t, final.Control.Error)
	assert.Equal(t, ErrKindRouting, final.Control.Error.Kind)
}

func fanOutGraph(t *testing.T, worker fanout.WorkerFunc, sections []fanout.SectionSpec) *Graph {
	g := NewGraph()
	require.NoError(t, g.AddNode(Node{
		ID:   "sections",
		Kind: KindFanOut,
		FanOut: &FanOutSpec{
			Sections: func(snap state.TaskState) ([]fanout.SectionSpec, error) {
				return sections, nil
			},
			Worker:         worker,
			MaxConcurrency: 2,
			OutputKey:      "sections",
		},
	}))
	require.NoError(t, g.AddNode(terminalNode("done", state.StatusCompleted)))
	require.NoError(t, g.AddNode(terminalNode("failed", state.StatusFailed)))
	require.NoError(t, g.AddEdge("sections", "done"))
	g.SetEntry("sections")
	g.SetFailureNode("failed")
	return g
}

func TestExecuteFanOutMergesOrderedResults(t *testing.T) {
	sections := []fanout.SectionSpec{{ID: "s0"}, {ID: "s1"}, {ID: "s2"}}
	worker := func(ctx context.Context, s fanout.SectionSpec) (interface{}, error) {
		if s.ID == "s1" {
			return nil, errors.New("providers exhausted for section")
		}
		return "researched " + s.ID, nil
	}

	engine, _ := newTestEngine(t, fanOutGraph(t, worker, sections))
	final, err := engine.Execute(context.Background(), "task-1", nil)
	require.NoError(t, err)

	// 1 of 3 failed: below the 50% threshold, task proceeds degraded
	assert.Equal(t, state.StatusCompleted, final.Status)
	assert.True(t, final.Degraded)

	result, ok := final.Payload["sections"].(FanOutResult)
	require.True(t, ok)
	require.Len(t, result.Jobs, 3)
	assert.Equal(t, fanout.JobDone, result.Jobs[0].Status)
	assert.Equal(t, fanout.JobFailed, result.Jobs[1].Status)
	assert.Equal(t, fanout.JobDone, result.Jobs[2].Status)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
}

func TestExecuteFanOutMajorityFailureFailsTask(t *testing.T) {
	sections := []fanout.SectionSpec{{ID: "s0"}, {ID: "s1"}, {ID: "s2"}}
	worker := func(ctx context.Context, s fanout.SectionSpec) (interface{}, error) {
		if s.ID == "s0" {
			return "ok", nil
		}
		return nil, errors.New("boom")
	}

	engine, _ := newTestEngine(t, fanOutGraph(t, worker, sections))
	final, err := engine.Execute(context.Background(), "task-1", nil)
	require.NoError(t, err)

	assert.Equal(t, state.StatusFailed, final.Status)
	require.NotNil(t, final.Control.Error)
	assert.Equal(t, ErrKindPartialSectionFailure, final.Control.Error.Kind)
}

func TestExecuteCancellationBeforeDispatch(t *testing.T) {
	firstRan := false
	g := linearGraph(t, map[string]Executor{
		"first": func(ctx context.Context, snap state.TaskState) (NodeResult, error) {
			firstRan = true
			return NodeResult{}, nil
		},
	})
	engine, store := newTestEngine(t, g)

	_, err := store.Create("task-1", nil)
	require.NoError(t, err)
	_, err = store.Cancel("task-1")
	require.NoError(t, err)

	final, err := engine.Execute(context.Background(), "task-1", nil)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCancelled, final.Status)
	assert.False(t, firstRan, "no node may run after cancellation")
}

func TestExecuteCancellationMidRun(t *testing.T) {
	var store *state.Store
	engine, store := newTestEngine(t, linearGraph(t, map[string]Executor{
		"first": func(ctx context.Context, snap state.TaskState) (NodeResult, error) {
			// Cancel while the first node is in flight; it completes
			// normally and the driver observes the flag before "second"
			_, err := store.Cancel(snap.TaskID)
			return NodeResult{Patch: state.Patch{"first": "finished"}}, err
		},
		"second": func(ctx context.Context, snap state.TaskState) (NodeResult, error) {
			t.Fatal("second node must not be dispatched after cancellation")
			return NodeResult{}, nil
		},
	}))

	final, err := engine.Execute(context.Background(), "task-1", nil)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCancelled, final.Status)
	assert.Equal(t, "finished", final.Payload["first"], "in-flight node output is kept")
}

func TestExecuteCancelledMidFanOut(t *testing.T) {
	sections := make([]fanout.SectionSpec, 6)
	for i := range sections {
		sections[i] = fanout.SectionSpec{ID: fmt.Sprintf("s%d", i)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	worker := func(wctx context.Context, s fanout.SectionSpec) (interface{}, error) {
		cancel()
		time.Sleep(10 * time.Millisecond)
		return "done", nil
	}

	engine, _ := newTestEngine(t, fanOutGraph(t, worker, sections))
	final, err := engine.Execute(ctx, "task-1", nil)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCancelled, final.Status, "cancel mid-fan-out settles the task cancelled")
}

func TestExecuteAlreadyTerminalReturnsSnapshot(t *testing.T) {
	engine, _ := newTestEngine(t, linearGraph(t, nil))

	first, err := engine.Execute(context.Background(), "task-1", nil)
	require.NoError(t, err)
	require.True(t, first.Status.IsTerminal())

	again, err := engine.Execute(context.Background(), "task-1", nil)
	require.NoError(t, err)
	assert.Equal(t, first.Version, again.Version, "re-executing a terminal task must not re-run nodes")
}
