package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/degradation"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/fanout"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/metrics"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/providers"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/state"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/tracing"
)

// ErrorRecord kinds written into control.error.
const (
	ErrKindProviderExhaustion    = "provider_exhaustion"
	ErrKindNodeExecution         = "node_execution"
	ErrKindPartialSectionFailure = "partial_section_failure"
	ErrKindRouting               = "routing"
)

// Engine drives one task at a time through a validated graph. Node
// execution within a task is strictly sequential except inside fan_out
// nodes; separate tasks run fully independently on separate Execute
// calls, sharing only the provider health tracker underneath.
type Engine struct {
	graph   *Graph
	store   *state.Store
	runner  *fanout.Runner
	partial *degradation.Manager
	logger  *zap.Logger
}

// NewEngine creates an engine for a validated graph.
func NewEngine(graph *Graph, store *state.Store, runner *fanout.Runner, partial *degradation.Manager, logger *zap.Logger) (*Engine, error) {
	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow graph: %w", err)
	}
	if graph.failureNode == "" {
		return nil, fmt.Errorf("graph has no failure terminal; node errors would have no valid next node")
	}
	return &Engine{
		graph:   graph,
		store:   store,
		runner:  runner,
		partial: partial,
		logger:  logger,
	}, nil
}

// Execute runs taskID from the graph's entry node to a terminal node and
// returns the terminal snapshot. The caller-supplied taskID is
// authoritative and is used unchanged for state, events and artifacts.
// The caller always receives a terminal state (completed, failed with a
// structured error record, or cancelled) rather than a propagated node
// error.
func (e *Engine) Execute(ctx context.Context, taskID string, initialPayload map[string]interface{}) (state.TaskState, error) {
	if _, ok := e.store.Latest(taskID); !ok {
		if _, err := e.store.Create(taskID, initialPayload); err != nil {
			return state.TaskState{}, err
		}
	}

	metrics.TasksStarted.Inc()
	started := time.Now()
	e.logger.Info("Task execution started",
		zap.String("task_id", taskID),
		zap.String("entry", e.graph.entry),
	)

	current := e.graph.entry
	for {
		snap, ok := e.store.Latest(taskID)
		if !ok {
			return state.TaskState{}, fmt.Errorf("task %q disappeared from state store", taskID)
		}
		if snap.Status.IsTerminal() {
			return snap, nil
		}

		// Cooperative cancellation, checked before every node dispatch.
		// An in-flight node call is never pre-empted.
		if snap.Control.Cancelled || ctx.Err() != nil {
			return e.finish(taskID, current, state.StatusCancelled, started)
		}

		node, err := e.graph.node(current)
		if err != nil {
			return state.TaskState{}, err
		}

		if node.Kind == KindTerminal {
			return e.finish(taskID, node.ID, node.Status, started)
		}

		next, execErr := e.executeNode(ctx, node, snap)
		if execErr != nil {
			current = e.routeToFailure(taskID, node.ID, execErr)
			continue
		}
		current = next
	}
}

// executeNode runs one non-terminal node against the given snapshot,
// applies its transition, and returns the next node id.
func (e *Engine) executeNode(ctx context.Context, node *Node, snap state.TaskState) (string, error) {
	nodeCtx, span := tracing.StartNodeSpan(ctx, snap.TaskID, node.ID)
	defer span.End()

	start := time.Now()
	e.logger.Debug("Executing node",
		zap.String("task_id", snap.TaskID),
		zap.String("node_id", node.ID),
		zap.String("kind", node.Kind.String()),
		zap.Int("version", snap.Version),
	)

	var result NodeResult
	var err error
	switch node.Kind {
	case KindFanOut:
		result, err = e.executeFanOut(nodeCtx, node, snap)
	default:
		if node.Execute != nil {
			result, err = node.Execute(nodeCtx, snap)
		}
	}

	metrics.NodeDuration.WithLabelValues(node.ID).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.NodeExecutions.WithLabelValues(node.ID, "error").Inc()
		return "", err
	}
	metrics.NodeExecutions.WithLabelValues(node.ID, "ok").Inc()

	newSnap, err := e.store.Apply(snap.TaskID, state.Transition{
		Stage:    node.ID,
		Status:   state.StatusRunning,
		Patch:    result.Patch,
		Quality:  result.Quality,
		Degraded: result.Degraded,
	})
	if err != nil {
		return "", err
	}

	return e.nextNode(node, newSnap)
}

// executeFanOut delegates to the section runner and merges the ordered
// results into the payload patch under the node's single output key.
func (e *Engine) executeFanOut(ctx context.Context, node *Node, snap state.TaskState) (NodeResult, error) {
	sections, err := node.FanOut.Sections(snap)
	if err != nil {
		return NodeResult{}, fmt.Errorf("deriving sections: %w", err)
	}

	jobs := e.runner.Run(ctx, sections, node.FanOut.Worker, node.FanOut.MaxConcurrency)

	// Cancellation mid-fan-out: do not judge a partial job list; the
	// driver loop settles the task as cancelled on its next check.
	if ctx.Err() != nil {
		return NodeResult{Patch: state.Patch{node.FanOut.OutputKey: FanOutResult{Jobs: jobs}}}, nil
	}

	agg := e.partial.Aggregate(jobs)
	if !agg.Proceed {
		return NodeResult{}, &partialFailureError{agg: agg}
	}

	return NodeResult{
		Patch: state.Patch{node.FanOut.OutputKey: FanOutResult{
			Jobs:      jobs,
			Succeeded: agg.Succeeded,
			Failed:    agg.Failed,
		}},
		Degraded: agg.Degraded,
	}, nil
}

// nextNode resolves the outgoing edge. Conditional predicates are
// evaluated against the snapshot produced by the node's own execution.
func (e *Engine) nextNode(node *Node, snap state.TaskState) (string, error) {
	if node.Kind == KindConditional {
		key := e.graph.predicates[node.ID](snap)
		to, ok := e.graph.routes[node.ID][key]
		if !ok {
			return "", &routingError{nodeID: node.ID, key: key}
		}
		return to, nil
	}
	to, ok := e.graph.edges[node.ID]
	if !ok {
		return "", &routingError{nodeID: node.ID, key: ""}
	}
	return to, nil
}

// routeToFailure records the node error into control.error and points the
// cursor at the failure terminal.
func (e *Engine) routeToFailure(taskID, nodeID string, err error) string {
	rec := &state.ErrorRecord{
		Kind:    classifyError(err),
		Message: err.Error(),
		NodeID:  nodeID,
	}
	e.logger.Error("Node execution failed, routing to failure terminal",
		zap.String("task_id", taskID),
		zap.String("node_id", nodeID),
		zap.String("kind", rec.Kind),
		zap.Error(err),
	)
	if _, applyErr := e.store.Apply(taskID, state.Transition{Stage: nodeID, Error: rec}); applyErr != nil {
		e.logger.Error("Failed to record node error", zap.Error(applyErr))
	}
	return e.graph.failureNode
}

// finish settles the task in a terminal status and returns the terminal
// snapshot.
func (e *Engine) finish(taskID, stage string, status state.Status, started time.Time) (state.TaskState, error) {
	snap, err := e.store.Apply(taskID, state.Transition{Stage: stage, Status: status})
	if err != nil {
		// The task may already be terminal (e.g. cancelled twice)
		if latest, ok := e.store.Latest(taskID); ok && latest.Status.IsTerminal() {
			return latest, nil
		}
		return state.TaskState{}, err
	}

	metrics.TasksCompleted.WithLabelValues(string(status)).Inc()
	metrics.TaskDuration.Observe(time.Since(started).Seconds())
	e.logger.Info("Task reached terminal state",
		zap.String("task_id", taskID),
		zap.String("status", string(status)),
		zap.Bool("degraded", snap.Degraded),
		zap.Int("final_version", snap.Version),
		zap.Duration("duration", time.Since(started)),
	)
	return snap, nil
}

type partialFailureError struct {
	agg degradation.Aggregate
}

func (e *partialFailureError) Error() string {
	return fmt.Sprintf("%d of %d sections failed (ratio %.2f exceeds threshold)",
		e.agg.Failed, e.agg.Total, e.agg.FailureRatio)
}

type routingError struct {
	nodeID string
	key    string
}

func (e *routingError) Error() string {
	if e.key == "" {
		return fmt.Sprintf("node %q has no outgoing edge", e.nodeID)
	}
	return fmt.Sprintf("node %q has no route for predicate result %q", e.nodeID, e.key)
}

func classifyError(err error) string {
	var exhaustion *providers.ExhaustionError
	var partial *partialFailureError
	var routing *routingError
	switch {
	case errors.As(err, &exhaustion):
		return ErrKindProviderExhaustion
	case errors.As(err, &partial):
		return ErrKindPartialSectionFailure
	case errors.As(err, &routing):
		return ErrKindRouting
	default:
		return ErrKindNodeExecution
	}
}
