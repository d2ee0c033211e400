package revise

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/metrics"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/quality"
)

// Phase is the loop state machine phase.
type Phase int

const (
	PhaseReviewing Phase = iota
	PhaseRevising
	PhaseApproved
	PhaseExhausted
)

func (p Phase) String() string {
	switch p {
	case PhaseReviewing:
		return "reviewing"
	case PhaseRevising:
		return "revising"
	case PhaseApproved:
		return "approved"
	case PhaseExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// ReviewerFunc evaluates content and returns a quality report.
type ReviewerFunc func(ctx context.Context, content string) (quality.Report, error)

// ReviserFunc produces improved content from the current content and the
// reviewer's per-criterion scores.
type ReviserFunc func(ctx context.Context, content string, criteriaScores map[string]float64) (string, error)

// Options configures a loop run.
type Options struct {
	MaxIterations int     // maximum reviser invocations, default 3
	Threshold     float64 // pass threshold handed to gate-backed reviewers, default 0.8
}

// DefaultOptions returns the default loop configuration.
func DefaultOptions() Options {
	return Options{MaxIterations: 3, Threshold: 0.8}
}

// Outcome is the terminal result of a loop run. Exhaustion is not an
// error: best-effort content is returned with the warning flag set.
type Outcome struct {
	Content    string
	Phase      Phase // PhaseApproved or PhaseExhausted
	Iterations int   // number of completed revisions
	History    []quality.Report
	Warning    string // set when exhausted
}

// Approved reports whether the loop terminated with approval.
func (o Outcome) Approved() bool { return o.Phase == PhaseApproved }

// LastScore returns the composite score of the most recent review, or 0.
func (o Outcome) LastScore() float64 {
	if len(o.History) == 0 {
		return 0
	}
	return o.History[len(o.History)-1].Composite
}

// Loop alternates a reviewer and a reviser until approval or the
// iteration cap. The two are never run concurrently; each call is
// synchronous with respect to the other even when it suspends internally
// on provider I/O.
type Loop struct {
	logger *zap.Logger
}

// NewLoop creates a revise loop controller.
func NewLoop(logger *zap.Logger) *Loop {
	return &Loop{logger: logger}
}

// Run drives the state machine. Termination is guaranteed within
// MaxIterations+1 reviewer calls and MaxIterations reviser calls. A
// reviser (or reviewer) error terminates the loop in the exhausted phase
// immediately with content rolled back to the pre-revision version; the
// loop never retries a failing reviser.
func (l *Loop) Run(ctx context.Context, initial string, reviewer ReviewerFunc, reviser ReviserFunc, opts Options) Outcome {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions().MaxIterations
	}

	content := initial
	iteration := 0
	var history []quality.Report

	for {
		if err := ctx.Err(); err != nil {
			return l.exhausted(content, iteration, history, fmt.Sprintf("cancelled: %v", err))
		}

		report, err := reviewer(ctx, content)
		if err != nil {
			l.logger.Warn("Reviewer failed, keeping current content",
				zap.Int("iteration", iteration),
				zap.Error(err),
			)
			return l.exhausted(content, iteration, history, fmt.Sprintf("reviewer failed: %v", err))
		}
		history = append(history, report)

		if report.Approved {
			l.logger.Info("Content approved",
				zap.Int("iterations", iteration),
				zap.Float64("composite", report.Composite),
			)
			metrics.ReviseIterations.Observe(float64(iteration))
			metrics.ReviseOutcomes.WithLabelValues("approved").Inc()
			return Outcome{
				Content:    content,
				Phase:      PhaseApproved,
				Iterations: iteration,
				History:    history,
			}
		}

		if iteration >= opts.MaxIterations {
			return l.exhausted(content, iteration, history,
				fmt.Sprintf("not approved after %d revisions (last score %.3f)", iteration, report.Composite))
		}

		revised, err := reviser(ctx, content, report.CriteriaScores)
		if err != nil {
			// Roll back to the pre-revision version; failing revisers are
			// never retried
			l.logger.Warn("Reviser failed, rolling back",
				zap.Int("iteration", iteration),
				zap.Error(err),
			)
			metrics.ReviseOutcomes.WithLabelValues("error").Inc()
			return l.exhausted(content, iteration, history, fmt.Sprintf("reviser failed: %v", err))
		}
		content = revised
		iteration++
	}
}

func (l *Loop) exhausted(content string, iterations int, history []quality.Report, warning string) Outcome {
	metrics.ReviseIterations.Observe(float64(iterations))
	metrics.ReviseOutcomes.WithLabelValues("exhausted").Inc()
	l.logger.Warn("Revise loop exhausted",
		zap.Int("iterations", iterations),
		zap.String("warning", warning),
	)
	return Outcome{
		Content:    content,
		Phase:      PhaseExhausted,
		Iterations: iterations,
		History:    history,
		Warning:    warning,
	}
}
