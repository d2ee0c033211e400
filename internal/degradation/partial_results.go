package degradation

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/fanout"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/metrics"
)

// Policy configures when partial section failure fails the whole task.
type Policy struct {
	// FailureRatioThreshold is the fraction of failed sections above which
	// the task fails. At or below it the task proceeds degraded.
	FailureRatioThreshold float64
}

// DefaultPolicy fails a task when more than half its sections failed.
func DefaultPolicy() Policy {
	return Policy{FailureRatioThreshold: 0.5}
}

// Aggregate is the task-level verdict over a fan-out's section jobs.
type Aggregate struct {
	Total          int       `json:"total"`
	Succeeded      int       `json:"succeeded"`
	Failed         int       `json:"failed"`
	FailureRatio   float64   `json:"failure_ratio"`
	Proceed        bool      `json:"proceed"`
	Degraded       bool      `json:"degraded"`
	Warning        string    `json:"warning,omitempty"`
	FailedSections []string  `json:"failed_sections,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Manager decides whether partial section failures are survivable.
type Manager struct {
	logger *zap.Logger
	policy Policy
}

// NewManager creates a partial-results manager.
func NewManager(policy Policy, logger *zap.Logger) *Manager {
	if policy.FailureRatioThreshold <= 0 {
		policy = DefaultPolicy()
	}
	return &Manager{logger: logger, policy: policy}
}

// Aggregate evaluates the completed section jobs against the failure-ratio
// policy. A task proceeds with the successful subset, flagged degraded,
// unless failures exceed the threshold.
func (m *Manager) Aggregate(jobs []fanout.SectionJob) Aggregate {
	agg := Aggregate{Total: len(jobs), Timestamp: time.Now()}

	for _, job := range jobs {
		switch job.Status {
		case fanout.JobDone:
			agg.Succeeded++
		case fanout.JobFailed:
			agg.Failed++
			agg.FailedSections = append(agg.FailedSections, job.SectionID)
		}
	}

	if agg.Total > 0 {
		agg.FailureRatio = float64(agg.Failed) / float64(agg.Total)
	}
	agg.Proceed = agg.FailureRatio <= m.policy.FailureRatioThreshold
	agg.Degraded = agg.Proceed && agg.Failed > 0

	if agg.Degraded {
		agg.Warning = fmt.Sprintf("%d of %d sections failed (%s); proceeding with successful subset",
			agg.Failed, agg.Total, strings.Join(agg.FailedSections, ", "))
		metrics.DegradedCompletions.Inc()
		m.logger.Warn("Proceeding with degraded section results",
			zap.Int("failed", agg.Failed),
			zap.Int("total", agg.Total),
			zap.Float64("failure_ratio", agg.FailureRatio),
			zap.Strings("failed_sections", agg.FailedSections),
		)
	} else if !agg.Proceed {
		m.logger.Error("Section failure ratio exceeds threshold, failing task",
			zap.Int("failed", agg.Failed),
			zap.Int("total", agg.Total),
			zap.Float64("failure_ratio", agg.FailureRatio),
			zap.Float64("threshold", m.policy.FailureRatioThreshold),
		)
	}

	return agg
}
