package degradation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/fanout"
)

func jobsWith(statuses ...fanout.JobStatus) []fanout.SectionJob {
	jobs := make([]fanout.SectionJob, len(statuses))
	for i, s := range statuses {
		jobs[i] = fanout.SectionJob{SectionID: string(rune('a' + i)), Status: s}
	}
	return jobs
}

func TestAggregateAllSucceeded(t *testing.T) {
	m := NewManager(DefaultPolicy(), zaptest.NewLogger(t))

	agg := m.Aggregate(jobsWith(fanout.JobDone, fanout.JobDone, fanout.JobDone))
	assert.True(t, agg.Proceed)
	assert.False(t, agg.Degraded)
	assert.Empty(t, agg.Warning)
}

func TestAggregateMinorityFailureProceedsDegraded(t *testing.T) {
	m := NewManager(DefaultPolicy(), zaptest.NewLogger(t))

	// 1 of 3 failed: ratio 0.33 below the 0.5 threshold
	agg := m.Aggregate(jobsWith(fanout.JobDone, fanout.JobFailed, fanout.JobDone))
	assert.True(t, agg.Proceed)
	assert.True(t, agg.Degraded)
	assert.Equal(t, []string{"b"}, agg.FailedSections)
	assert.NotEmpty(t, agg.Warning)
}

func TestAggregateExactThresholdProceeds(t *testing.T) {
	m := NewManager(DefaultPolicy(), zaptest.NewLogger(t))

	// Exactly half failed: "more than 50%" is required to fail the task
	agg := m.Aggregate(jobsWith(fanout.JobDone, fanout.JobFailed, fanout.JobDone, fanout.JobFailed))
	assert.True(t, agg.Proceed)
	assert.True(t, agg.Degraded)
}

func TestAggregateMajorityFailureFails(t *testing.T) {
	m := NewManager(DefaultPolicy(), zaptest.NewLogger(t))

	agg := m.Aggregate(jobsWith(fanout.JobFailed, fanout.JobFailed, fanout.JobDone))
	assert.False(t, agg.Proceed)
	assert.False(t, agg.Degraded)
}

func TestAggregateCustomThreshold(t *testing.T) {
	m := NewManager(Policy{FailureRatioThreshold: 0.25}, zaptest.NewLogger(t))

	agg := m.Aggregate(jobsWith(fanout.JobDone, fanout.JobDone, fanout.JobFailed))
	assert.False(t, agg.Proceed, "0.33 ratio exceeds 0.25 threshold")
}

func TestAggregateEmpty(t *testing.T) {
	m := NewManager(DefaultPolicy(), zaptest.NewLogger(t))

	agg := m.Aggregate(nil)
	assert.True(t, agg.Proceed)
	assert.False(t, agg.Degraded)
	assert.Zero(t, agg.FailureRatio)
}
