package fanout

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/agents"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/metrics"
)

// JobStatus is the lifecycle status of a single section job. A job
// transitions exactly once: queued -> running -> done|failed.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// SectionSpec describes one independent research section.
type SectionSpec struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Brief string `json:"brief,omitempty"`
}

// SectionJob is the per-section execution record. Result is set only on
// done, Error only on failed. Jobs are never retried here; retries belong
// to the provider failover layer below.
type SectionJob struct {
	SectionID  string        `json:"section_id"`
	Status     JobStatus     `json:"status"`
	Result     interface{}   `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	DurationMs time.Duration `json:"-"`
}

// WorkerFunc researches one section.
type WorkerFunc func(ctx context.Context, section SectionSpec) (interface{}, error)

// DefaultMaxConcurrency bounds parallel section workers when the caller
// does not specify a limit.
const DefaultMaxConcurrency = 3

// Runner executes independent section jobs with bounded concurrency and a
// deterministic ordered merge.
type Runner struct {
	logger *zap.Logger
}

// NewRunner creates a fan-out runner.
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run launches one worker per section, at most maxConcurrency in flight,
// and returns jobs index-aligned with the input regardless of completion
// order. A single section's failure never cancels its siblings.
//
// Cancellation is cooperative and observed between dispatches only:
// already-dispatched workers run to completion on an uncancellable child
// context so in-flight provider calls are not cut off mid-write, and
// sections not yet dispatched stay queued.
func (r *Runner) Run(ctx context.Context, sections []SectionSpec, worker WorkerFunc, maxConcurrency int) []SectionJob {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	jobs := make([]SectionJob, len(sections))
	for i := range sections {
		jobs[i] = SectionJob{SectionID: sections[i].ID, Status: JobQueued}
	}

	r.logger.Info("Starting section fan-out",
		zap.Int("sections", len(sections)),
		zap.Int("max_concurrency", maxConcurrency),
	)

	workerCtx := context.WithoutCancel(ctx)
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

dispatch:
	for i := range sections {
		// Cancellation wins over a free slot: a bare select picks
		// randomly when both are ready
		if ctx.Err() != nil {
			r.logger.Info("Cancellation observed, stopping section dispatch",
				zap.Int("dispatched", i),
				zap.Int("remaining", len(sections)-i),
			)
			break
		}
		select {
		case <-ctx.Done():
			r.logger.Info("Cancellation observed, stopping section dispatch",
				zap.Int("dispatched", i),
				zap.Int("remaining", len(sections)-i),
			)
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			metrics.SectionWorkersInflight.Inc()
			defer metrics.SectionWorkersInflight.Dec()

			// Each goroutine owns exactly one slice index
			jobs[i].Status = JobRunning
			workerName := agents.Name(sections[i].ID, agents.IdxSectionBase+i)
			start := time.Now()
			result, err := worker(workerCtx, sections[i])
			jobs[i].DurationMs = time.Since(start)

			if err != nil {
				jobs[i].Status = JobFailed
				jobs[i].Error = err.Error()
				metrics.SectionJobs.WithLabelValues(string(JobFailed)).Inc()
				r.logger.Warn("Section job failed",
					zap.String("section_id", sections[i].ID),
					zap.String("worker", workerName),
					zap.Error(err),
				)
				return
			}
			jobs[i].Status = JobDone
			jobs[i].Result = result
			metrics.SectionJobs.WithLabelValues(string(JobDone)).Inc()
		}(i)
	}

	wg.Wait()
	return jobs
}
