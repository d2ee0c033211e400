package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkwell_tasks_started_total",
			Help: "Total number of tasks started",
		},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_tasks_completed_total",
			Help: "Total number of tasks reaching a terminal state",
		},
		[]string{"status"},
	)

	TaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inkwell_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Node metrics
	NodeExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_node_executions_total",
			Help: "Total number of workflow node executions",
		},
		[]string{"node_id", "status"},
	)

	NodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inkwell_node_duration_ms",
			Help:    "Node execution duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
		[]string{"node_id"},
	)

	// State metrics
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_state_transitions_total",
			Help: "Total number of state transitions applied",
		},
		[]string{"stage"},
	)

	// Fan-out metrics
	SectionJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_section_jobs_total",
			Help: "Total number of section research jobs by final status",
		},
		[]string{"status"},
	)

	SectionWorkersInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkwell_section_workers_inflight",
			Help: "Number of section workers currently holding a semaphore slot",
		},
	)

	DegradedCompletions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkwell_degraded_completions_total",
			Help: "Tasks completed with partial section failures below the threshold",
		},
	)

	// Provider metrics
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_provider_calls_total",
			Help: "Total provider call attempts by endpoint and outcome",
		},
		[]string{"endpoint", "capability", "outcome"},
	)

	ProviderExhaustions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_provider_exhaustions_total",
			Help: "Calls where every endpoint for a capability failed",
		},
		[]string{"capability"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inkwell_circuit_breaker_state",
			Help: "Circuit breaker state per endpoint (0=closed, 1=half-open, 2=open)",
		},
		[]string{"endpoint"},
	)

	// Revise loop metrics
	ReviseIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inkwell_revise_iterations",
			Help:    "Number of revision iterations per revise loop run",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)

	ReviseOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_revise_outcomes_total",
			Help: "Revise loop outcomes (approved, exhausted, error)",
		},
		[]string{"outcome"},
	)

	QualityCompositeScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inkwell_quality_composite_score",
			Help:    "Composite quality scores produced by the quality gate",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	// Event sink metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_events_published_total",
			Help: "Transition events published to sinks",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
