package circuitbreaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/metrics"
)

// State represents the circuit breaker state of a single endpoint
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Outcome is the result of a single provider call attempt
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

// Config holds circuit breaker configuration
type Config struct {
	FailureThreshold uint32        // Consecutive failures before opening
	Cooldown         time.Duration // Time to wait before allowing a half-open probe
	OnStateChange    func(endpointID string, from State, to State)
}

// DefaultConfig returns sensible defaults for the health tracker
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
	}
}

// health is the mutable per-endpoint record. It is the only mutable field
// of an endpoint during the process lifetime; endpoints are never deleted.
type health struct {
	state               State
	consecutiveFailures uint32
	openedAt            time.Time
	probeInFlight       bool
}

// Tracker tracks consecutive failures per upstream endpoint and implements
// the closed/open/half-open circuit breaker state machine. It is the one
// piece of state shared across concurrent tasks: reads take the shared
// lock, writes are serialized.
type Tracker struct {
	mu        sync.RWMutex
	config    Config
	logger    *zap.Logger
	endpoints map[string]*health

	// now is swappable for tests
	now func() time.Time
}

// NewTracker creates a health tracker
func NewTracker(config Config, logger *zap.Logger) *Tracker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.Cooldown == 0 {
		config.Cooldown = DefaultConfig().Cooldown
	}
	return &Tracker{
		config:    config,
		logger:    logger,
		endpoints: make(map[string]*health),
		now:       time.Now,
	}
}

// IsAvailable reports whether a call to the endpoint may proceed. While
// open it returns false until the cooldown elapses, at which point the
// endpoint transitions to half-open and exactly one probe call is
// admitted; further callers see false until that probe's outcome is
// recorded.
func (t *Tracker) IsAvailable(endpointID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.endpointLocked(endpointID)
	switch h.state {
	case StateClosed:
		return true
	case StateOpen:
		if t.now().Sub(h.openedAt) < t.config.Cooldown {
			return false
		}
		t.setStateLocked(endpointID, h, StateHalfOpen)
		h.probeInFlight = true
		return true
	case StateHalfOpen:
		if h.probeInFlight {
			return false
		}
		h.probeInFlight = true
		return true
	}
	return false
}

// Record registers the outcome of a call attempt against the endpoint.
func (t *Tracker) Record(endpointID string, outcome Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.endpointLocked(endpointID)
	switch outcome {
	case OutcomeSuccess:
		h.consecutiveFailures = 0
		h.probeInFlight = false
		if h.state != StateClosed {
			t.setStateLocked(endpointID, h, StateClosed)
		}
	case OutcomeFailure:
		h.consecutiveFailures++
		h.probeInFlight = false
		switch h.state {
		case StateClosed:
			if h.consecutiveFailures >= t.config.FailureThreshold {
				h.openedAt = t.now()
				t.setStateLocked(endpointID, h, StateOpen)
			}
		case StateHalfOpen:
			// Failed probe re-opens and restarts the cooldown
			h.openedAt = t.now()
			t.setStateLocked(endpointID, h, StateOpen)
		}
	}
}

// Release abandons an admitted attempt without recording an outcome.
// It clears any half-open probe reservation so an attempt cut short
// before producing a result (caller cancellation, rate-limiter error)
// does not leave the endpoint unavailable forever.
func (t *Tracker) Release(endpointID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.endpoints[endpointID]; ok {
		h.probeInFlight = false
	}
}

// StateOf returns the current state of the endpoint without side effects.
func (t *Tracker) StateOf(endpointID string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if h, ok := t.endpoints[endpointID]; ok {
		return h.state
	}
	return StateClosed
}

// ConsecutiveFailures returns the current failure streak for the endpoint.
func (t *Tracker) ConsecutiveFailures(endpointID string) uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if h, ok := t.endpoints[endpointID]; ok {
		return h.consecutiveFailures
	}
	return 0
}

func (t *Tracker) endpointLocked(endpointID string) *health {
	h, ok := t.endpoints[endpointID]
	if !ok {
		h = &health{state: StateClosed}
		t.endpoints[endpointID] = h
	}
	return h
}

func (t *Tracker) setStateLocked(endpointID string, h *health, to State) {
	if h.state == to {
		return
	}
	from := h.state
	h.state = to

	metrics.CircuitBreakerState.WithLabelValues(endpointID).Set(stateGaugeValue(to))

	if t.config.OnStateChange != nil {
		t.config.OnStateChange(endpointID, from, to)
	}

	t.logger.Info("Circuit breaker state changed",
		zap.String("endpoint", endpointID),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Uint32("consecutive_failures", h.consecutiveFailures),
	)
}

func stateGaugeValue(s State) float64 {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	default:
		return 2
	}
}
