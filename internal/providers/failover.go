package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/circuitbreaker"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/metrics"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/tracing"
)

// Config holds per-attempt timeouts by capability.
type Config struct {
	LLMTimeout    time.Duration
	SearchTimeout time.Duration
}

// DefaultConfig returns the default per-attempt timeouts.
func DefaultConfig() Config {
	return Config{
		LLMTimeout:    30 * time.Second,
		SearchTimeout: 15 * time.Second,
	}
}

// AttemptError records the failure of a single endpoint attempt.
type AttemptError struct {
	EndpointID string
	Err        error
}

// ExhaustionError is returned when every endpoint for a capability failed
// or was unavailable. It is fatal for the calling node; the failover
// client never retries past it.
type ExhaustionError struct {
	Capability Capability
	Attempts   []AttemptError
}

func (e *ExhaustionError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.EndpointID, a.Err))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("no endpoints available for capability %q", e.Capability)
	}
	return fmt.Sprintf("all %s endpoints exhausted: %s", e.Capability, strings.Join(parts, "; "))
}

// Client routes calls across a prioritized endpoint list with per-attempt
// timeout, health-gated skipping and failover. Transient single-call
// failures are handled entirely in here; only total exhaustion surfaces
// to the caller.
type Client struct {
	registry *Registry
	tracker  *circuitbreaker.Tracker
	limits   *RateLimits
	config   Config
	logger   *zap.Logger
}

// NewClient creates a failover client. limits may be nil.
func NewClient(registry *Registry, tracker *circuitbreaker.Tracker, limits *RateLimits, config Config, logger *zap.Logger) *Client {
	if config.LLMTimeout == 0 {
		config.LLMTimeout = DefaultConfig().LLMTimeout
	}
	if config.SearchTimeout == 0 {
		config.SearchTimeout = DefaultConfig().SearchTimeout
	}
	return &Client{
		registry: registry,
		tracker:  tracker,
		limits:   limits,
		config:   config,
		logger:   logger,
	}
}

// Call iterates endpoints for the capability in deterministic priority
// order, skipping unavailable ones, and returns the first success. Every
// attempt outcome is recorded into the health tracker.
func (c *Client) Call(ctx context.Context, cap Capability, request interface{}) (interface{}, error) {
	endpoints := c.registry.Endpoints(cap)
	exhaustion := &ExhaustionError{Capability: cap}

	for _, ep := range endpoints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !c.tracker.IsAvailable(ep.ID) {
			c.logger.Debug("Skipping unavailable endpoint",
				zap.String("endpoint", ep.ID),
				zap.String("capability", string(cap)),
			)
			metrics.ProviderCalls.WithLabelValues(ep.ID, string(cap), "skipped").Inc()
			continue
		}
		if err := c.limits.Wait(ctx, ep.ID); err != nil {
			// IsAvailable may have reserved the half-open probe slot;
			// an abandoned attempt must hand it back
			c.tracker.Release(ep.ID)
			return nil, err
		}

		resp, err := c.attempt(ctx, cap, ep, request)
		if err != nil {
			// Caller cancellation is not an endpoint failure, but the
			// probe reservation still has to be released
			if ctx.Err() != nil {
				c.tracker.Release(ep.ID)
				return nil, ctx.Err()
			}
			c.tracker.Record(ep.ID, circuitbreaker.OutcomeFailure)
			metrics.ProviderCalls.WithLabelValues(ep.ID, string(cap), "failure").Inc()
			c.logger.Warn("Provider call failed, trying next endpoint",
				zap.String("endpoint", ep.ID),
				zap.String("capability", string(cap)),
				zap.Error(err),
			)
			exhaustion.Attempts = append(exhaustion.Attempts, AttemptError{EndpointID: ep.ID, Err: err})
			continue
		}

		c.tracker.Record(ep.ID, circuitbreaker.OutcomeSuccess)
		metrics.ProviderCalls.WithLabelValues(ep.ID, string(cap), "success").Inc()
		return resp, nil
	}

	metrics.ProviderExhaustions.WithLabelValues(string(cap)).Inc()
	c.logger.Error("All provider endpoints exhausted",
		zap.String("capability", string(cap)),
		zap.Int("endpoints", len(endpoints)),
		zap.Int("attempts", len(exhaustion.Attempts)),
	)
	return nil, exhaustion
}

func (c *Client) attempt(ctx context.Context, cap Capability, ep Endpoint, request interface{}) (interface{}, error) {
	timeout := c.config.LLMTimeout
	if cap == CapabilitySearch {
		timeout = c.config.SearchTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	attemptCtx, span := tracing.StartProviderSpan(attemptCtx, string(cap), ep.ID)
	defer span.End()
	return ep.Invoke(attemptCtx, request)
}
