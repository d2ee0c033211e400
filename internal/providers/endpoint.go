package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Capability identifies the kind of upstream a provider endpoint serves.
type Capability string

const (
	CapabilityLLM    Capability = "llm"
	CapabilitySearch Capability = "search"
)

// CallFunc invokes the underlying provider. Implementations must return an
// error on timeout or upstream failure rather than a sentinel value, so
// failures stay distinguishable from legitimate empty results.
type CallFunc func(ctx context.Context, request interface{}) (interface{}, error)

// Endpoint describes one upstream provider. Endpoints are created at
// configuration load and never deleted during a process lifetime; all
// mutable health state lives in the circuit breaker tracker.
type Endpoint struct {
	ID         string
	Capability Capability
	Priority   int // lower is tried first
	Invoke     CallFunc
}

// Registry is an explicit, immutable-after-setup endpoint registry passed
// into the failover client at construction. It replaces any global mutable
// provider state.
type Registry struct {
	mu    sync.RWMutex
	byCap map[Capability][]Endpoint
	ids   map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byCap: make(map[Capability][]Endpoint),
		ids:   make(map[string]struct{}),
	}
}

// Register adds an endpoint. Duplicate ids are rejected.
func (r *Registry) Register(ep Endpoint) error {
	if ep.ID == "" {
		return fmt.Errorf("endpoint id must not be empty")
	}
	if ep.Invoke == nil {
		return fmt.Errorf("endpoint %q has no invoke function", ep.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ids[ep.ID]; exists {
		return fmt.Errorf("endpoint %q already registered", ep.ID)
	}
	r.ids[ep.ID] = struct{}{}
	r.byCap[ep.Capability] = append(r.byCap[ep.Capability], ep)
	return nil
}

// Endpoints returns the endpoints for a capability ordered by ascending
// priority, ties broken by registration order. The order is deterministic
// so call routing is reproducible given the same health state.
func (r *Registry) Endpoints(cap Capability) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	eps := r.byCap[cap]
	out := make([]Endpoint, len(eps))
	copy(out, eps)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}
