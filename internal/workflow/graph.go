package workflow

import (
	"context"
	"fmt"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/fanout"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/state"
)

// NodeKind classifies how the engine advances past a node.
type NodeKind int

const (
	KindSequential NodeKind = iota
	KindFanOut
	KindConditional
	KindTerminal
)

func (k NodeKind) String() string {
	switch k {
	case KindSequential:
		return "sequential"
	case KindFanOut:
		return "fan_out"
	case KindConditional:
		return "conditional"
	case KindTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// NodeResult is the partial patch a node execution produces. Nodes never
// mutate the snapshot they receive; each writes only under its own
// namespaced payload key.
type NodeResult struct {
	Patch    state.Patch
	Quality  *state.Quality
	Degraded bool
}

// Executor runs one pipeline stage against an immutable snapshot. Side
// effects are confined to the node's declared external collaborators.
type Executor func(ctx context.Context, snapshot state.TaskState) (NodeResult, error)

// Predicate selects the outgoing route of a conditional node. It must be
// pure; it is evaluated against the snapshot produced by the node's own
// execution.
type Predicate func(snapshot state.TaskState) string

// FanOutSpec configures a fan_out node: how to derive the section list
// from the current snapshot, the per-section worker, and the single
// payload key the ordered results merge under.
type FanOutSpec struct {
	Sections       func(snapshot state.TaskState) ([]fanout.SectionSpec, error)
	Worker         fanout.WorkerFunc
	MaxConcurrency int
	OutputKey      string
}

// FanOutResult is the value merged under a fan_out node's output key.
type FanOutResult struct {
	Jobs      []fanout.SectionJob `json:"jobs"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
}

// Node is one vertex of the workflow graph.
type Node struct {
	ID      string
	Kind    NodeKind
	Execute Executor     // sequential and (optionally) conditional nodes
	FanOut  *FanOutSpec  // fan_out nodes only
	Status  state.Status // terminal nodes only: the status they settle
}

// Graph is a declarative node/edge workflow definition. Build it with the
// Add* methods, then Validate before handing it to the engine.
type Graph struct {
	nodes       map[string]*Node
	order       []string
	edges       map[string]string
	routes      map[string]map[string]string
	predicates  map[string]Predicate
	entry       string
	failureNode string
	// declared back edges excluded from acyclicity validation; the
	// bound must be enforced by the routing predicate
	allowedBackEdges map[[2]string]bool
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:            make(map[string]*Node),
		edges:            make(map[string]string),
		routes:           make(map[string]map[string]string),
		predicates:       make(map[string]Predicate),
		allowedBackEdges: make(map[[2]string]bool),
	}
}

// AddNode registers a node. Duplicate ids are rejected.
func (g *Graph) AddNode(n Node) error {
	if n.ID == "" {
		return fmt.Errorf("node id must not be empty")
	}
	if _, exists := g.nodes[n.ID]; exists {
		return fmt.Errorf("node %q already defined", n.ID)
	}
	switch n.Kind {
	case KindFanOut:
		if n.FanOut == nil || n.FanOut.Sections == nil || n.FanOut.Worker == nil {
			return fmt.Errorf("fan_out node %q requires a section source and a worker", n.ID)
		}
		if n.FanOut.OutputKey == "" {
			n.FanOut.OutputKey = n.ID
		}
	case KindSequential:
		if n.Execute == nil {
			return fmt.Errorf("sequential node %q requires an executor", n.ID)
		}
	case KindTerminal:
		if !n.Status.IsTerminal() {
			return fmt.Errorf("terminal node %q must settle a terminal status", n.ID)
		}
	}
	node := n
	g.nodes[n.ID] = &node
	g.order = append(g.order, n.ID)
	return nil
}

// AddEdge adds the single outgoing edge of a sequential or fan_out node.
func (g *Graph) AddEdge(from, to string) error {
	if _, dup := g.edges[from]; dup {
		return fmt.Errorf("node %q already has an outgoing edge", from)
	}
	g.edges[from] = to
	return nil
}

// AddConditionalEdges attaches a predicate and its route table to a
// conditional node.
func (g *Graph) AddConditionalEdges(from string, predicate Predicate, routes map[string]string) error {
	if predicate == nil {
		return fmt.Errorf("conditional node %q requires a predicate", from)
	}
	if len(routes) == 0 {
		return fmt.Errorf("conditional node %q requires at least one route", from)
	}
	if _, dup := g.routes[from]; dup {
		return fmt.Errorf("node %q already has conditional edges", from)
	}
	g.predicates[from] = predicate
	g.routes[from] = routes
	return nil
}

// AllowBackEdge declares an intentional cycle edge. The engine does not
// bound it; the routing predicate must (e.g. on a revision counter).
func (g *Graph) AllowBackEdge(from, to string) {
	g.allowedBackEdges[[2]string{from, to}] = true
}

// SetEntry sets the node a task enters at.
func (g *Graph) SetEntry(id string) { g.entry = id }

// SetFailureNode sets the terminal node that unhandled node errors route
// to. The graph never leaves a task with no valid next node.
func (g *Graph) SetFailureNode(id string) { g.failureNode = id }

// Entry returns the entry node id.
func (g *Graph) Entry() string { return g.entry }

func (g *Graph) node(id string) (*Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("unknown node %q", id)
	}
	return n, nil
}

// outgoing returns every edge target of a node.
func (g *Graph) outgoing(id string) []string {
	var out []string
	if to, ok := g.edges[id]; ok {
		out = append(out, to)
	}
	for _, to := range g.routes[id] {
		out = append(out, to)
	}
	return out
}
