package workflow

import (
	"context"
	"fmt"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/fanout"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/quality"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/revise"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/state"
)

// Node ids of the standard research pipeline. Each node's payload output
// lives under its own id, so agents cannot silently collide in the
// shared payload.
const (
	NodeSearch        = "search"
	NodePlan          = "plan"
	NodeEditor        = "editor"
	NodeResearch      = "research"
	NodeWrite         = "write"
	NodeRevise        = "revise"
	NodePublish       = "publish"
	NodeTranslateGate = "translate_gate"
	NodeTranslate     = "translate"
	NodeComplete      = "complete"
	NodeFailed        = "failed"
)

// Initial-payload keys supplied by the caller.
const (
	KeyQuery       = "query"
	KeyTranslateTo = "translate_to"
)

// AgentFunc is one opaque pipeline agent. It receives an immutable
// snapshot and returns the node's output value; the graph stores it
// under the node's own payload key.
type AgentFunc func(ctx context.Context, snapshot state.TaskState) (interface{}, error)

// ResearchAgents are the external agent collaborators of the standard
// pipeline. Translate may be nil, which drops the translation stage.
type ResearchAgents struct {
	Search    AgentFunc
	Plan      AgentFunc
	Editor    AgentFunc // must return []fanout.SectionSpec
	Section   fanout.WorkerFunc
	Write     AgentFunc // must return the draft report string
	Reviewer  revise.ReviewerFunc
	Reviser   revise.ReviserFunc
	Publish   AgentFunc
	Translate AgentFunc
}

// ResearchConfig tunes the standard pipeline.
type ResearchConfig struct {
	MaxConcurrency int
	Revise         revise.Options
}

// ReviseResult is the value stored under the revise node's payload key.
type ReviseResult struct {
	Content    string           `json:"content"`
	Iterations int              `json:"iterations"`
	Approved   bool             `json:"approved"`
	Warning    string           `json:"warning,omitempty"`
	History    []quality.Report `json:"history"`
}

// NewResearchGraph builds the standard report pipeline:
// search -> plan -> editor -> research fan-out -> write -> revise ->
// publish -> optional translate -> complete, with a shared failure
// terminal.
func NewResearchGraph(agents ResearchAgents, loop *revise.Loop, cfg ResearchConfig) (*Graph, error) {
	g := NewGraph()

	sequential := []struct {
		id string
		fn AgentFunc
	}{
		{NodeSearch, agents.Search},
		{NodePlan, agents.Plan},
		{NodeEditor, agents.Editor},
		{NodeWrite, agents.Write},
		{NodePublish, agents.Publish},
	}
	for _, n := range sequential {
		if n.fn == nil {
			return nil, fmt.Errorf("agent for node %q is required", n.id)
		}
		if err := g.AddNode(Node{ID: n.id, Kind: KindSequential, Execute: wrapAgent(n.id, n.fn)}); err != nil {
			return nil, err
		}
	}

	if err := g.AddNode(Node{
		ID:   NodeResearch,
		Kind: KindFanOut,
		FanOut: &FanOutSpec{
			Sections:       sectionsFromEditor,
			Worker:         agents.Section,
			MaxConcurrency: cfg.MaxConcurrency,
			OutputKey:      NodeResearch,
		},
	}); err != nil {
		return nil, err
	}

	if err := g.AddNode(Node{
		ID:      NodeRevise,
		Kind:    KindSequential,
		Execute: reviseExecutor(loop, agents.Reviewer, agents.Reviser, cfg.Revise),
	}); err != nil {
		return nil, err
	}

	if err := g.AddNode(Node{ID: NodeComplete, Kind: KindTerminal, Status: state.StatusCompleted}); err != nil {
		return nil, err
	}
	if err := g.AddNode(Node{ID: NodeFailed, Kind: KindTerminal, Status: state.StatusFailed}); err != nil {
		return nil, err
	}

	edges := [][2]string{
		{NodeSearch, NodePlan},
		{NodePlan, NodeEditor},
		{NodeEditor, NodeResearch},
		{NodeResearch, NodeWrite},
		{NodeWrite, NodeRevise},
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, err
		}
	}

	if agents.Translate != nil {
		if err := g.AddNode(Node{ID: NodeTranslateGate, Kind: KindConditional}); err != nil {
			return nil, err
		}
		if err := g.AddNode(Node{ID: NodeTranslate, Kind: KindSequential, Execute: wrapAgent(NodeTranslate, agents.Translate)}); err != nil {
			return nil, err
		}
		if err := g.AddEdge(NodeRevise, NodePublish); err != nil {
			return nil, err
		}
		if err := g.AddEdge(NodePublish, NodeTranslateGate); err != nil {
			return nil, err
		}
		if err := g.AddConditionalEdges(NodeTranslateGate, translatePredicate, map[string]string{
			"translate": NodeTranslate,
			"skip":      NodeComplete,
		}); err != nil {
			return nil, err
		}
		if err := g.AddEdge(NodeTranslate, NodeComplete); err != nil {
			return nil, err
		}
	} else {
		if err := g.AddEdge(NodeRevise, NodePublish); err != nil {
			return nil, err
		}
		if err := g.AddEdge(NodePublish, NodeComplete); err != nil {
			return nil, err
		}
	}

	g.SetEntry(NodeSearch)
	g.SetFailureNode(NodeFailed)

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// wrapAgent confines an agent's output to its own payload key.
func wrapAgent(nodeID string, fn AgentFunc) Executor {
	return func(ctx context.Context, snap state.TaskState) (NodeResult, error) {
		out, err := fn(ctx, snap)
		if err != nil {
			return NodeResult{}, err
		}
		return NodeResult{Patch: state.Patch{nodeID: out}}, nil
	}
}

// sectionsFromEditor reads the editor's section list out of the payload.
func sectionsFromEditor(snap state.TaskState) ([]fanout.SectionSpec, error) {
	v, ok := snap.Get(NodeEditor)
	if !ok {
		return nil, fmt.Errorf("editor output missing from payload")
	}
	sections, ok := v.([]fanout.SectionSpec)
	if !ok {
		return nil, fmt.Errorf("editor output has unexpected type %T", v)
	}
	return sections, nil
}

// reviseExecutor runs the bounded reviewer/reviser loop as a single
// node. Exhaustion is not an error: best-effort content proceeds with
// the task flagged degraded.
func reviseExecutor(loop *revise.Loop, reviewer revise.ReviewerFunc, reviser revise.ReviserFunc, opts revise.Options) Executor {
	return func(ctx context.Context, snap state.TaskState) (NodeResult, error) {
		v, ok := snap.Get(NodeWrite)
		if !ok {
			return NodeResult{}, fmt.Errorf("writer output missing from payload")
		}
		draft, ok := v.(string)
		if !ok {
			return NodeResult{}, fmt.Errorf("writer output has unexpected type %T", v)
		}

		outcome := loop.Run(ctx, draft, reviewer, reviser, opts)
		return NodeResult{
			Patch: state.Patch{NodeRevise: ReviseResult{
				Content:    outcome.Content,
				Iterations: outcome.Iterations,
				Approved:   outcome.Approved(),
				Warning:    outcome.Warning,
				History:    outcome.History,
			}},
			Quality: &state.Quality{
				RevisionCount: outcome.Iterations,
				LastScore:     outcome.LastScore(),
				Approved:      outcome.Approved(),
			},
			Degraded: !outcome.Approved(),
		}, nil
	}
}

// translatePredicate routes to the translation stage when the caller
// asked for a target language in the initial payload.
func translatePredicate(snap state.TaskState) string {
	if lang, ok := snap.Get(KeyTranslateTo); ok {
		if s, isStr := lang.(string); isStr && s != "" {
			return "translate"
		}
	}
	return "skip"
}
