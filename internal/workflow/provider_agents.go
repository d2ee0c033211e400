package workflow

import (
	"context"
	"fmt"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/agents"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/fanout"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/providers"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/quality"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/state"
)

// ProviderAgentsConfig tunes the provider-backed agent set.
type ProviderAgentsConfig struct {
	QualityWeights   map[string]float64
	QualityThreshold float64
}

func defaultQualityWeights() map[string]float64 {
	return map[string]float64{
		"accuracy":     0.4,
		"completeness": 0.3,
		"clarity":      0.3,
	}
}

// NewProviderAgents builds the standard agent set on top of the
// failover client. Agent services speak a small JSON contract: every
// request carries a "role", the task's deterministic "agent" name for
// log correlation, plus role-specific fields, and every
// response is a JSON object whose interesting field depends on the
// role ("output" for generators, "sections" for the editor, "scores"
// for the reviewer).
func NewProviderAgents(client *providers.Client, gate *quality.Gate, cfg ProviderAgentsConfig) ResearchAgents {
	if len(cfg.QualityWeights) == 0 {
		cfg.QualityWeights = defaultQualityWeights()
	}
	if cfg.QualityThreshold == 0 {
		cfg.QualityThreshold = 0.8
	}

	return ResearchAgents{
		Search: func(ctx context.Context, snap state.TaskState) (interface{}, error) {
			query, _ := snap.Get(KeyQuery)
			// Live search first; if every search endpoint is down, fall
			// back to having the model recall sources from its own
			// knowledge so the pipeline can still proceed.
			strategies := []providers.Strategy[interface{}]{
				func(ctx context.Context) (interface{}, error) {
					resp, err := callProvider(ctx, client, providers.CapabilitySearch, map[string]interface{}{
						"role":    "search",
						"agent":   agents.Name(snap.TaskID, agents.IdxSearch),
						"task_id": snap.TaskID,
						"query":   query,
					})
					if err != nil {
						return nil, err
					}
					return resp["output"], nil
				},
				func(ctx context.Context) (interface{}, error) {
					resp, err := callProvider(ctx, client, providers.CapabilityLLM, map[string]interface{}{
						"role":    "recall_sources",
						"agent":   agents.Name(snap.TaskID, agents.IdxSearch),
						"task_id": snap.TaskID,
						"query":   query,
					})
					if err != nil {
						return nil, err
					}
					return resp["output"], nil
				},
			}
			return providers.FirstValid(ctx, strategies, func(v interface{}) bool { return v != nil })
		},

		Plan: func(ctx context.Context, snap state.TaskState) (interface{}, error) {
			query, _ := snap.Get(KeyQuery)
			sources, _ := snap.Get(NodeSearch)
			resp, err := callProvider(ctx, client, providers.CapabilityLLM, map[string]interface{}{
				"role":    "plan",
				"agent":   agents.Name(snap.TaskID, agents.IdxPlanner),
				"task_id": snap.TaskID,
				"query":   query,
				"sources": sources,
			})
			if err != nil {
				return nil, err
			}
			return resp["output"], nil
		},

		Editor: func(ctx context.Context, snap state.TaskState) (interface{}, error) {
			outline, _ := snap.Get(NodePlan)
			resp, err := callProvider(ctx, client, providers.CapabilityLLM, map[string]interface{}{
				"role":    "editor",
				"agent":   agents.Name(snap.TaskID, agents.IdxEditor),
				"task_id": snap.TaskID,
				"outline": outline,
			})
			if err != nil {
				return nil, err
			}
			return parseSections(resp["sections"])
		},

		Section: func(ctx context.Context, section fanout.SectionSpec) (interface{}, error) {
			resp, err := callProvider(ctx, client, providers.CapabilityLLM, map[string]interface{}{
				"role":       "section",
				"section_id": section.ID,
				"title":      section.Title,
				"brief":      section.Brief,
			})
			if err != nil {
				return nil, err
			}
			return resp["output"], nil
		},

		Write: func(ctx context.Context, snap state.TaskState) (interface{}, error) {
			query, _ := snap.Get(KeyQuery)
			resp, err := callProvider(ctx, client, providers.CapabilityLLM, map[string]interface{}{
				"role":     "write",
				"agent":    agents.Name(snap.TaskID, agents.IdxWriter),
				"task_id":  snap.TaskID,
				"query":    query,
				"sections": sectionResults(snap),
			})
			if err != nil {
				return nil, err
			}
			draft, ok := resp["output"].(string)
			if !ok {
				return nil, fmt.Errorf("writer response has no output text")
			}
			return draft, nil
		},

		Reviewer: func(ctx context.Context, content string) (quality.Report, error) {
			resp, err := callProvider(ctx, client, providers.CapabilityLLM, map[string]interface{}{
				"role":    "review",
				"content": content,
			})
			if err != nil {
				return quality.Report{}, err
			}
			scores, err := parseScores(resp["scores"])
			if err != nil {
				return quality.Report{}, err
			}
			return gate.Compose(scores, cfg.QualityWeights, cfg.QualityThreshold), nil
		},

		Reviser: func(ctx context.Context, content string, criteriaScores map[string]float64) (string, error) {
			resp, err := callProvider(ctx, client, providers.CapabilityLLM, map[string]interface{}{
				"role":    "revise",
				"content": content,
				"scores":  criteriaScores,
			})
			if err != nil {
				return "", err
			}
			revised, ok := resp["output"].(string)
			if !ok {
				return "", fmt.Errorf("reviser response has no output text")
			}
			return revised, nil
		},

		Publish: func(ctx context.Context, snap state.TaskState) (interface{}, error) {
			var content string
			if v, ok := snap.Get(NodeRevise); ok {
				if rr, isResult := v.(ReviseResult); isResult {
					content = rr.Content
				}
			}
			resp, err := callProvider(ctx, client, providers.CapabilityLLM, map[string]interface{}{
				"role":    "publish",
				"agent":   agents.Name(snap.TaskID, agents.IdxPublisher),
				"task_id": snap.TaskID,
				"content": content,
			})
			if err != nil {
				return nil, err
			}
			return resp["output"], nil
		},

		Translate: func(ctx context.Context, snap state.TaskState) (interface{}, error) {
			target, _ := snap.Get(KeyTranslateTo)
			published, _ := snap.Get(NodePublish)
			resp, err := callProvider(ctx, client, providers.CapabilityLLM, map[string]interface{}{
				"role":    "translate",
				"agent":   agents.Name(snap.TaskID, agents.IdxTranslator),
				"task_id": snap.TaskID,
				"target":  target,
				"content": published,
			})
			if err != nil {
				return nil, err
			}
			return resp["output"], nil
		},
	}
}

func callProvider(ctx context.Context, client *providers.Client, cap providers.Capability, request map[string]interface{}) (map[string]interface{}, error) {
	resp, err := client.Call(ctx, cap, request)
	if err != nil {
		return nil, err
	}
	m, ok := resp.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("provider returned unexpected payload %T", resp)
	}
	return m, nil
}

// sectionResults flattens the fan-out output into the successful
// section texts, index order preserved.
func sectionResults(snap state.TaskState) []map[string]interface{} {
	v, ok := snap.Get(NodeResearch)
	if !ok {
		return nil
	}
	result, ok := v.(FanOutResult)
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(result.Jobs))
	for _, job := range result.Jobs {
		if job.Status != fanout.JobDone {
			continue
		}
		out = append(out, map[string]interface{}{
			"section_id": job.SectionID,
			"content":    job.Result,
		})
	}
	return out
}

func parseSections(v interface{}) ([]fanout.SectionSpec, error) {
	raw, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("editor response has no section list")
	}
	sections := make([]fanout.SectionSpec, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("section %d has unexpected type %T", i, item)
		}
		spec := fanout.SectionSpec{}
		spec.ID, _ = m["id"].(string)
		spec.Title, _ = m["title"].(string)
		spec.Brief, _ = m["brief"].(string)
		if spec.ID == "" {
			spec.ID = fmt.Sprintf("section-%d", i)
		}
		sections = append(sections, spec)
	}
	return sections, nil
}

func parseScores(v interface{}) (map[string]float64, error) {
	raw, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("reviewer response has no scores")
	}
	scores := make(map[string]float64, len(raw))
	for name, val := range raw {
		f, ok := val.(float64)
		if !ok {
			return nil, fmt.Errorf("score %q has unexpected type %T", name, val)
		}
		scores[name] = f
	}
	return scores, nil
}
