package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/state"
)

// Validate checks the graph's structural invariants before execution:
// an entry node exists, every non-terminal node has at least one outgoing
// edge, terminal nodes have none, all edge targets exist, conditional
// nodes carry predicates, and the graph is acyclic apart from explicitly
// declared back edges. A workflow that would hang or dead-end is rejected
// at build time, not at task time.
func (g *Graph) Validate() error {
	if g.entry == "" {
		return fmt.Errorf("graph has no entry node")
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return fmt.Errorf("entry node %q is not defined", g.entry)
	}
	if g.failureNode != "" {
		fn, ok := g.nodes[g.failureNode]
		if !ok {
			return fmt.Errorf("failure node %q is not defined", g.failureNode)
		}
		if fn.Kind != KindTerminal || fn.Status != state.StatusFailed {
			return fmt.Errorf("failure node %q must be a terminal node settling failed status", g.failureNode)
		}
	}

	for _, id := range g.order {
		n := g.nodes[id]
		targets := g.outgoing(id)

		if n.Kind == KindTerminal {
			if len(targets) > 0 {
				return fmt.Errorf("terminal node %q must not have outgoing edges", id)
			}
			continue
		}
		if len(targets) == 0 {
			return fmt.Errorf("node %q has no outgoing edge", id)
		}
		if n.Kind == KindConditional {
			if g.predicates[id] == nil {
				return fmt.Errorf("conditional node %q has no predicate", id)
			}
		} else if len(g.routes[id]) > 0 {
			return fmt.Errorf("node %q is not conditional but has conditional edges", id)
		}
		for _, to := range targets {
			if _, ok := g.nodes[to]; !ok {
				return fmt.Errorf("edge %s -> %s points at an undefined node", id, to)
			}
		}
	}

	return g.checkAcyclic()
}

// checkAcyclic runs Kahn's algorithm over the edge set, excluding
// declared back edges. If any nodes remain with non-zero in-degree the
// graph contains an undeclared cycle.
func (g *Graph) checkAcyclic() error {
	inDegree := make(map[string]int, len(g.nodes))
	adjacency := make(map[string][]string, len(g.nodes))
	for _, id := range g.order {
		inDegree[id] = 0
	}
	for _, from := range g.order {
		for _, to := range g.outgoing(from) {
			if g.allowedBackEdges[[2]string{from, to}] {
				continue
			}
			adjacency[from] = append(adjacency[from], to)
			inDegree[to]++
		}
	}

	queue := make([]string, 0, len(g.nodes))
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range adjacency[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if processed == len(g.nodes) {
		return nil
	}

	var cycleNodes []string
	for id, degree := range inDegree {
		if degree > 0 {
			cycleNodes = append(cycleNodes, id)
		}
	}
	sort.Strings(cycleNodes)
	return fmt.Errorf("undeclared cycle involving nodes: %s", strings.Join(cycleNodes, ", "))
}
