// Package order reduces a pipeline graph to the shapes the textual codecs
// need: per-node dependency sets for the job list, and a single linear chain
// for the script and workflow generators.
package order

import (
	"github.com/mattjoyce/tandem/internal/graph"
)

// Dependencies maps each target node id to the ids of the sources of its
// incoming edges, deduplicated, in edge insertion order. Cycles are kept
// as-is; a dependency list is declarative, not an execution order.
func Dependencies(g *graph.Graph) map[string][]string {
	deps := make(map[string][]string)
	seen := make(map[string]map[string]struct{})
	for _, e := range g.Edges() {
		if seen[e.Target] == nil {
			seen[e.Target] = make(map[string]struct{})
		}
		if _, dup := seen[e.Target][e.Source]; dup {
			continue
		}
		seen[e.Target][e.Source] = struct{}{}
		deps[e.Target] = append(deps[e.Target], e.Source)
	}
	return deps
}

// Stop explains why linearization ended.
type Stop string

const (
	StopEnd     Stop = "end"
	StopBranch  Stop = "branch"
	StopCycle   Stop = "cycle"
	StopNoStart Stop = "no_start"
)

// Chain is the result of linearizing a graph.
type Chain struct {
	// Nodes starts with the start marker when one exists.
	Nodes []*graph.Node
	Stop  Stop
	// Omitted holds ids of nodes the chain did not reach, in graph order.
	Omitted []string
}

// Truncated reports whether some nodes could not be placed on the chain.
func (c Chain) Truncated() bool {
	return len(c.Omitted) > 0
}

// Steps returns the chain without the start marker.
func (c Chain) Steps() []*graph.Node {
	out := make([]*graph.Node, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.Kind != graph.KindStart {
			out = append(out, n)
		}
	}
	return out
}

// Linearize follows unique outgoing edges from the start marker. It stops at
// the first node with zero or several successors, or before revisiting a
// node, and keeps whatever prefix it accumulated.
func Linearize(g *graph.Graph) Chain {
	starts := g.NodesOfKind(graph.KindStart)
	if len(starts) == 0 {
		return Chain{Stop: StopNoStart, Omitted: ids(g.Nodes(), nil)}
	}

	visited := make(map[string]bool)
	current := starts[0]
	chain := Chain{Stop: StopEnd}
	for {
		chain.Nodes = append(chain.Nodes, current)
		visited[current.ID] = true

		out := g.OutgoingEdges(current.ID)
		if len(out) == 0 {
			break
		}
		if len(out) > 1 {
			chain.Stop = StopBranch
			break
		}
		if visited[out[0].Target] {
			chain.Stop = StopCycle
			break
		}
		current = g.FindNode(out[0].Target)
	}

	chain.Omitted = ids(g.Nodes(), visited)
	return chain
}

func ids(nodes []*graph.Node, skip map[string]bool) []string {
	var out []string
	for _, n := range nodes {
		if !skip[n.ID] {
			out = append(out, n.ID)
		}
	}
	return out
}
