package jobspec

import (
	"bytes"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/tandem/internal/graph"
	"github.com/mattjoyce/tandem/internal/order"
)

// Generator writes a graph as a job list.
type Generator struct {
	// DefaultImage is used for jobs without an image.
	DefaultImage string
}

// Generate writes g using DefaultImage for jobs without one.
func Generate(g *graph.Graph) string {
	return Generator{}.Generate(g)
}

// Generate writes one record per non-start node. Records follow declaration
// order where known, then horizontal position. Dependency lists are derived
// from incoming edges, lowercased, deduplicated and sorted. An empty graph
// yields the empty string.
func (gen Generator) Generate(g *graph.Graph) string {
	image := gen.DefaultImage
	if image == "" {
		image = DefaultImage
	}

	nodes := Ordered(g)
	if len(nodes) == 0 {
		return ""
	}

	deps := order.Dependencies(g)
	records := make([]Record, 0, len(nodes))
	for _, n := range nodes {
		rec := Record{
			Name:        JobName(n),
			Image:       n.Attrs.Image,
			Commands:    Commands(n.Attrs.Command),
			Environment: n.Attrs.Env,
		}
		if rec.Image == "" {
			rec.Image = image
		}
		rec.Dependencies = dependencyNames(g, deps[n.ID])
		records = append(records, rec)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(records); err != nil {
		return ""
	}
	_ = enc.Close()
	return separateRecords(buf.String())
}

// Ordered returns the job nodes in output order.
func Ordered(g *graph.Graph) []*graph.Node {
	var nodes []*graph.Node
	for _, n := range g.Nodes() {
		if n.Kind != graph.KindStart {
			nodes = append(nodes, n)
		}
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		switch {
		case a.OrderIndex != nil && b.OrderIndex != nil:
			return *a.OrderIndex < *b.OrderIndex
		case a.OrderIndex != nil:
			return true
		case b.OrderIndex != nil:
			return false
		default:
			return a.Position.X < b.Position.X
		}
	})
	return nodes
}

// JobName is the record name written for n.
func JobName(n *graph.Node) string {
	if n.Name != "" {
		return n.Name
	}
	label := strings.ToLower(strings.TrimSpace(n.Label()))
	return strings.Join(strings.Fields(label), "-")
}

func dependencyNames(g *graph.Graph, sources []string) []string {
	seen := make(map[string]struct{}, len(sources))
	var names []string
	for _, id := range sources {
		src := g.FindNode(id)
		if src == nil || src.Kind == graph.KindStart {
			continue
		}
		name := strings.ToLower(JobName(src))
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// separateRecords inserts a blank line before every top-level record but the
// first.
func separateRecords(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines)+len(lines)/4)
	for i, line := range lines {
		if i > 0 && strings.HasPrefix(line, "- ") {
			out = append(out, "")
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
