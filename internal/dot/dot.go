// Package dot exports pipeline graphs as Graphviz DOT and reads them back.
package dot

import (
	"fmt"
	"strings"

	gographviz "github.com/awalterschulze/gographviz"

	"github.com/mattjoyce/tandem/internal/graph"
)

// DefaultName is the graph name used when none is given.
const DefaultName = "pipeline"

var (
	escaper   = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	unescaper = strings.NewReplacer(`\\`, `\`, `\"`, `"`, `\n`, "\n")
)

// Export renders g as a directed DOT graph. Node kind travels in the comment
// attribute and the command in the tooltip, so Import can rebuild the nodes.
func Export(g *graph.Graph, name string) (string, error) {
	if name == "" {
		name = DefaultName
	}
	out := gographviz.NewGraph()
	if err := out.SetName(quote(name)); err != nil {
		return "", fmt.Errorf("set graph name: %w", err)
	}
	if err := out.SetDir(true); err != nil {
		return "", fmt.Errorf("set directed: %w", err)
	}
	if err := out.AddAttr(quote(name), "rankdir", "LR"); err != nil {
		return "", fmt.Errorf("set rankdir: %w", err)
	}

	for _, n := range g.Nodes() {
		attrs := map[string]string{
			"label":   quote(n.Label()),
			"shape":   shape(n.Kind),
			"comment": quote(string(n.Kind)),
		}
		if n.Attrs.Command != "" {
			attrs["tooltip"] = quote(n.Attrs.Command)
		}
		if err := out.AddNode(quote(name), quote(n.ID), attrs); err != nil {
			return "", fmt.Errorf("add node %s: %w", n.ID, err)
		}
	}
	for _, e := range g.Edges() {
		if err := out.AddEdge(quote(e.Source), quote(e.Target), true, nil); err != nil {
			return "", fmt.Errorf("add edge %s: %w", e.ID, err)
		}
	}
	return out.String(), nil
}

// Import builds a graph from DOT source. Attributes other than label,
// comment and tooltip are ignored, and nodes only named by edges become
// custom nodes.
func Import(src string) (*graph.Graph, error) {
	ast, err := gographviz.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("dot parse error: %w", err)
	}
	c := newCollector()
	if err := gographviz.Analyse(ast, c); err != nil {
		return nil, fmt.Errorf("dot analyse error: %w", err)
	}

	g := graph.New()
	for _, id := range c.order {
		attrs := c.nodes[id]
		kind := graph.Kind(attrs["comment"])
		if !kind.Valid() {
			kind = graph.KindCustom
		}
		n := &graph.Node{ID: id, Kind: kind, Attrs: graph.Attributes{Command: attrs["tooltip"]}}
		if label := attrs["label"]; label != "" && label != kind.Title() {
			n.DisplayName = label
		}
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, e := range c.edges {
		if g.HasEdgeBetween(e[0], e[1]) {
			continue
		}
		if err := g.AddEdge(graph.Edge{Source: e[0], Target: e[1]}); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func shape(k graph.Kind) string {
	switch k {
	case graph.KindStart:
		return "Mdiamond"
	case graph.KindDeploy, graph.KindNotify:
		return "component"
	default:
		return "box"
	}
}

func quote(s string) string {
	return `"` + escaper.Replace(s) + `"`
}

// unquote strips surrounding double-quotes from a DOT id or attribute value.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return unescaper.Replace(s[1 : len(s)-1])
	}
	return s
}

// collector implements gographviz.Interface without attribute validation and
// remembers declaration order.
type collector struct {
	nodes map[string]map[string]string
	order []string
	edges [][2]string
}

func newCollector() *collector {
	return &collector{nodes: make(map[string]map[string]string)}
}

func (c *collector) SetStrict(_ bool) error { return nil }
func (c *collector) SetDir(_ bool) error    { return nil }
func (c *collector) SetName(_ string) error { return nil }
func (c *collector) String() string         { return "" }

func (c *collector) AddNode(_ string, name string, attrs map[string]string) error {
	id := unquote(name)
	if _, ok := c.nodes[id]; !ok {
		c.nodes[id] = make(map[string]string)
		c.order = append(c.order, id)
	}
	for k, v := range attrs {
		c.nodes[id][k] = unquote(v)
	}
	return nil
}

func (c *collector) AddEdge(src, dst string, _ bool, _ map[string]string) error {
	for _, end := range []string{src, dst} {
		if err := c.AddNode("", end, nil); err != nil {
			return err
		}
	}
	c.edges = append(c.edges, [2]string{unquote(src), unquote(dst)})
	return nil
}

func (c *collector) AddPortEdge(src, _, dst, _ string, directed bool, attrs map[string]string) error {
	return c.AddEdge(src, dst, directed, attrs)
}

func (c *collector) AddAttr(_ string, _, _ string) error { return nil }

func (c *collector) AddSubGraph(_, _ string, _ map[string]string) error { return nil }
