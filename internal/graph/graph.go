package graph

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrDuplicateNode = errors.New("duplicate node id")
	ErrDuplicateEdge = errors.New("duplicate edge")
	ErrUnknownNode   = errors.New("unknown node")
)

// Graph is the node and edge set of one pipeline. Lookups by id are O(1) and
// iteration follows insertion order so text generation is reproducible.
type Graph struct {
	nodes     []*Node
	nodeIndex map[string]int
	edges     []Edge
	edgeIndex map[string]int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodeIndex: make(map[string]int),
		edgeIndex: make(map[string]int),
	}
}

// Build assembles a graph from parsed nodes and edges. It fails on duplicate
// node ids and on edges whose endpoints are missing.
func Build(nodes []*Node, edges []Edge) (*Graph, error) {
	g := New()
	for _, n := range nodes {
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, e := range edges {
		if err := g.AddEdge(e); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// AddNode appends n. The graph takes ownership of the pointer.
func (g *Graph) AddNode(n *Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("node id is empty")
	}
	if _, exists := g.nodeIndex[n.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateNode, n.ID)
	}
	g.nodeIndex[n.ID] = len(g.nodes)
	g.nodes = append(g.nodes, n)
	return nil
}

// AddEdge appends e. Both endpoints must already exist. The model rejects a
// repeated edge id; callers that must avoid parallel edges check
// HasEdgeBetween first.
func (g *Graph) AddEdge(e Edge) error {
	if _, ok := g.nodeIndex[e.Source]; !ok {
		return fmt.Errorf("%w: edge source %q", ErrUnknownNode, e.Source)
	}
	if _, ok := g.nodeIndex[e.Target]; !ok {
		return fmt.Errorf("%w: edge target %q", ErrUnknownNode, e.Target)
	}
	if e.ID == "" {
		e.ID = EdgeID(e.Source, e.Target)
	}
	if _, exists := g.edgeIndex[e.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateEdge, e.ID)
	}
	g.edgeIndex[e.ID] = len(g.edges)
	g.edges = append(g.edges, e)
	return nil
}

// RemoveEdge deletes the edge with the given id and reports whether it existed.
func (g *Graph) RemoveEdge(id string) bool {
	idx, ok := g.edgeIndex[id]
	if !ok {
		return false
	}
	g.edges = append(g.edges[:idx], g.edges[idx+1:]...)
	g.reindexEdges()
	return true
}

// RemoveNode deletes a node together with every edge touching it.
func (g *Graph) RemoveNode(id string) bool {
	idx, ok := g.nodeIndex[id]
	if !ok {
		return false
	}
	g.nodes = append(g.nodes[:idx], g.nodes[idx+1:]...)
	delete(g.nodeIndex, id)
	for i := idx; i < len(g.nodes); i++ {
		g.nodeIndex[g.nodes[i].ID] = i
	}

	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.Source != id && e.Target != id {
			kept = append(kept, e)
		}
	}
	g.edges = kept
	g.reindexEdges()
	return true
}

func (g *Graph) reindexEdges() {
	g.edgeIndex = make(map[string]int, len(g.edges))
	for i, e := range g.edges {
		g.edgeIndex[e.ID] = i
	}
}

// FindNode returns the node with the given id, or nil.
func (g *Graph) FindNode(id string) *Node {
	idx, ok := g.nodeIndex[id]
	if !ok {
		return nil
	}
	return g.nodes[idx]
}

// FindEdge returns the edge with the given id.
func (g *Graph) FindEdge(id string) (Edge, bool) {
	idx, ok := g.edgeIndex[id]
	if !ok {
		return Edge{}, false
	}
	return g.edges[idx], true
}

// HasEdgeBetween reports whether an edge source -> target exists.
func (g *Graph) HasEdgeBetween(source, target string) bool {
	for _, e := range g.edges {
		if e.Source == source && e.Target == target {
			return true
		}
	}
	return false
}

// Nodes returns the nodes in insertion order. The slice is a copy; the
// pointers are shared.
func (g *Graph) Nodes() []*Node {
	return append([]*Node(nil), g.nodes...)
}

// Edges returns a copy of the edges in insertion order.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// NodesOfKind returns the nodes of kind k in insertion order.
func (g *Graph) NodesOfKind(k Kind) []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if n.Kind == k {
			out = append(out, n)
		}
	}
	return out
}

// IncomingEdges returns edges whose target is nodeID.
func (g *Graph) IncomingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Target == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// OutgoingEdges returns edges whose source is nodeID.
func (g *Graph) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// Clone returns a deep copy that shares nothing with g.
func (g *Graph) Clone() *Graph {
	out := New()
	for _, n := range g.nodes {
		c := n.Clone()
		out.nodeIndex[c.ID] = len(out.nodes)
		out.nodes = append(out.nodes, c)
	}
	out.edges = append([]Edge(nil), g.edges...)
	out.reindexEdges()
	return out
}

// IDAllocator hands out node ids of the form <prefix>-<seq>. Sequence numbers
// only grow, so an id is never handed out twice by the same allocator even
// after the node carrying it was removed.
type IDAllocator struct {
	prefix string
	next   int
}

// NewIDAllocator returns an allocator producing ids with the given prefix.
func NewIDAllocator(prefix string) *IDAllocator {
	return &IDAllocator{prefix: prefix}
}

// Next returns the next id not present in g.
func (a *IDAllocator) Next(g *Graph) string {
	for {
		a.next++
		id := a.prefix + "-" + strconv.Itoa(a.next)
		if g == nil || g.FindNode(id) == nil {
			return id
		}
	}
}
