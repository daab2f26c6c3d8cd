package graph

import (
	"encoding/json"
	"fmt"
)

// Document is the wire form of a graph exchanged with external collaborators.
type Document struct {
	Nodes []*Node `json:"nodes"`
	Edges []Edge  `json:"edges"`
}

// Document returns a deep-copied wire form of g.
func (g *Graph) Document() Document {
	c := g.Clone()
	doc := Document{Nodes: c.nodes, Edges: c.edges}
	if doc.Nodes == nil {
		doc.Nodes = []*Node{}
	}
	if doc.Edges == nil {
		doc.Edges = []Edge{}
	}
	return doc
}

// Graph validates the document and converts it into a graph.
func (d Document) Graph() (*Graph, error) {
	g, err := Build(d.Nodes, d.Edges)
	if err != nil {
		return nil, fmt.Errorf("invalid graph document: %w", err)
	}
	return g, nil
}

func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Document())
}

func (g *Graph) UnmarshalJSON(data []byte) error {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	built, err := doc.Graph()
	if err != nil {
		return err
	}
	*g = *built
	return nil
}
