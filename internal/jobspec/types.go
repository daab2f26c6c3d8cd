// Package jobspec reads and writes the dependency-annotated job list: a YAML
// sequence of records, each naming its image, commands, environment and the
// jobs it depends on.
package jobspec

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/tandem/internal/diag"
	"github.com/mattjoyce/tandem/internal/graph"
)

// DefaultImage is written for jobs that carry no image.
const DefaultImage = "alpine:latest"

// Record is one job on the wire.
type Record struct {
	Name         string            `yaml:"name"`
	Image        string            `yaml:"image"`
	Commands     Commands          `yaml:"commands,omitempty"`
	Environment  map[string]string `yaml:"environment,omitempty"`
	Dependencies []string          `yaml:"dependencies,omitempty"`
}

// Commands is a possibly multi-line command block. A YAML list of strings is
// accepted on input and joined with newlines.
type Commands string

func (c *Commands) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*c = Commands(value.Value)
		return nil
	case yaml.SequenceNode:
		lines := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: commands list entries must be strings", item.Line)
			}
			lines = append(lines, item.Value)
		}
		*c = Commands(strings.Join(lines, "\n"))
		return nil
	default:
		return fmt.Errorf("line %d: commands must be a string or a list of strings", value.Line)
	}
}

// Result is the outcome of parsing a job list. It never carries an error:
// malformed input shows up as warnings and zero nodes.
type Result struct {
	Nodes      []*graph.Node    `json:"nodes"`
	Edges      []graph.Edge     `json:"edges"`
	Warnings   []diag.Warning   `json:"warnings,omitempty"`
	Unresolved []diag.Reference `json:"-"`
}

// NodeID returns the id assigned to the record declared at index.
func NodeID(index int) string {
	return fmt.Sprintf("job-%d", index)
}
