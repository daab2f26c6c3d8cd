package jobspec

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/tandem/internal/diag"
	"github.com/mattjoyce/tandem/internal/graph"
)

// Parse converts a job list into graph nodes and edges. Edges point from a
// dependency to the job that depends on it. Node ids follow declaration
// position, so re-parsing text whose prefix is unchanged yields the same ids.
// Dependency names that match no job are skipped.
func Parse(text string) *Result {
	res := &Result{}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		res.Warnings = append(res.Warnings, diag.Parsef(0, "invalid YAML: %v", err))
		return res
	}
	if len(doc.Content) == 0 {
		return res
	}
	root := doc.Content[0]
	if root.Kind != yaml.SequenceNode {
		res.Warnings = append(res.Warnings, diag.Parsef(root.Line, "expected a list of jobs"))
		return res
	}

	type parsed struct {
		node *graph.Node
		deps []string
	}
	var jobs []parsed
	byName := make(map[string]string)

	for i, item := range root.Content {
		if item.Kind != yaml.MappingNode {
			res.Warnings = append(res.Warnings, diag.Parsef(item.Line, "job %d is not a mapping", i+1))
			continue
		}
		var rec Record
		if err := item.Decode(&rec); err != nil {
			res.Warnings = append(res.Warnings, diag.Parsef(item.Line, "job %d: %v", i+1, err))
			continue
		}

		name := strings.TrimSpace(rec.Name)
		if name == "" {
			name = NodeID(i)
		}
		node := &graph.Node{
			ID:          NodeID(i),
			Kind:        inferKind(name),
			Name:        name,
			DisplayName: graph.TitleCase(name),
			Attrs: graph.Attributes{
				Image:   strings.TrimSpace(rec.Image),
				Command: string(rec.Commands),
				Env:     rec.Environment,
			},
			OrderIndex: graph.Index(i),
		}

		key := strings.ToLower(name)
		if _, dup := byName[key]; dup {
			res.Warnings = append(res.Warnings, diag.Parsef(item.Line, "duplicate job name %q; dependencies resolve to the first", name))
		} else {
			byName[key] = node.ID
		}
		jobs = append(jobs, parsed{node: node, deps: rec.Dependencies})
	}

	for _, job := range jobs {
		res.Nodes = append(res.Nodes, job.node)
	}

	seen := make(map[string]bool)
	for _, job := range jobs {
		for _, dep := range job.deps {
			depName := strings.ToLower(strings.TrimSpace(dep))
			source, ok := byName[depName]
			if !ok {
				res.Unresolved = append(res.Unresolved, diag.Reference{From: job.node.Name, Name: dep})
				continue
			}
			id := graph.EdgeID(source, job.node.ID)
			if seen[id] {
				continue
			}
			seen[id] = true
			res.Edges = append(res.Edges, graph.Edge{ID: id, Source: source, Target: job.node.ID})
		}
	}
	return res
}

// inferKind guesses the node kind from a job name.
func inferKind(name string) graph.Kind {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "checkout"), strings.Contains(n, "clone"):
		return graph.KindCheckout
	case strings.Contains(n, "install"), strings.Contains(n, "deps"):
		return graph.KindInstall
	case strings.Contains(n, "docker"), strings.Contains(n, "image"):
		return graph.KindDockerBuild
	case strings.Contains(n, "test"):
		return graph.KindTest
	case strings.Contains(n, "build"), strings.Contains(n, "compile"):
		return graph.KindBuild
	case strings.Contains(n, "deploy"), strings.Contains(n, "release"):
		return graph.KindDeploy
	case strings.Contains(n, "notify"), strings.Contains(n, "slack"):
		return graph.KindNotify
	default:
		return graph.KindCustom
	}
}
