// Package script reads and writes the flat sequential shell script form of a
// pipeline. Parsing is heuristic: each command is classified by an ordered
// rule table, and anything unrecognised becomes a custom command node.
package script

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/tandem/internal/graph"
)

// StartID is the id of the synthetic start marker.
const StartID = "start"

// Result is the outcome of parsing a script. Edges chain the nodes in
// execution order: each edge's source runs before its target.
type Result struct {
	Nodes []*graph.Node `json:"nodes"`
	Edges []graph.Edge  `json:"edges"`
}

// Parser turns script text into a node chain.
type Parser struct {
	// Banner is the startup log line written by the generator; it is skipped.
	Banner string
}

// Parse parses text with the default banner.
func Parse(text string) *Result {
	return Parser{}.Parse(text)
}

// NodeID returns the id of the n-th parsed step, 1-based.
func NodeID(n int) string {
	return fmt.Sprintf("step-%d", n)
}

type pending struct {
	lines []string
	label string
}

// Parse never fails. Blank, shebang, preamble and comment lines produce no
// node; a comment directly above a command names the node built from it.
// Lines ending in a backslash, and indented lines following a command, are
// folded into that command.
func (p Parser) Parse(text string) *Result {
	banner := p.Banner
	if banner == "" {
		banner = DefaultBanner
	}

	res := &Result{}
	start := &graph.Node{ID: StartID, Kind: graph.KindStart, DisplayName: graph.KindStart.Title()}
	res.Nodes = append(res.Nodes, start)
	prev := start.ID

	var cur *pending
	label := ""
	flush := func() {
		if cur == nil {
			return
		}
		n := Classify(strings.Join(cur.lines, "\n"))
		n.ID = NodeID(len(res.Nodes))
		n.DisplayName = cur.label
		if n.DisplayName == "" {
			n.DisplayName = n.Kind.Title()
		}
		res.Nodes = append(res.Nodes, n)
		res.Edges = append(res.Edges, graph.Edge{ID: graph.EdgeID(prev, n.ID), Source: prev, Target: n.ID})
		prev = n.ID
		cur = nil
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)

		if cur != nil && strings.HasSuffix(strings.TrimRight(cur.lines[len(cur.lines)-1], " \t"), `\`) {
			cur.lines = append(cur.lines, line)
			continue
		}
		if trimmed == "" {
			flush()
			label = ""
			continue
		}
		if cur != nil && (line[0] == ' ' || line[0] == '\t') && !strings.HasPrefix(trimmed, "#") {
			cur.lines = append(cur.lines, line)
			continue
		}

		flush()
		switch {
		case strings.HasPrefix(trimmed, "#!"):
			continue
		case strings.HasPrefix(trimmed, "#"):
			label = strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			continue
		case isPreamble(trimmed, banner):
			continue
		}
		cur = &pending{lines: []string{trimmed}, label: label}
		label = ""
	}
	flush()
	return res
}

func isPreamble(line, banner string) bool {
	switch line {
	case "set -e", "set -eu", "set -eo pipefail", "set -euo pipefail", banner:
		return true
	}
	return false
}
