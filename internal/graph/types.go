// Package graph holds the canonical in-memory pipeline model shared by every
// textual representation: job nodes, the edges between them, and the
// attributes each codec reads and writes.
package graph

import (
	"strings"
	"unicode"
)

// Kind identifies the role a pipeline node plays.
type Kind string

const (
	KindStart       Kind = "start"
	KindCheckout    Kind = "checkout"
	KindInstall     Kind = "install"
	KindBuild       Kind = "build"
	KindDockerBuild Kind = "docker_build"
	KindTest        Kind = "test"
	KindDeploy      Kind = "deploy"
	KindNotify      Kind = "notify"
	KindCustom      Kind = "custom"
)

var kinds = []Kind{
	KindStart, KindCheckout, KindInstall, KindBuild, KindDockerBuild,
	KindTest, KindDeploy, KindNotify, KindCustom,
}

// Kinds returns the closed kind vocabulary in declaration order.
func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

// Valid reports whether k belongs to the vocabulary.
func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Title returns the default display label for the kind.
func (k Kind) Title() string {
	switch k {
	case KindStart:
		return "Start"
	case KindCheckout:
		return "Checkout"
	case KindInstall:
		return "Install Dependencies"
	case KindBuild:
		return "Build"
	case KindDockerBuild:
		return "Docker Build"
	case KindTest:
		return "Run Tests"
	case KindDeploy:
		return "Deploy"
	case KindNotify:
		return "Notify"
	default:
		return "Custom Command"
	}
}

// Ecosystem tags install/build/test nodes with their language toolchain.
type Ecosystem string

const (
	EcosystemNone   Ecosystem = ""
	EcosystemNode   Ecosystem = "node"
	EcosystemPython Ecosystem = "python"
	EcosystemGo     Ecosystem = "go"
	EcosystemJava   Ecosystem = "java"
	EcosystemRust   Ecosystem = "rust"
)

// Ecosystems returns the known ecosystems in setup priority order.
func Ecosystems() []Ecosystem {
	return []Ecosystem{EcosystemNode, EcosystemPython, EcosystemGo, EcosystemJava, EcosystemRust}
}

// Position is a 2D coordinate owned by the visual surface.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Attributes are the kind-dependent fields of a node. Every field is
// optional; generators supply defaults when one is absent.
type Attributes struct {
	Image       string            `json:"image,omitempty"`
	Command     string            `json:"command,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	RepoURL     string            `json:"repo_url,omitempty"`
	Branch      string            `json:"branch,omitempty"`
	Ecosystem   Ecosystem         `json:"ecosystem,omitempty"`
	Tag         string            `json:"tag,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	Message     string            `json:"message,omitempty"`
}

// Clone returns a deep copy.
func (a Attributes) Clone() Attributes {
	out := a
	if a.Env != nil {
		out.Env = make(map[string]string, len(a.Env))
		for k, v := range a.Env {
			out.Env[k] = v
		}
	}
	return out
}

// Node is one pipeline job.
type Node struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	Name        string     `json:"name,omitempty"`
	DisplayName string     `json:"display_name"`
	Attrs       Attributes `json:"attributes"`
	// OrderIndex is the declaration position in the structured text the node
	// was parsed from, nil for nodes created on the visual surface.
	OrderIndex *int     `json:"order_index,omitempty"`
	Position   Position `json:"position"`
}

// Label returns the display name, falling back to a title-cased job name or
// the kind title.
func (n *Node) Label() string {
	if n.DisplayName != "" {
		return n.DisplayName
	}
	if n.Name != "" {
		return TitleCase(n.Name)
	}
	return n.Kind.Title()
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	out := *n
	out.Attrs = n.Attrs.Clone()
	if n.OrderIndex != nil {
		idx := *n.OrderIndex
		out.OrderIndex = &idx
	}
	return &out
}

// Index returns a pointer to i, for populating OrderIndex.
func Index(i int) *int {
	return &i
}

// Edge connects two nodes. The codec that owns a flavor decides whether it
// reads as "target depends on source" or "source precedes target".
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// EdgeID builds the conventional id for an edge between two nodes.
func EdgeID(source, target string) string {
	return "edge-" + source + "-" + target
}

// TitleCase turns a job or kind name such as "unit_tests" into "Unit Tests".
func TitleCase(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '-' || r == '_' || r == ' ' || r == '.'
	})
	for i, f := range fields {
		r := []rune(f)
		r[0] = unicode.ToUpper(r[0])
		fields[i] = string(r)
	}
	return strings.Join(fields, " ")
}
