// Package controller keeps a pipeline graph and its text representations in
// step. Every edit enters through ApplyEdit; the controller parses or
// regenerates as needed and never reinterprets text it produced itself.
package controller

import (
	"errors"

	"github.com/google/uuid"

	"github.com/mattjoyce/tandem/internal/diag"
	"github.com/mattjoyce/tandem/internal/graph"
	"github.com/mattjoyce/tandem/internal/order"
)

var (
	// ErrInvariant reports a programming error, such as a parser handing
	// out the same node id twice. It is distinct from user-facing warnings.
	ErrInvariant = errors.New("controller invariant violated")

	ErrUnsupportedRepresentation = errors.New("unsupported representation")
	ErrInvalidEdit               = errors.New("invalid edit")
)

// Representation names one textual form of the pipeline.
type Representation string

const (
	Jobs     Representation = "jobs"
	Script   Representation = "script"
	Workflow Representation = "workflow"
)

// Flavor selects which representations a session keeps. A session keeps its
// flavor for its whole life.
type Flavor string

const (
	// FlavorJobs edits the dependency-annotated job list. No start node.
	FlavorJobs Flavor = "jobs"
	// FlavorScript edits a sequential script anchored at a start node; the
	// workflow document is derived from the same chain.
	FlavorScript Flavor = "script"
)

func (f Flavor) Valid() bool {
	return f == FlavorJobs || f == FlavorScript
}

// Representations lists what a session of this flavor regenerates.
func (f Flavor) Representations() []Representation {
	if f == FlavorScript {
		return []Representation{Script, Workflow}
	}
	return []Representation{Jobs}
}

// Editable reports whether text edits of r can be parsed back into the graph.
func (f Flavor) Editable(r Representation) bool {
	return (f == FlavorJobs && r == Jobs) || (f == FlavorScript && r == Script)
}

func (f Flavor) has(r Representation) bool {
	for _, x := range f.Representations() {
		if x == r {
			return true
		}
	}
	return false
}

// Phase is the controller's position in its state machine.
type Phase int

const (
	Idle Phase = iota
	ApplyingFromText
	ApplyingFromGraph
)

func (p Phase) String() string {
	switch p {
	case ApplyingFromText:
		return "applying_from_text"
	case ApplyingFromGraph:
		return "applying_from_graph"
	default:
		return "idle"
	}
}

type EventType string

const (
	TextEdited    EventType = "text_edited"
	NodeAdded     EventType = "node_added"
	NodeMoved     EventType = "node_moved"
	NodeRemoved   EventType = "node_removed"
	NodeUpdated   EventType = "node_updated"
	EdgeAdded     EventType = "edge_added"
	EdgeRemoved   EventType = "edge_removed"
	EditorFocused EventType = "editor_focused"
	EditorBlurred EventType = "editor_blurred"
)

func (t EventType) graphEdit() bool {
	switch t {
	case NodeAdded, NodeMoved, NodeRemoved, NodeUpdated, EdgeAdded, EdgeRemoved:
		return true
	}
	return false
}

// Event is one edit submitted by a text editor or the visual surface. Which
// fields matter depends on Type.
type Event struct {
	ID             string          `json:"id"`
	Type           EventType       `json:"type"`
	Representation Representation  `json:"representation,omitempty"`
	Text           string          `json:"text,omitempty"`
	NodeID         string          `json:"node_id,omitempty"`
	Node           *graph.Node     `json:"node,omitempty"`
	Position       *graph.Position `json:"position,omitempty"`
	EdgeID         string          `json:"edge_id,omitempty"`
	SourceID       string          `json:"source_id,omitempty"`
	TargetID       string          `json:"target_id,omitempty"`
}

func newEvent(t EventType) Event {
	return Event{ID: uuid.NewString(), Type: t}
}

// TextEdit reports new editor content for r.
func TextEdit(r Representation, text string) Event {
	ev := newEvent(TextEdited)
	ev.Representation = r
	ev.Text = text
	return ev
}

// AddNode asks for a node shaped like n. The controller assigns the id.
func AddNode(n *graph.Node) Event {
	ev := newEvent(NodeAdded)
	ev.Node = n
	return ev
}

func MoveNode(id string, pos graph.Position) Event {
	ev := newEvent(NodeMoved)
	ev.NodeID = id
	ev.Position = &pos
	return ev
}

func RemoveNode(id string) Event {
	ev := newEvent(NodeRemoved)
	ev.NodeID = id
	return ev
}

// UpdateNode replaces the name, display name and attributes of node id with
// those of n. A non-empty kind in n changes the kind too.
func UpdateNode(id string, n *graph.Node) Event {
	ev := newEvent(NodeUpdated)
	ev.NodeID = id
	ev.Node = n
	return ev
}

func AddEdge(source, target string) Event {
	ev := newEvent(EdgeAdded)
	ev.SourceID = source
	ev.TargetID = target
	return ev
}

// RemoveEdge removes by edge id.
func RemoveEdge(id string) Event {
	ev := newEvent(EdgeRemoved)
	ev.EdgeID = id
	return ev
}

func Focus(r Representation) Event {
	ev := newEvent(EditorFocused)
	ev.Representation = r
	return ev
}

func Blur(r Representation) Event {
	ev := newEvent(EditorBlurred)
	ev.Representation = r
	return ev
}

// Result describes what one applied edit did.
type Result struct {
	EventID string `json:"event_id"`
	// NodeID is the id assigned by a NodeAdded edit.
	NodeID string         `json:"node_id,omitempty"`
	Graph  graph.Document `json:"graph"`
	// Texts holds only the representations regenerated by this edit.
	Texts    map[Representation]string `json:"texts,omitempty"`
	Skipped  []Representation          `json:"skipped,omitempty"`
	Warnings []diag.Warning            `json:"warnings,omitempty"`
	Changed  bool                      `json:"changed"`
	// Queued is set when the edit arrived mid-propagation; it is replayed
	// once the controller is idle and its outcome goes to listeners.
	Queued bool `json:"queued,omitempty"`
	// Acknowledged is set when text matched what the controller last wrote
	// and was not parsed again.
	Acknowledged bool       `json:"acknowledged,omitempty"`
	Truncated    bool       `json:"truncated,omitempty"`
	Stop         order.Stop `json:"stop,omitempty"`
	Omitted      []string   `json:"omitted,omitempty"`
}

// Listener receives the outcome of every edit that changed something,
// including replayed ones. It may call ApplyEdit; such calls are queued.
type Listener interface {
	OnUpdate(res *Result)
}

type ListenerFunc func(res *Result)

func (f ListenerFunc) OnUpdate(res *Result) { f(res) }

// Snapshot is a detached copy of a session's state.
type Snapshot struct {
	Session string                    `json:"session"`
	Flavor  Flavor                    `json:"flavor"`
	Graph   graph.Document            `json:"graph"`
	Texts   map[Representation]string `json:"texts"`
	Manual  []Representation          `json:"manual,omitempty"`
}
