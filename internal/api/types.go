package api

import (
	"github.com/mattjoyce/tandem/internal/controller"
	"github.com/mattjoyce/tandem/internal/diag"
	"github.com/mattjoyce/tandem/internal/graph"
	"github.com/mattjoyce/tandem/internal/state"
)

// CreateSessionRequest is the JSON body for POST /v1/sessions.
type CreateSessionRequest struct {
	Flavor controller.Flavor `json:"flavor,omitempty"`
	// Text, when set, is applied as the first edit of the editable
	// representation.
	Text string `json:"text,omitempty"`
}

// SessionResponse is returned by session endpoints.
type SessionResponse struct {
	Session  string                               `json:"session"`
	Flavor   controller.Flavor                    `json:"flavor"`
	Graph    graph.Document                       `json:"graph"`
	Texts    map[controller.Representation]string `json:"texts"`
	Manual   []controller.Representation          `json:"manual,omitempty"`
	Revision string                               `json:"revision,omitempty"`
	Result   *controller.Result                   `json:"result,omitempty"`
}

// EditResponse is returned by POST /v1/sessions/{id}/edits.
type EditResponse struct {
	Result   *controller.Result `json:"result"`
	Revision string             `json:"revision,omitempty"`
}

// RevisionsResponse is returned by GET /v1/sessions/{id}/revisions.
type RevisionsResponse struct {
	Session   string           `json:"session"`
	Revisions []state.Revision `json:"revisions"`
}

// TextRequest carries pipeline text to a parser.
type TextRequest struct {
	Text string `json:"text"`
}

// ParseResponse is the graph parsed from text.
type ParseResponse struct {
	Graph    graph.Document `json:"graph"`
	Warnings []diag.Warning `json:"warnings,omitempty"`
}

// GraphRequest carries a graph to a generator.
type GraphRequest struct {
	Graph graph.Document `json:"graph"`
	// Name titles the DOT digraph.
	Name string `json:"name,omitempty"`
}

// GenerateResponse is generated text and, for sequential formats, how much
// of the graph it covers.
type GenerateResponse struct {
	Text      string   `json:"text"`
	Truncated bool     `json:"truncated,omitempty"`
	Stop      string   `json:"stop,omitempty"`
	Omitted   []string `json:"omitted,omitempty"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Sessions      int    `json:"sessions"`
	Persistent    bool   `json:"persistent"`
}
