// Package diag carries the user-facing, non-fatal findings produced while
// parsing or generating pipeline text.
package diag

import "fmt"

// Kind classifies a warning.
type Kind string

const (
	// ParseFailure means the text was malformed; the previous graph is kept.
	ParseFailure Kind = "parse_failure"
	// UnresolvedReference means a dependency name or edge endpoint did not
	// resolve. It is expected while text is being edited and is only logged.
	UnresolvedReference Kind = "unresolved_reference"
	// DegradedLinearization means a branching graph could only be partially
	// written to a sequential format.
	DegradedLinearization Kind = "degraded_linearization"
)

// Warning is a soft finding surfaced to the caller instead of an error.
type Warning struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	// Line is 1-based; zero when unknown.
	Line int `json:"line,omitempty"`
}

func (w Warning) String() string {
	if w.Line > 0 {
		return fmt.Sprintf("%s: line %d: %s", w.Kind, w.Line, w.Message)
	}
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}

// Reference is a dangling name found while parsing.
type Reference struct {
	From string `json:"from"`
	Name string `json:"name"`
}

// Parsef builds a ParseFailure warning.
func Parsef(line int, format string, args ...any) Warning {
	return Warning{Kind: ParseFailure, Line: line, Message: fmt.Sprintf(format, args...)}
}
