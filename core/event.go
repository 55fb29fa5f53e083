package core

import (
	"encoding/json"

	"github.com/google/uuid"
)

// StreamEvent is the normalized event vocabulary pushed to clients. Concrete
// event types implement the unexported isStreamEvent marker enabling a closed
// set that consumers switch over exhaustively.
type StreamEvent interface{ isStreamEvent() }

// ReasoningDelta carries an incremental reasoning (thinking) fragment.
type ReasoningDelta struct {
	Text string
}

// TextDelta carries an incremental assistant text fragment.
type TextDelta struct {
	Text string
}

// ToolStart announces a new tool invocation.
type ToolStart struct {
	ID     string
	Name   string
	Input  json.RawMessage // partial input if already known
	Server bool            // executed by the provider rather than locally
}

// ToolProgress reports intermediate progress of a running invocation.
type ToolProgress struct {
	ID     string
	Name   string
	Input  map[string]any
	Status string
}

// ToolEnd carries the final result of an invocation. Result is the text that
// re-enters the model context; Data is UI-only structured payload.
type ToolEnd struct {
	ID      string
	Name    string
	Input   json.RawMessage
	Result  string
	IsError bool
	Data    any
}

// CitationEvent batches the citations found in one provider delta.
type CitationEvent struct {
	Citations []Citation
}

// Pause signals that the provider paused a long-running turn and will continue.
type Pause struct{}

// Done is the terminal marker of a successful run.
type Done struct{}

// ErrorEvent is the terminal marker of a failed run.
type ErrorEvent struct {
	Err *AgentError
}

func (ReasoningDelta) isStreamEvent() {}
func (TextDelta) isStreamEvent()      {}
func (ToolStart) isStreamEvent()      {}
func (ToolProgress) isStreamEvent()   {}
func (ToolEnd) isStreamEvent()        {}
func (CitationEvent) isStreamEvent()  {}
func (Pause) isStreamEvent()          {}
func (Done) isStreamEvent()           {}
func (ErrorEvent) isStreamEvent()     {}

// IsTerminal reports whether no further events may follow ev.
func IsTerminal(ev StreamEvent) bool {
	switch ev.(type) {
	case Done, ErrorEvent:
		return true
	default:
		return false
	}
}

// NewID generates a new unique identifier for runs and records.
func NewID() string { return uuid.NewString() }
