package core

import (
	"fmt"
	"strings"
	"time"
)

// InvocationState is the lifecycle position of a ToolInvocation.
type InvocationState int

const (
	InvocationPending InvocationState = iota
	InvocationStreamingInput
	InvocationExecuting
	InvocationCompleted
	InvocationFailed
)

func (s InvocationState) String() string {
	switch s {
	case InvocationPending:
		return "pending"
	case InvocationStreamingInput:
		return "streaming-input"
	case InvocationExecuting:
		return "executing"
	case InvocationCompleted:
		return "completed"
	case InvocationFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ToolInvocation tracks one model-initiated tool call from its block start
// until its result has been emitted. It is not safe for concurrent use.
type ToolInvocation struct {
	ID        string
	Name      string
	Server    bool
	StartedAt time.Time

	state InvocationState
	input strings.Builder
}

// NewToolInvocation opens a pending invocation.
func NewToolInvocation(id, name string, server bool) *ToolInvocation {
	return &ToolInvocation{ID: id, Name: name, Server: server, StartedAt: time.Now()}
}

// State returns the current lifecycle state.
func (t *ToolInvocation) State() InvocationState { return t.state }

// Input returns the accumulated raw input buffer.
func (t *ToolInvocation) Input() string { return t.input.String() }

// Done reports whether the invocation reached a terminal state.
func (t *ToolInvocation) Done() bool {
	return t.state == InvocationCompleted || t.state == InvocationFailed
}

// AppendInput adds a streamed input fragment.
func (t *ToolInvocation) AppendInput(fragment string) error {
	if t.state != InvocationPending && t.state != InvocationStreamingInput {
		return t.transitionError(InvocationStreamingInput)
	}
	t.state = InvocationStreamingInput
	t.input.WriteString(fragment)
	return nil
}

// Execute marks the start of local execution.
func (t *ToolInvocation) Execute() error {
	if t.state != InvocationPending && t.state != InvocationStreamingInput {
		return t.transitionError(InvocationExecuting)
	}
	t.state = InvocationExecuting
	return nil
}

// Complete marks a successful result.
func (t *ToolInvocation) Complete() error {
	if t.Done() {
		return t.transitionError(InvocationCompleted)
	}
	t.state = InvocationCompleted
	return nil
}

// Fail marks a failed or abandoned invocation.
func (t *ToolInvocation) Fail() error {
	if t.Done() {
		return t.transitionError(InvocationFailed)
	}
	t.state = InvocationFailed
	return nil
}

func (t *ToolInvocation) transitionError(to InvocationState) error {
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, t.Name, t.state, to)
}
