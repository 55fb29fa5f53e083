package core

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentstream/logging"
)

// ToolCall identifies one tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input []byte // raw JSON input
}

// ToolContext is the surface a tool implementation sees while executing: the
// run's context, the caller identity and an emitter for progress events.
type ToolContext struct {
	ctx    context.Context
	runID  string
	userID string
	call   ToolCall
	emit   func(StreamEvent) error
	logger logging.Logger
}

// NewToolContext binds a tool call to its run. emit may be nil, in which case
// emitted events are discarded. The logger is scoped with the tool name and
// call id.
func NewToolContext(
	ctx context.Context,
	runID, userID string,
	call ToolCall,
	emit func(StreamEvent) error,
	logger logging.Logger,
) *ToolContext {
	if emit == nil {
		emit = func(StreamEvent) error { return nil }
	}
	return &ToolContext{
		ctx:    ctx,
		runID:  runID,
		userID: userID,
		call:   call,
		emit:   emit,
		logger: logging.With(logger, "tool", call.Name, "fc_id", call.ID),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// RunID returns the run ID associated with the tool invocation.
func (tc *ToolContext) RunID() string { return tc.runID }

// UserID returns the user on whose behalf the tool runs ("" if anonymous).
func (tc *ToolContext) UserID() string { return tc.userID }

// FunctionCallID returns the provider's tool use id.
func (tc *ToolContext) FunctionCallID() string { return tc.call.ID }

// ToolName returns the invoked tool's name.
func (tc *ToolContext) ToolName() string { return tc.call.Name }

// RawInput returns the raw JSON input of the call.
func (tc *ToolContext) RawInput() []byte { return tc.call.Input }

// Logger returns the call-scoped logger.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

// Progress emits a ToolProgress event for this invocation.
func (tc *ToolContext) Progress(status string, input map[string]any) error {
	return tc.EmitEvent(ToolProgress{ID: tc.call.ID, Name: tc.call.Name, Input: input, Status: status})
}

// EmitEvent pushes an event to the run's sink.
func (tc *ToolContext) EmitEvent(ev StreamEvent) error {
	if err := tc.ctx.Err(); err != nil {
		return err
	}
	return tc.emit(ev)
}

// Validate performs a structural sanity check of the context.
func (tc *ToolContext) Validate() error {
	if tc.ctx == nil || tc.call.ID == "" || tc.call.Name == "" {
		return fmt.Errorf("invalid ToolContext")
	}
	return nil
}
