// Package tool implements the tool calling subsystem: the Tool contract, a
// function adapter with schema validated arguments, the executor boundary
// that turns every outcome into a textual result, and the registry that
// assembles a tool set from explicit capabilities.
package tool

import (
	"fmt"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/internal/util"
	"github.com/hupe1980/agentstream/model"
)

// Tool defines a locally executed capability the model may invoke.
//
// Implementations should be safe for concurrent use: sibling invocations
// requested in the same model turn run in parallel.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description provided to the model.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with decoded arguments.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// Kinded is implemented by tools the provider declares by a native type
// (e.g. the memory tool) while execution stays local.
type Kinded interface {
	Kind() model.ToolKind
}

// Result is a tool result with an optional UI-only payload. Text re-enters
// the model context; Data is attached to the tool-end event only.
type Result struct {
	Text string
	Data any
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// Spec converts a tool into its provider declaration.
func Spec(t Tool) model.ToolSpec {
	kind := model.ToolFunction
	if k, ok := t.(Kinded); ok {
		kind = k.Kind()
	}
	return model.ToolSpec{
		Kind:        kind,
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: t.Parameters(),
	}
}

// Specs converts a tool set into provider declarations, preserving order.
func Specs(tools []Tool) []model.ToolSpec {
	specs := make([]model.ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, Spec(t))
	}
	return specs
}

// AssertUnique reports the first duplicated tool name. Duplicates are a
// configuration error.
func AssertUnique(names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			return fmt.Errorf("duplicate tool name %q", n)
		}
		seen[n] = struct{}{}
	}
	return nil
}
