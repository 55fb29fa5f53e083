package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/hupe1980/agentstream/core"
)

// ErrorPrefix starts every textual result of a failed invocation.
const ErrorPrefix = "Error: "

// Outcome is the settled result of one invocation.
type Outcome struct {
	Text    string // re-enters the model context
	IsError bool
	Data    any // UI-only payload
}

// Execute is the executor boundary. It decodes the call's raw input, invokes
// the tool, recovers panics and converts every failure into an "Error: ..."
// text. Exactly one ToolEnd is emitted through the context before it returns.
func Execute(tc *core.ToolContext, t Tool) (out Outcome) {
	raw := normalizeInput(tc.RawInput())
	input := raw
	if !json.Valid(raw) {
		input = json.RawMessage("{}")
	}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			tc.Logger().Error("tool.call.panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			out = Outcome{Text: ErrorPrefix + fmt.Sprintf("tool panicked: %v", r), IsError: true}
		}

		tc.Logger().Debug("tool.call.end", "is_error", out.IsError, "duration_ms", time.Since(start).Milliseconds())

		if err := tc.EmitEvent(core.ToolEnd{
			ID:      tc.FunctionCallID(),
			Name:    t.Name(),
			Input:   input,
			Result:  out.Text,
			IsError: out.IsError,
			Data:    out.Data,
		}); err != nil {
			tc.Logger().Debug("tool.call.emit_failed", "error", err.Error())
		}
	}()

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return failure(NewToolError(t.Name(), fmt.Sprintf("invalid input JSON: %v", err), CodeValidation))
	}

	result, err := t.Call(tc, args)
	if err != nil {
		return failure(err)
	}

	return format(result)
}

func failure(err error) Outcome {
	return Outcome{Text: ErrorText(err), IsError: true}
}

// ErrorText renders err as a tool result string.
func ErrorText(err error) string {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return ErrorPrefix + toolErr.Message
	}
	return ErrorPrefix + err.Error()
}

func format(result any) Outcome {
	switch v := result.(type) {
	case nil:
		return Outcome{}
	case string:
		return Outcome{Text: v}
	case Result:
		return Outcome{Text: v.Text, Data: v.Data}
	case *Result:
		return Outcome{Text: v.Text, Data: v.Data}
	case fmt.Stringer:
		return Outcome{Text: v.String()}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return Outcome{Text: fmt.Sprint(result)}
	}
	return Outcome{Text: string(raw)}
}

func normalizeInput(raw []byte) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(trimmed)
}
