// Package sse serializes stream events onto a server-sent-events response.
// Every content payload uses a chat-completion-like envelope
//
//	data: {"choices":[{"delta":{...}}]}
//
// a successful run ends with "data: [DONE]" and a failed run with a
// top-level {"error":{...}} payload.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/hupe1980/agentstream/core"
)

// DoneSentinel terminates a successful stream.
const DoneSentinel = "[DONE]"

// ErrStreamingUnsupported is returned when the response cannot be flushed.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// Writer is a core.Sink writing to an HTTP response. Send and Ping may be
// called concurrently.
type Writer struct {
	w       io.Writer
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
}

// NewWriter writes the event-stream headers and returns a sink over w.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}, nil
}

// Send encodes ev as one data line and flushes it.
func (s *Writer) Send(ctx context.Context, ev core.StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := Encode(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.ErrSinkClosed
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Ping writes a comment line that keeps intermediaries from timing out idle
// connections while tools run.
func (s *Writer) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.ErrSinkClosed
	}
	if _, err := io.WriteString(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close marks the writer closed. Repeated calls are no-ops.
func (s *Writer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ToolUse is the wire form of tool lifecycle events.
type ToolUse struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Status   string          `json:"status"` // start | progress | end
	Input    json.RawMessage `json:"input,omitempty"`
	Progress string          `json:"progress,omitempty"`
	Result   string          `json:"result,omitempty"`
	IsError  bool            `json:"is_error,omitempty"`
	Server   bool            `json:"server,omitempty"`
	Data     any             `json:"data,omitempty"`
}

// Delta is the content of choices[0].delta.
type Delta struct {
	Content   string          `json:"content,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
	ToolUse   *ToolUse        `json:"tool_use,omitempty"`
	Citations []core.Citation `json:"citations,omitempty"`
	PauseTurn bool            `json:"pause_turn,omitempty"`
}

// Choice wraps a Delta.
type Choice struct {
	Delta Delta `json:"delta"`
}

// Chunk is one content payload.
type Chunk struct {
	Choices []Choice `json:"choices"`
}

// ErrorBody is the wire form of a terminal failure.
type ErrorBody struct {
	Type         core.ErrorType `json:"type"`
	Message      string         `json:"message"`
	Retryable    bool           `json:"retryable"`
	RetryAfterMs int64          `json:"retryAfterMs,omitempty"`
	RequestID    string         `json:"requestId,omitempty"`
}

// ErrorPayload is the last payload of a failed stream.
type ErrorPayload struct {
	Error ErrorBody `json:"error"`
}

// Encode returns the data line payload for ev.
func Encode(ev core.StreamEvent) ([]byte, error) {
	var d Delta

	switch e := ev.(type) {
	case core.TextDelta:
		d.Content = e.Text
	case core.ReasoningDelta:
		d.Reasoning = e.Text
	case core.ToolStart:
		d.ToolUse = &ToolUse{ID: e.ID, Name: e.Name, Status: "start", Input: e.Input, Server: e.Server}
	case core.ToolProgress:
		input, err := json.Marshal(e.Input)
		if err != nil {
			return nil, fmt.Errorf("encode tool progress: %w", err)
		}
		d.ToolUse = &ToolUse{ID: e.ID, Name: e.Name, Status: "progress", Input: input, Progress: e.Status}
	case core.ToolEnd:
		d.ToolUse = &ToolUse{
			ID:      e.ID,
			Name:    e.Name,
			Status:  "end",
			Input:   e.Input,
			Result:  e.Result,
			IsError: e.IsError,
			Data:    e.Data,
		}
	case core.CitationEvent:
		d.Citations = e.Citations
	case core.Pause:
		d.PauseTurn = true
	case core.Done:
		return []byte(DoneSentinel), nil
	case core.ErrorEvent:
		return json.Marshal(errorPayload(e.Err))
	default:
		return nil, fmt.Errorf("unsupported event %T", ev)
	}

	return json.Marshal(Chunk{Choices: []Choice{{Delta: d}}})
}

func errorPayload(e *core.AgentError) ErrorPayload {
	if e == nil {
		return ErrorPayload{Error: ErrorBody{Type: core.ErrorUnknown, Message: "An unexpected error occurred."}}
	}
	body := ErrorBody{
		Type:      e.Type,
		Message:   e.Message,
		Retryable: e.Retryable,
		RequestID: e.RequestID,
	}
	if e.Retryable {
		body.RetryAfterMs = e.RetryAfterMs()
	}
	return ErrorPayload{Error: body}
}
