package model

import "encoding/json"

// Raw provider event types.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
)

// Delta types carried by content_block_delta.
const (
	DeltaText      = "text_delta"
	DeltaThinking  = "thinking_delta"
	DeltaSignature = "signature_delta"
	DeltaInputJSON = "input_json_delta"
	DeltaCitations = "citations_delta"
)

// Stop reasons.
const (
	StopEndTurn   = "end_turn"
	StopMaxTokens = "max_tokens"
	StopToolUse   = "tool_use"
	StopPauseTurn = "pause_turn"
	StopSequence  = "stop_sequence"
	StopRefusal   = "refusal"
)

// Event is one raw provider stream event in wire form.
type Event struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	Message      *MessageInfo `json:"message,omitempty"`
	ContentBlock *Block       `json:"content_block,omitempty"`
	Delta        *Delta       `json:"delta,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
}

// MessageInfo is the header carried by message_start.
type MessageInfo struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Usage *Usage `json:"usage,omitempty"`
}

// Delta is the payload of content_block_delta and message_delta events.
type Delta struct {
	Type        string            `json:"type,omitempty"`
	Text        string            `json:"text,omitempty"`
	Thinking    string            `json:"thinking,omitempty"`
	Signature   string            `json:"signature,omitempty"`
	PartialJSON string            `json:"partial_json,omitempty"`
	Citation    json.RawMessage   `json:"citation,omitempty"`
	Citations   []json.RawMessage `json:"citations,omitempty"`

	StopReason   string `json:"stop_reason,omitempty"`
	StopSequence string `json:"stop_sequence,omitempty"`
}

// AllCitations returns the raw citations of a citations delta.
func (d *Delta) AllCitations() []json.RawMessage {
	if d == nil {
		return nil
	}
	out := make([]json.RawMessage, 0, len(d.Citations)+1)
	if len(d.Citation) > 0 {
		out = append(out, d.Citation)
	}
	return append(out, d.Citations...)
}

// Usage reports token accounting.
type Usage struct {
	InputTokens              int64 `json:"input_tokens,omitempty"`
	OutputTokens             int64 `json:"output_tokens,omitempty"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}
