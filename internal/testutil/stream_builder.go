package testutil

import (
	"encoding/json"

	"github.com/hupe1980/agentstream/model"
)

// StreamBuilder provides a fluent helper for scripting raw provider streams.
// Example:
//
//	events := NewStreamBuilder().Text("hello ", "world").Stop("end_turn")
//
// Blocks are indexed in the order they are added.
type StreamBuilder struct {
	events []model.Event
	next   int
}

// NewStreamBuilder creates a builder whose stream starts with message_start.
func NewStreamBuilder() *StreamBuilder {
	return &StreamBuilder{events: []model.Event{{
		Type:    model.EventMessageStart,
		Message: &model.MessageInfo{ID: "msg_test", Model: "mock"},
	}}}
}

func (b *StreamBuilder) start(block model.Block) int {
	idx := b.next
	b.next++
	b.events = append(b.events, model.Event{Type: model.EventContentBlockStart, Index: idx, ContentBlock: &block})
	return idx
}

func (b *StreamBuilder) delta(idx int, d model.Delta) {
	b.events = append(b.events, model.Event{Type: model.EventContentBlockDelta, Index: idx, Delta: &d})
}

func (b *StreamBuilder) stop(idx int) {
	b.events = append(b.events, model.Event{Type: model.EventContentBlockStop, Index: idx})
}

// Text adds a text block streamed as the given fragments (chainable).
func (b *StreamBuilder) Text(fragments ...string) *StreamBuilder {
	idx := b.start(model.Block{Type: model.BlockText})
	for _, f := range fragments {
		b.delta(idx, model.Delta{Type: model.DeltaText, Text: f})
	}
	b.stop(idx)
	return b
}

// Thinking adds a thinking block with a signature (chainable).
func (b *StreamBuilder) Thinking(fragments ...string) *StreamBuilder {
	idx := b.start(model.Block{Type: model.BlockThinking})
	for _, f := range fragments {
		b.delta(idx, model.Delta{Type: model.DeltaThinking, Thinking: f})
	}
	b.delta(idx, model.Delta{Type: model.DeltaSignature, Signature: "sig"})
	b.stop(idx)
	return b
}

// CitedText adds a text block followed by one citations delta per raw citation (chainable).
func (b *StreamBuilder) CitedText(text string, citations ...string) *StreamBuilder {
	idx := b.start(model.Block{Type: model.BlockText})
	b.delta(idx, model.Delta{Type: model.DeltaText, Text: text})
	for _, c := range citations {
		b.delta(idx, model.Delta{Type: model.DeltaCitations, Citation: json.RawMessage(c)})
	}
	b.stop(idx)
	return b
}

// ToolUse adds a complete client tool_use block whose input is streamed as fragments (chainable).
func (b *StreamBuilder) ToolUse(id, name string, fragments ...string) *StreamBuilder {
	b.OpenToolUse(id, name, fragments...)
	b.stop(b.next - 1)
	return b
}

// OpenToolUse adds a tool_use block without its block stop (chainable).
func (b *StreamBuilder) OpenToolUse(id, name string, fragments ...string) *StreamBuilder {
	idx := b.start(model.Block{Type: model.BlockToolUse, ID: id, Name: name, Input: json.RawMessage("{}")})
	for _, f := range fragments {
		b.delta(idx, model.Delta{Type: model.DeltaInputJSON, PartialJSON: f})
	}
	return b
}

// ServerToolUse adds a provider-executed tool use block (chainable).
func (b *StreamBuilder) ServerToolUse(id, name, input string) *StreamBuilder {
	idx := b.start(model.Block{Type: model.BlockServerToolUse, ID: id, Name: name, Input: json.RawMessage("{}")})
	b.delta(idx, model.Delta{Type: model.DeltaInputJSON, PartialJSON: input})
	b.stop(idx)
	return b
}

// ResultBlock adds a provider result block (web_search_tool_result, web_fetch_tool_result) (chainable).
func (b *StreamBuilder) ResultBlock(blockType, toolUseID, content string) *StreamBuilder {
	idx := b.start(model.Block{Type: blockType, ToolUseID: toolUseID, Content: json.RawMessage(content)})
	b.stop(idx)
	return b
}

// Stop appends message_delta with the stop reason plus message_stop and
// returns the scripted events.
func (b *StreamBuilder) Stop(reason string) []model.Event {
	b.events = append(b.events,
		model.Event{Type: model.EventMessageDelta, Delta: &model.Delta{StopReason: reason}, Usage: &model.Usage{OutputTokens: 10}},
		model.Event{Type: model.EventMessageStop},
	)
	return b.events
}

// Events returns the events scripted so far without terminating the message.
func (b *StreamBuilder) Events() []model.Event { return b.events }
