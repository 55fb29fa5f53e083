package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type accBlock struct {
	block     Block
	input     strings.Builder
	citations []json.RawMessage
}

// Accumulator folds a raw event stream back into the assistant message it
// describes, so the turn can be replayed to the provider on the next iteration.
type Accumulator struct {
	blocks     map[int]*accBlock
	id         string
	model      string
	stopReason string
	usage      Usage
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{blocks: map[int]*accBlock{}}
}

// Add folds one event.
func (a *Accumulator) Add(ev Event) error {
	switch ev.Type {
	case EventMessageStart:
		if ev.Message != nil {
			a.id, a.model = ev.Message.ID, ev.Message.Model
			if ev.Message.Usage != nil {
				a.usage = *ev.Message.Usage
			}
		}
	case EventContentBlockStart:
		if ev.ContentBlock == nil {
			return fmt.Errorf("content_block_start %d without block", ev.Index)
		}
		a.blocks[ev.Index] = &accBlock{block: ev.ContentBlock.Clone()}
	case EventContentBlockDelta:
		b, ok := a.blocks[ev.Index]
		if !ok || ev.Delta == nil {
			return fmt.Errorf("content_block_delta for unknown block %d", ev.Index)
		}
		switch ev.Delta.Type {
		case DeltaText:
			b.block.Text += ev.Delta.Text
		case DeltaThinking:
			b.block.Thinking += ev.Delta.Thinking
		case DeltaSignature:
			b.block.Signature = ev.Delta.Signature
		case DeltaInputJSON:
			b.input.WriteString(ev.Delta.PartialJSON)
		case DeltaCitations:
			b.citations = append(b.citations, ev.Delta.AllCitations()...)
		}
	case EventMessageDelta:
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			a.stopReason = ev.Delta.StopReason
		}
		if ev.Usage != nil {
			a.usage.OutputTokens = ev.Usage.OutputTokens
			if ev.Usage.InputTokens > 0 {
				a.usage.InputTokens = ev.Usage.InputTokens
			}
		}
	}
	return nil
}

// StopReason returns the stop reason reported by message_delta.
func (a *Accumulator) StopReason() string { return a.stopReason }

// Usage returns the accumulated token usage.
func (a *Accumulator) Usage() Usage { return a.usage }

// MessageID returns the provider message id.
func (a *Accumulator) MessageID() string { return a.id }

// Message returns the assistant turn in block index order. Empty text blocks
// are dropped and tool inputs that never became valid JSON collapse to {}.
func (a *Accumulator) Message() Message {
	idx := make([]int, 0, len(a.blocks))
	for i := range a.blocks {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	blocks := make([]Block, 0, len(idx))
	for _, i := range idx {
		ab := a.blocks[i]
		b := ab.block.Clone()
		switch b.Type {
		case BlockText:
			if b.Text == "" {
				continue
			}
			if len(ab.citations) > 0 {
				b.Citations = ab.citations
			} else {
				b.Citations = nil
			}
		case BlockToolUse, BlockServerToolUse:
			if ab.input.Len() > 0 {
				b.Input = json.RawMessage(ab.input.String())
			}
			if len(b.Input) == 0 || !json.Valid(b.Input) {
				b.Input = json.RawMessage("{}")
			}
		}
		blocks = append(blocks, b)
	}

	return Message{Role: RoleAssistant, Content: BlockContent(blocks...)}
}

// ToolUses returns the locally executable tool_use blocks in index order.
func (a *Accumulator) ToolUses() []Block {
	var out []Block
	for _, b := range a.Message().Content.Blocks {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}
