// Package stream folds raw provider events into the normalized StreamEvent
// vocabulary. Translation is a straight fold: events are never reordered or
// buffered across invocations.
package stream

import (
	"encoding/json"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/model"
)

// TruncationNotice is emitted when the output limit cuts a tool call short.
const TruncationNotice = "\n\n[Response truncated: the output token limit was reached while a tool call was being prepared. Ask me to continue.]"

// State is the translator's memory across events of one run. Open
// invocations survive message boundaries; block indexes do not. State is not
// safe for concurrent use.
type State struct {
	open    map[string]*core.ToolInvocation
	order   []string
	initial map[string]json.RawMessage
	hints   map[string]map[string]string
	byIndex map[int]string

	stopReason string
	usage      model.Usage
}

// NewState returns an empty translator state.
func NewState() *State {
	return &State{
		open:    make(map[string]*core.ToolInvocation),
		initial: make(map[string]json.RawMessage),
		hints:   make(map[string]map[string]string),
		byIndex: make(map[int]string),
	}
}

// StopReason returns the stop reason of the current message, if known.
func (s *State) StopReason() string { return s.stopReason }

// Usage returns the token usage accumulated over the run.
func (s *State) Usage() model.Usage { return s.usage }

// OpenCount returns the number of invocations without a tool-end.
func (s *State) OpenCount() int { return len(s.order) }

// Pending returns the client tool calls whose input is complete and which
// await local execution, in the order the provider opened them.
func (s *State) Pending() []core.ToolCall {
	var calls []core.ToolCall
	for _, id := range s.order {
		inv := s.open[id]
		if inv.Server || inv.State() != core.InvocationExecuting {
			continue
		}
		input := []byte(inv.Input())
		if len(input) == 0 {
			input = s.initial[id]
		}
		calls = append(calls, core.ToolCall{ID: inv.ID, Name: inv.Name, Input: input})
	}
	return calls
}

// Complete closes the invocation after its tool-end has been emitted
// elsewhere. Unknown ids are ignored.
func (s *State) Complete(id string) {
	inv, ok := s.open[id]
	if !ok {
		return
	}
	_ = inv.Complete()
	s.forget(id)
}

// Abort fails every open invocation and returns their error tool-ends.
func (s *State) Abort(reason string) []core.StreamEvent {
	var out []core.StreamEvent
	for _, id := range append([]string(nil), s.order...) {
		inv := s.open[id]
		_ = inv.Fail()
		out = append(out, core.ToolEnd{
			ID:      inv.ID,
			Name:    inv.Name,
			Input:   s.inputOf(inv),
			Result:  "Error: " + reason,
			IsError: true,
		})
		s.forget(id)
	}
	return out
}

func (s *State) forget(id string) {
	delete(s.open, id)
	delete(s.initial, id)
	delete(s.hints, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	for idx, oid := range s.byIndex {
		if oid == id {
			delete(s.byIndex, idx)
		}
	}
}

func (s *State) inputOf(inv *core.ToolInvocation) json.RawMessage {
	if in := inv.Input(); json.Valid([]byte(in)) {
		return json.RawMessage(in)
	}
	if in := s.initial[inv.ID]; len(in) > 0 {
		return in
	}
	return json.RawMessage("{}")
}

// Translate folds one raw event into zero or more stream events.
func Translate(s *State, ev model.Event) []core.StreamEvent {
	switch ev.Type {
	case model.EventMessageStart:
		s.stopReason = ""
		s.byIndex = make(map[int]string)
		if ev.Message != nil && ev.Message.Usage != nil {
			s.addUsage(*ev.Message.Usage)
		}
		return nil

	case model.EventContentBlockStart:
		if ev.ContentBlock == nil {
			return nil
		}
		return s.blockStart(ev.Index, *ev.ContentBlock)

	case model.EventContentBlockDelta:
		if ev.Delta == nil {
			return nil
		}
		return s.blockDelta(ev.Index, ev.Delta)

	case model.EventContentBlockStop:
		if id, ok := s.byIndex[ev.Index]; ok {
			if inv := s.open[id]; inv != nil && !inv.Done() {
				_ = inv.Execute()
			}
			delete(s.byIndex, ev.Index)
		}
		return nil

	case model.EventMessageDelta:
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			s.stopReason = ev.Delta.StopReason
		}
		if ev.Usage != nil {
			s.addUsage(*ev.Usage)
		}
		return nil

	case model.EventMessageStop:
		return s.messageStop()
	}

	return nil
}

func (s *State) addUsage(u model.Usage) {
	s.usage.InputTokens += u.InputTokens
	s.usage.OutputTokens += u.OutputTokens
	s.usage.CacheCreationInputTokens += u.CacheCreationInputTokens
	s.usage.CacheReadInputTokens += u.CacheReadInputTokens
}

func (s *State) blockStart(index int, b model.Block) []core.StreamEvent {
	switch b.Type {
	case model.BlockToolUse, model.BlockServerToolUse:
		if _, dup := s.open[b.ID]; dup || b.ID == "" {
			return nil
		}
		server := b.Type == model.BlockServerToolUse
		inv := core.NewToolInvocation(b.ID, b.Name, server)
		s.open[b.ID] = inv
		s.order = append(s.order, b.ID)
		s.byIndex[index] = b.ID

		start := core.ToolStart{ID: b.ID, Name: b.Name, Server: server}
		if known := trimmedInput(b.Input); known != nil {
			s.initial[b.ID] = known
			start.Input = known
		}
		return []core.StreamEvent{start}

	case model.BlockWebSearchResult, model.BlockWebFetchResult:
		inv, ok := s.open[b.ToolUseID]
		if !ok {
			return nil
		}
		sum := summarize(b)
		if sum.isError {
			_ = inv.Fail()
		} else {
			_ = inv.Complete()
		}
		end := core.ToolEnd{
			ID:      inv.ID,
			Name:    inv.Name,
			Input:   s.inputOf(inv),
			Result:  sum.text,
			IsError: sum.isError,
			Data:    sum.data,
		}
		s.forget(inv.ID)
		return []core.StreamEvent{end}

	case model.BlockText:
		if b.Text != "" {
			return []core.StreamEvent{core.TextDelta{Text: b.Text}}
		}

	case model.BlockThinking:
		if b.Thinking != "" {
			return []core.StreamEvent{core.ReasoningDelta{Text: b.Thinking}}
		}
	}

	return nil
}

func (s *State) blockDelta(index int, d *model.Delta) []core.StreamEvent {
	switch d.Type {
	case model.DeltaText:
		if d.Text != "" {
			return []core.StreamEvent{core.TextDelta{Text: d.Text}}
		}

	case model.DeltaThinking:
		if d.Thinking != "" {
			return []core.StreamEvent{core.ReasoningDelta{Text: d.Thinking}}
		}

	case model.DeltaInputJSON:
		id, ok := s.byIndex[index]
		if !ok {
			return nil
		}
		inv := s.open[id]
		if err := inv.AppendInput(d.PartialJSON); err != nil {
			return nil
		}
		return s.progressHints(inv)

	case model.DeltaCitations:
		var citations []core.Citation
		for _, raw := range d.AllCitations() {
			if c, ok := core.DecodeCitation(raw); ok {
				citations = append(citations, c)
			}
		}
		if len(citations) > 0 {
			return []core.StreamEvent{core.CitationEvent{Citations: citations}}
		}
	}

	return nil
}

func (s *State) progressHints(inv *core.ToolInvocation) []core.StreamEvent {
	found := Hints(inv.Input())
	if len(found) == 0 {
		return nil
	}

	seen := s.hints[inv.ID]
	if seen == nil {
		seen = make(map[string]string)
		s.hints[inv.ID] = seen
	}

	var out []core.StreamEvent
	for _, h := range found {
		if seen[h.Key] == h.Value {
			continue
		}
		seen[h.Key] = h.Value
		out = append(out, core.ToolProgress{
			ID:     inv.ID,
			Name:   inv.Name,
			Input:  map[string]any{h.Key: h.Value},
			Status: h.Status(),
		})
	}
	return out
}

func (s *State) messageStop() []core.StreamEvent {
	switch s.stopReason {
	case model.StopToolUse:
		return nil
	case model.StopPauseTurn:
		return []core.StreamEvent{core.Pause{}}
	case model.StopMaxTokens:
		if s.OpenCount() == 0 {
			return nil
		}
		out := []core.StreamEvent{core.TextDelta{Text: TruncationNotice}}
		return append(out, s.Abort("tool call truncated by the output token limit")...)
	default:
		return s.Abort("tool call was not completed")
	}
}

func trimmedInput(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "{}" || !json.Valid(raw) {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
