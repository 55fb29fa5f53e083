// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API. Streaming chunks are re-shaped into block events so
// the downstream translator handles both providers alike. Provider-native
// tools (web search, web fetch) have no Chat Completions counterpart and are
// not declared.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/agentstream/model"
)

// aggCall tracks one streamed tool call and the block index assigned to it.
type aggCall struct {
	id, name string
	index    int
}

// Options configure the OpenAI model adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
	BaseURL             string
	MaxRetries          int
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
		MaxRetries:          2,
	}
}

// NewModel creates a new OpenAI model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(opts.MaxRetries)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := openai.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new OpenAI model from an existing client
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Stream implements model.Model.
func (m *Model) Stream(ctx context.Context, req model.Request) (<-chan model.Event, <-chan error) {
	out := make(chan model.Event, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		params := m.buildParams(req, buildMessages(req))
		if err := m.handleStreaming(ctx, params, out); err != nil {
			errCh <- err
		}
	}()
	return out, errCh
}

// buildMessages converts wire messages into OpenAI chat messages. Tool
// results carried in user turns become tool messages placed before the
// remaining user content.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		if msg.Content.IsText() {
			if msg.Role == model.RoleAssistant {
				messages = append(messages, openai.AssistantMessage(msg.Content.Text))
			} else {
				messages = append(messages, openai.UserMessage(msg.Content.Text))
			}
			continue
		}
		if msg.Role == model.RoleAssistant {
			messages = append(messages, buildAssistant(msg.Content.Blocks))
			continue
		}
		messages = append(messages, buildUser(msg.Content.Blocks)...)
	}
	return messages
}

func buildUser(blocks []model.Block) []openai.ChatCompletionMessageParamUnion {
	var (
		messages []openai.ChatCompletionMessageParamUnion
		parts    []openai.ChatCompletionContentPartUnionParam
	)
	for _, b := range blocks {
		switch b.Type {
		case model.BlockToolResult:
			messages = append(messages, openai.ToolMessage(toolResultText(b), b.ToolUseID))
		case model.BlockText:
			parts = append(parts, openai.TextContentPart(b.Text))
		case model.BlockImage:
			if url := imageURL(b.Source); url != "" {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
			}
		case model.BlockDocument:
			if b.Source != nil && b.Source.Type == "text" {
				parts = append(parts, openai.TextContentPart(b.Source.Data))
			}
		}
	}
	if len(parts) > 0 {
		messages = append(messages, openai.UserMessage(parts))
	}
	return messages
}

// buildAssistant keeps text and client tool calls; thinking and provider
// tool blocks have no Chat Completions representation.
func buildAssistant(blocks []model.Block) openai.ChatCompletionMessageParamUnion {
	var (
		text      strings.Builder
		toolCalls []openai.ChatCompletionMessageToolCallParam
	)
	for _, b := range blocks {
		switch b.Type {
		case model.BlockText:
			text.WriteString(b.Text)
		case model.BlockToolUse:
			args := string(b.Input)
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
				ID:   b.ID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      b.Name,
					Arguments: args,
				},
			})
		}
	}
	if len(toolCalls) == 0 {
		return openai.AssistantMessage(text.String())
	}
	msg := openai.ChatCompletionAssistantMessageParam{Role: "assistant", ToolCalls: toolCalls}
	if text.Len() > 0 {
		msg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text.String())}
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &msg}
}

func toolResultText(b model.Block) string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var blocks []model.Block
	if err := json.Unmarshal(b.Content, &blocks); err == nil {
		var sb strings.Builder
		for _, inner := range blocks {
			sb.WriteString(inner.Text)
		}
		return sb.String()
	}
	return string(b.Content)
}

func imageURL(src *model.Source) string {
	if src == nil {
		return ""
	}
	switch src.Type {
	case "base64":
		return "data:" + src.MediaType + ";base64," + src.Data
	case "url":
		return src.URL
	}
	return ""
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(
	req model.Request,
	messages []openai.ChatCompletionMessageParamUnion,
) openai.ChatCompletionNewParams {
	modelID := m.opts.Model
	if req.Model != "" {
		modelID = req.Model
	}
	maxTokens := m.opts.MaxCompletionTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temp := m.opts.Temperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               modelID,
		Temperature:         openai.Float(temp),
		MaxCompletionTokens: openai.Int(maxTokens),
	}
	for _, spec := range req.Tools {
		if spec.Kind == model.ToolWebSearch || spec.Kind == model.ToolWebFetch || spec.InputSchema == nil {
			continue
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  openai.FunctionParameters(spec.InputSchema),
			},
		})
	}
	return params
}

// streamState synthesizes block events from chat completion chunks.
type streamState struct {
	out       chan<- model.Event
	ctx       context.Context
	started   bool
	textIndex int
	nextIndex int
	calls     map[int64]*aggCall
	usage     model.Usage
}

func (s *streamState) emit(ev model.Event) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.out <- ev:
		return nil
	}
}

// handleStreaming processes streaming chunks and forwards synthesized events.
func (m *Model) handleStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- model.Event,
) error {
	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	st := &streamState{out: out, ctx: ctx, textIndex: -1, calls: map[int64]*aggCall{}}
	for stream.Next() {
		ck := stream.Current()
		if !st.started {
			st.started = true
			if err := st.emit(model.Event{Type: model.EventMessageStart, Message: &model.MessageInfo{ID: ck.ID, Model: ck.Model}}); err != nil {
				return err
			}
		}
		if ck.Usage.PromptTokens > 0 || ck.Usage.CompletionTokens > 0 {
			st.usage = model.Usage{InputTokens: ck.Usage.PromptTokens, OutputTokens: ck.Usage.CompletionTokens}
		}
		for _, ch := range ck.Choices {
			if err := st.emitTextDelta(ch); err != nil {
				return err
			}
			if err := st.emitToolCallDeltas(ch); err != nil {
				return err
			}
			if ch.FinishReason != "" {
				if err := st.emitFinal(ch.FinishReason); err != nil {
					return err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai streaming error: %w", err)
	}
	return nil
}

func (s *streamState) emitTextDelta(ch openai.ChatCompletionChunkChoice) error {
	if ch.Delta.Content == "" {
		return nil
	}
	if s.textIndex < 0 {
		s.textIndex = s.nextIndex
		s.nextIndex++
		if err := s.emit(model.Event{
			Type:         model.EventContentBlockStart,
			Index:        s.textIndex,
			ContentBlock: &model.Block{Type: model.BlockText},
		}); err != nil {
			return err
		}
	}
	return s.emit(model.Event{
		Type:  model.EventContentBlockDelta,
		Index: s.textIndex,
		Delta: &model.Delta{Type: model.DeltaText, Text: ch.Delta.Content},
	})
}

func (s *streamState) emitToolCallDeltas(ch openai.ChatCompletionChunkChoice) error {
	for _, tc := range ch.Delta.ToolCalls {
		ac, ok := s.calls[tc.Index]
		if !ok {
			ac = &aggCall{id: tc.ID, name: tc.Function.Name, index: s.nextIndex}
			s.nextIndex++
			s.calls[tc.Index] = ac
			if err := s.emit(model.Event{
				Type:  model.EventContentBlockStart,
				Index: ac.index,
				ContentBlock: &model.Block{
					Type:  model.BlockToolUse,
					ID:    ac.id,
					Name:  ac.name,
					Input: json.RawMessage(`{}`),
				},
			}); err != nil {
				return err
			}
		}
		if tc.Function.Arguments != "" {
			if err := s.emit(model.Event{
				Type:  model.EventContentBlockDelta,
				Index: ac.index,
				Delta: &model.Delta{Type: model.DeltaInputJSON, PartialJSON: tc.Function.Arguments},
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *streamState) emitFinal(finishReason string) error {
	indices := make([]int, 0, len(s.calls)+1)
	if s.textIndex >= 0 {
		indices = append(indices, s.textIndex)
	}
	for _, ac := range s.calls {
		indices = append(indices, ac.index)
	}
	sort.Ints(indices)
	for _, idx := range indices {
		if err := s.emit(model.Event{Type: model.EventContentBlockStop, Index: idx}); err != nil {
			return err
		}
	}
	usage := s.usage
	if err := s.emit(model.Event{
		Type:  model.EventMessageDelta,
		Delta: &model.Delta{StopReason: mapFinishReason(finishReason)},
		Usage: &usage,
	}); err != nil {
		return err
	}
	return s.emit(model.Event{Type: model.EventMessageStop})
}

func mapFinishReason(reason string) string {
	switch reason {
	case "length":
		return model.StopMaxTokens
	case "tool_calls", "function_call":
		return model.StopToolUse
	case "content_filter":
		return model.StopRefusal
	default:
		return model.StopEndTurn
	}
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
