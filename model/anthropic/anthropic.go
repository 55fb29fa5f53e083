// Package anthropic provides a streaming model adapter for the Anthropic
// Messages API (beta surface: memory tool, web fetch, context management,
// effort). Requests travel in provider wire form; stream events are handed to
// callers undecoded beyond the generic model.Event shape.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/hupe1980/agentstream/model"
)

// Beta headers not exported as constants by the SDK.
const (
	betaWebFetch = "web-fetch-2025-09-10"
	betaEffort   = "effort-2025-11-24"
)

// Options configures the Anthropic model adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
	MaxRetries  int
	HTTPClient  option.HTTPClient
}

// Model wraps the Anthropic Beta Messages streaming API behind model.Model.
type Model struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaudeSonnet4_5,
		Temperature: 0.7,
		MaxTokens:   16384,
		MaxRetries:  2,
	}
}

// NewModel creates a new Anthropic model using the official client.
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
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
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

		params, err := m.buildParams(req)
		if err != nil {
			errCh <- err
			return
		}

		stream := m.client.Beta.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			raw := stream.Current().RawJSON()

			var ev model.Event
			if err := json.Unmarshal([]byte(raw), &ev); err != nil {
				errCh <- fmt.Errorf("decode anthropic event: %w", err)
				return
			}

			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- ev:
			}
		}

		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("anthropic streaming error: %w", err)
		}
	}()

	return out, errCh
}

// buildParams assembles the beta request including tools, thinking, effort
// and context management, collecting the beta headers they require.
func (m *Model) buildParams(req model.Request) (anthropic.BetaMessageNewParams, error) {
	modelID := m.opts.Model
	if req.Model != "" {
		modelID = anthropic.Model(req.Model)
	}

	maxTokens := m.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	messages := make([]anthropic.BetaMessageParam, 0, len(req.Messages))
	for i, msg := range req.Messages {
		raw, err := json.Marshal(msg)
		if err != nil {
			return anthropic.BetaMessageNewParams{}, fmt.Errorf("encode message %d: %w", i, err)
		}
		messages = append(messages, param.Override[anthropic.BetaMessageParam](json.RawMessage(raw)))
	}

	params := anthropic.BetaMessageNewParams{
		Model:     modelID,
		MaxTokens: maxTokens,
		Messages:  messages,
	}

	betas := newBetaSet()

	if req.System != "" {
		params.System = []anthropic.BetaTextBlockParam{{Text: req.System}}
	}

	switch {
	case req.ThinkingBudget > 0:
		params.Thinking = anthropic.BetaThinkingConfigParamOfEnabled(req.ThinkingBudget)
		betas.add(anthropic.AnthropicBetaInterleavedThinking2025_05_14)
	case req.Temperature != nil:
		params.Temperature = anthropic.Float(*req.Temperature)
	default:
		params.Temperature = anthropic.Float(m.opts.Temperature)
	}

	if req.Effort != "" {
		params.OutputConfig = anthropic.BetaOutputConfigParam{Effort: anthropic.BetaOutputConfigEffort(req.Effort)}
		betas.add(betaEffort)
	}

	if cm := req.ContextManagement; cm != nil {
		params.ContextManagement = buildContextManagement(cm)
		betas.add(anthropic.AnthropicBetaContextManagement2025_06_27)
	}

	tools, toolBetas := buildTools(req.Tools)
	params.Tools = tools
	for _, b := range toolBetas {
		betas.add(b)
	}

	params.Betas = betas.list()

	return params, nil
}

func buildContextManagement(cm *model.ContextManagement) anthropic.BetaContextManagementConfigParam {
	edit := anthropic.BetaClearToolUses20250919EditParam{
		ExcludeTools: cm.ExcludeTools,
	}
	if cm.TriggerInputTokens > 0 {
		edit.Trigger = anthropic.BetaClearToolUses20250919EditTriggerUnionParam{
			OfInputTokens: &anthropic.BetaInputTokensTriggerParam{Value: cm.TriggerInputTokens},
		}
	}
	if cm.KeepToolUses > 0 {
		edit.Keep = anthropic.BetaToolUsesKeepParam{Value: cm.KeepToolUses}
	}
	if cm.ClearAtLeastTokens > 0 {
		edit.ClearAtLeast = anthropic.BetaInputTokensClearAtLeastParam{Value: cm.ClearAtLeastTokens}
	}

	return anthropic.BetaContextManagementConfigParam{
		Edits: []anthropic.BetaContextManagementConfigEditUnionParam{{OfClearToolUses20250919: &edit}},
	}
}

// buildTools converts tool specs into SDK tool unions and reports the beta
// headers the native tools need.
func buildTools(specs []model.ToolSpec) ([]anthropic.BetaToolUnionParam, []string) {
	if len(specs) == 0 {
		return nil, nil
	}

	tools := make([]anthropic.BetaToolUnionParam, 0, len(specs))
	var betas []string

	for _, spec := range specs {
		switch spec.Kind {
		case model.ToolMemory:
			tools = append(tools, anthropic.BetaToolUnionParam{OfMemoryTool20250818: &anthropic.BetaMemoryTool20250818Param{}})
			betas = append(betas, anthropic.AnthropicBetaContextManagement2025_06_27)
		case model.ToolWebSearch:
			ws := &anthropic.BetaWebSearchTool20250305Param{}
			if spec.MaxUses > 0 {
				ws.MaxUses = anthropic.Int(spec.MaxUses)
			}
			if !spec.UserLocation.IsZero() {
				ws.UserLocation = buildUserLocation(spec.UserLocation)
			}
			tools = append(tools, anthropic.BetaToolUnionParam{OfWebSearchTool20250305: ws})
		case model.ToolWebFetch:
			wf := &anthropic.BetaWebFetchTool20250910Param{
				Citations:      anthropic.BetaCitationsConfigParam{Enabled: anthropic.Bool(true)},
				AllowedDomains: spec.AllowedHosts,
			}
			if spec.MaxUses > 0 {
				wf.MaxUses = anthropic.Int(spec.MaxUses)
			}
			tools = append(tools, anthropic.BetaToolUnionParam{OfWebFetchTool20250910: wf})
			betas = append(betas, betaWebFetch)
		default:
			tools = append(tools, buildFunctionTool(spec))
		}
	}

	return tools, betas
}

func buildFunctionTool(spec model.ToolSpec) anthropic.BetaToolUnionParam {
	schema := anthropic.BetaToolInputSchemaParam{ExtraFields: map[string]any{}}
	for k, v := range spec.InputSchema {
		switch k {
		case "type":
		case "properties":
			schema.Properties = v
		case "required":
			schema.Required = toStrings(v)
		default:
			schema.ExtraFields[k] = v
		}
	}

	tool := anthropic.BetaToolUnionParamOfTool(schema, spec.Name)
	if spec.Description != "" {
		tool.OfTool.Description = anthropic.String(spec.Description)
	}
	return tool
}

func buildUserLocation(loc *model.UserLocation) anthropic.BetaWebSearchTool20250305UserLocationParam {
	var p anthropic.BetaWebSearchTool20250305UserLocationParam
	if loc.City != "" {
		p.City = anthropic.String(loc.City)
	}
	if loc.Region != "" {
		p.Region = anthropic.String(loc.Region)
	}
	if loc.Country != "" {
		p.Country = anthropic.String(loc.Country)
	}
	if loc.Timezone != "" {
		p.Timezone = anthropic.String(loc.Timezone)
	}
	return p
}

func toStrings(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, s := range vv {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

type betaSet struct {
	seen  map[string]bool
	order []anthropic.AnthropicBeta
}

func newBetaSet() *betaSet { return &betaSet{seen: map[string]bool{}} }

func (s *betaSet) add(b string) {
	if s.seen[b] {
		return
	}
	s.seen[b] = true
	s.order = append(s.order, b)
}

func (s *betaSet) list() []anthropic.AnthropicBeta { return s.order }

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
