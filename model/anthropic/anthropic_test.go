package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/agentstream/model"
)

func sseFrame(eventType, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

func newTestServer(t *testing.T, body *string, headers *http.Header, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		*body = string(raw)
		*headers = r.Header.Clone()
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, f := range frames {
			_, _ = io.WriteString(w, f)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func drain(t *testing.T, events <-chan model.Event, errs <-chan error) ([]model.Event, error) {
	t.Helper()
	var out []model.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out, <-errs
}

func TestModel_StreamDecodesEvents(t *testing.T) {
	var body string
	var headers http.Header
	srv := newTestServer(t, &body, &headers,
		sseFrame("message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"usage":{"input_tokens":5,"output_tokens":0}}}`),
		sseFrame("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`),
		sseFrame("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`),
		sseFrame("content_block_stop", `{"type":"content_block_stop","index":0}`),
		sseFrame("message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":1}}`),
		sseFrame("message_stop", `{"type":"message_stop"}`),
	)

	m := NewModel(func(o *Options) {
		o.APIKey = "test-key"
		o.BaseURL = srv.URL
		o.MaxRetries = 0
	})

	events, errs := m.Stream(context.Background(), model.Request{
		System:   "be brief",
		Messages: []model.Message{{Role: "user", Content: model.TextContent("hello")}},
	})
	got, err := drain(t, events, errs)
	require.NoError(t, err)
	require.Len(t, got, 6)

	assert.Equal(t, model.EventMessageStart, got[0].Type)
	assert.Equal(t, "msg_1", got[0].Message.ID)
	assert.Equal(t, model.EventContentBlockDelta, got[2].Type)
	assert.Equal(t, "hi", got[2].Delta.Text)
	assert.Equal(t, model.StopEndTurn, got[4].Delta.StopReason)

	assert.Equal(t, "be brief", gjson.Get(body, "system.0.text").String())
	assert.Equal(t, "hello", gjson.Get(body, "messages.0.content").String())
	assert.True(t, gjson.Get(body, "stream").Bool())
	assert.Equal(t, "test-key", headers.Get("X-Api-Key"))
}

func TestModel_StreamSurfacesErrorEvent(t *testing.T) {
	var body string
	var headers http.Header
	srv := newTestServer(t, &body, &headers,
		sseFrame("message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"usage":{"input_tokens":5,"output_tokens":0}}}`),
		sseFrame("error", `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`),
	)

	m := NewModel(func(o *Options) {
		o.APIKey = "test-key"
		o.BaseURL = srv.URL
		o.MaxRetries = 0
	})

	events, errs := m.Stream(context.Background(), model.Request{
		Messages: []model.Message{{Role: "user", Content: model.TextContent("hello")}},
	})
	_, err := drain(t, events, errs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded_error")
}

func TestBuildParams_ToolsAndBetas(t *testing.T) {
	m := NewModel(func(o *Options) { o.APIKey = "k" })
	temp := 0.2

	params, err := m.buildParams(model.Request{
		Messages:       []model.Message{{Role: "user", Content: model.TextContent("q")}},
		Temperature:    &temp,
		ThinkingBudget: 2048,
		Effort:         "high",
		ContextManagement: &model.ContextManagement{
			TriggerInputTokens: 50000,
			KeepToolUses:       3,
		},
		Tools: []model.ToolSpec{
			{
				Name:        "calculator",
				Description: "Evaluate arithmetic",
				InputSchema: map[string]any{
					"type":       "object",
					"properties": map[string]any{"expression": map[string]any{"type": "string"}},
					"required":   []any{"expression"},
				},
			},
			{Kind: model.ToolMemory, Name: "memory"},
			{Kind: model.ToolWebSearch, Name: "web_search", MaxUses: 5, UserLocation: &model.UserLocation{City: "Berlin"}},
			{Kind: model.ToolWebFetch, Name: "web_fetch"},
		},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(params)
	require.NoError(t, err)
	body := string(raw)

	assert.Equal(t, int64(2048), gjson.Get(body, "thinking.budget_tokens").Int())
	assert.False(t, gjson.Get(body, "temperature").Exists(), "temperature must be omitted with thinking")
	assert.Equal(t, "high", gjson.Get(body, "output_config.effort").String())
	assert.Equal(t, int64(50000), gjson.Get(body, "context_management.edits.0.trigger.value").Int())
	assert.Equal(t, "calculator", gjson.Get(body, "tools.0.name").String())
	assert.Equal(t, "expression", gjson.Get(body, "tools.0.input_schema.required.0").String())
	assert.Equal(t, "memory_20250818", gjson.Get(body, "tools.1.type").String())
	assert.Equal(t, "Berlin", gjson.Get(body, "tools.2.user_location.city").String())
	assert.True(t, gjson.Get(body, "tools.3.citations.enabled").Bool())

	betas := make([]string, 0, len(params.Betas))
	for _, b := range params.Betas {
		betas = append(betas, string(b))
	}
	joined := strings.Join(betas, ",")
	assert.Contains(t, joined, betaEffort)
	assert.Contains(t, joined, betaWebFetch)
	assert.Equal(t, 1, strings.Count(joined, "context-management-2025-06-27"))
}

func TestInfo(t *testing.T) {
	m := NewModel(func(o *Options) { o.APIKey = "k" })
	info := m.Info()
	assert.Equal(t, "anthropic", info.Provider)
	assert.Equal(t, "claude-sonnet-4-5", info.Name)
}
