package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/agentstream/model"
)

func chunkServer(t *testing.T, body *string, chunks ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		*body = string(raw)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			_, _ = io.WriteString(w, "data: "+c+"\n\n")
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect(t *testing.T, m *Model, req model.Request) []model.Event {
	t.Helper()
	events, errs := m.Stream(context.Background(), req)
	var out []model.Event
	for ev := range events {
		out = append(out, ev)
	}
	require.NoError(t, <-errs)
	return out
}

func TestStream_TextAndToolCall(t *testing.T) {
	var body string
	srv := chunkServer(t, &body,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"Let me "},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"compute."},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"calculator","arguments":"{\"expr"}}]},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ession\":\"2+2\"}"}}]},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	)

	m := NewModel(func(o *Options) {
		o.APIKey = "k"
		o.BaseURL = srv.URL
		o.MaxRetries = 0
	})
	events := collect(t, m, model.Request{
		System:   "sys",
		Messages: []model.Message{{Role: model.RoleUser, Content: model.TextContent("what is 2+2")}},
		Tools: []model.ToolSpec{
			{Name: "calculator", InputSchema: map[string]any{"type": "object"}},
			{Kind: model.ToolWebSearch, Name: "web_search"},
		},
	})

	acc := model.NewAccumulator()
	for _, ev := range events {
		require.NoError(t, acc.Add(ev))
	}

	assert.Equal(t, model.EventMessageStart, events[0].Type)
	assert.Equal(t, model.StopToolUse, acc.StopReason())
	uses := acc.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "call_1", uses[0].ID)
	assert.JSONEq(t, `{"expression":"2+2"}`, string(uses[0].Input))

	msg := acc.Message()
	assert.Equal(t, "Let me compute.", msg.Content.Blocks[0].Text)

	assert.Equal(t, "sys", gjson.Get(body, "messages.0.content").String())
	assert.Equal(t, int64(1), gjson.Get(body, "tools.#").Int())
	assert.Equal(t, "calculator", gjson.Get(body, "tools.0.function.name").String())
}

func TestBuildMessages_ToolRoundTrip(t *testing.T) {
	input := json.RawMessage(`{"expression":"1+1"}`)
	msgs := buildMessages(model.Request{Messages: []model.Message{
		{Role: model.RoleUser, Content: model.TextContent("hi")},
		{Role: model.RoleAssistant, Content: model.BlockContent(
			model.TextBlock("checking"),
			model.Block{Type: model.BlockToolUse, ID: "t1", Name: "calculator", Input: input},
		)},
		{Role: model.RoleUser, Content: model.BlockContent(
			model.ToolResultBlock("t1", "2", false),
			model.TextBlock("thanks"),
		)},
	}})

	raw, err := json.Marshal(msgs)
	require.NoError(t, err)
	body := string(raw)

	assert.Equal(t, int64(4), gjson.Get(body, "#").Int())
	assert.Equal(t, "assistant", gjson.Get(body, "1.role").String())
	assert.Equal(t, "t1", gjson.Get(body, "1.tool_calls.0.id").String())
	assert.Equal(t, "tool", gjson.Get(body, "2.role").String())
	assert.Equal(t, "2", gjson.Get(body, "2.content").String())
	assert.Equal(t, "thanks", gjson.Get(body, "3.content.0.text").String())
}

func TestMapFinishReason(t *testing.T) {
	assert.Equal(t, model.StopMaxTokens, mapFinishReason("length"))
	assert.Equal(t, model.StopToolUse, mapFinishReason("tool_calls"))
	assert.Equal(t, model.StopRefusal, mapFinishReason("content_filter"))
	assert.Equal(t, model.StopEndTurn, mapFinishReason("stop"))
}
