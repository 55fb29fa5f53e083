package runner

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/internal/testutil"
	"github.com/hupe1980/agentstream/model"
	"github.com/hupe1980/agentstream/tool"
)

func userText(s string) []core.Message {
	return []core.Message{{Role: core.RoleUser, Content: core.Text(s)}}
}

func collect(t *testing.T, events <-chan core.StreamEvent) []core.StreamEvent {
	t.Helper()

	var out []core.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("run did not finish, got %d events", len(out))
			return nil
		}
	}
}

func toolEnds(events []core.StreamEvent) []core.ToolEnd {
	var out []core.ToolEnd
	for _, ev := range events {
		if end, ok := ev.(core.ToolEnd); ok {
			out = append(out, end)
		}
	}
	return out
}

func terminals(events []core.StreamEvent) int {
	n := 0
	for _, ev := range events {
		if core.IsTerminal(ev) {
			n++
		}
	}
	return n
}

// assertToolPairing checks that every started invocation ends exactly once.
func assertToolPairing(t *testing.T, events []core.StreamEvent) {
	t.Helper()

	started := map[string]int{}
	ended := map[string]int{}
	for _, ev := range events {
		switch e := ev.(type) {
		case core.ToolStart:
			started[e.ID]++
		case core.ToolEnd:
			ended[e.ID]++
			assert.Equal(t, 1, started[e.ID], "tool-end %s without a single tool-start", e.ID)
		}
	}
	for id := range started {
		assert.Equal(t, 1, ended[id], "invocation %s", id)
	}
}

func TestRunner_CalculatorRoundTrip(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.AddTurn(testutil.NewStreamBuilder().
		Text("Let me compute that.").
		ToolUse("tu_1", "calculator", `{"expres`, `sion":"2 + 2"}`).
		Stop(model.StopToolUse)...)
	m.AddTurn(testutil.NewStreamBuilder().Text("2 + 2 = 4").Stop(model.StopEndTurn)...)

	r := New(func(o *Options) {
		o.Model = m
		o.Capabilities.Calculator = true
	})

	runID, ch := r.Run(context.Background(), Input{Messages: userText("What is 2 + 2?")})
	events := collect(t, ch)

	assert.NotEmpty(t, runID)
	require.NotEmpty(t, events)
	assert.Equal(t, core.Done{}, events[len(events)-1])
	assert.Equal(t, 1, terminals(events))
	assertToolPairing(t, events)

	ends := toolEnds(events)
	require.Len(t, ends, 1)
	assert.Equal(t, "tu_1", ends[0].ID)
	assert.Equal(t, "4", ends[0].Result)
	assert.False(t, ends[0].IsError)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[1].Messages, 3)
	assert.Equal(t, model.RoleAssistant, reqs[1].Messages[1].Role)

	result := reqs[1].Messages[2]
	assert.Equal(t, model.RoleUser, result.Role)
	require.Len(t, result.Content.Blocks, 1)
	assert.Equal(t, model.BlockToolResult, result.Content.Blocks[0].Type)
	assert.Equal(t, "tu_1", result.Content.Blocks[0].ToolUseID)
	assert.JSONEq(t, `"4"`, string(result.Content.Blocks[0].Content))
}

func TestRunner_EmptyExpressionIsToolError(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.AddTurn(testutil.NewStreamBuilder().ToolUse("tu_1", "calculator", `{"expression":""}`).Stop(model.StopToolUse)...)
	m.AddTurn(testutil.NewStreamBuilder().Text("That expression was empty.").Stop(model.StopEndTurn)...)

	r := New(func(o *Options) {
		o.Model = m
		o.Capabilities.Calculator = true
	})

	_, ch := r.Run(context.Background(), Input{Messages: userText("calc nothing")})
	events := collect(t, ch)

	ends := toolEnds(events)
	require.Len(t, ends, 1)
	assert.True(t, ends[0].IsError)
	assert.Regexp(t, `^Error:`, ends[0].Result)
	assert.Equal(t, core.Done{}, events[len(events)-1])

	block := m.Requests()[1].Messages[2].Content.Blocks[0]
	assert.True(t, block.IsError)
}

func TestRunner_PanickingToolStillEnds(t *testing.T) {
	panicky := tool.NewFunctionTool("explode", "Always panics", map[string]any{"type": "object"},
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			panic("kaboom")
		})

	m := model.NewMockModel("mock", "mock")
	m.AddTurn(testutil.NewStreamBuilder().ToolUse("tu_1", "explode", `{}`).Stop(model.StopToolUse)...)
	m.AddTurn(testutil.NewStreamBuilder().Text("It failed.").Stop(model.StopEndTurn)...)

	r := New(func(o *Options) {
		o.Model = m
		o.Tools = []tool.Tool{panicky}
	})

	_, ch := r.Run(context.Background(), Input{Messages: userText("go")})
	events := collect(t, ch)

	ends := toolEnds(events)
	require.Len(t, ends, 1)
	assert.True(t, ends[0].IsError)
	assert.Contains(t, ends[0].Result, "kaboom")
	assert.Equal(t, core.Done{}, events[len(events)-1])
	assert.Len(t, m.Requests(), 2)
}

func TestRunner_UnknownToolYieldsErrorEnd(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.AddTurn(testutil.NewStreamBuilder().ToolUse("tu_1", "nope", `{}`).Stop(model.StopToolUse)...)
	m.AddTurn(testutil.NewStreamBuilder().Text("ok").Stop(model.StopEndTurn)...)

	r := New(func(o *Options) { o.Model = m })

	_, ch := r.Run(context.Background(), Input{Messages: userText("go")})
	events := collect(t, ch)

	ends := toolEnds(events)
	require.Len(t, ends, 1)
	assert.True(t, ends[0].IsError)
	assert.Contains(t, ends[0].Result, `unknown tool "nope"`)
	assertToolPairing(t, events)
}

func apiError(status int, header http.Header) *anthropic.Error {
	req, _ := http.NewRequest(http.MethodPost, "https://api.example/v1/messages", nil)
	resp := &http.Response{StatusCode: status, Header: header, Request: req}
	return &anthropic.Error{StatusCode: status, Request: req, Response: resp}
}

func TestRunner_RateLimitedErrorIsTerminal(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.AddFailingTurn(apiError(http.StatusTooManyRequests, http.Header{"Retry-After": []string{"30"}}))

	r := New(func(o *Options) { o.Model = m })

	_, ch := r.Run(context.Background(), Input{Messages: userText("hi")})
	events := collect(t, ch)

	require.Len(t, events, 1)
	errEv, ok := events[0].(core.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, core.ErrorRateLimited, errEv.Err.Type)
	assert.True(t, errEv.Err.Retryable)
	assert.Equal(t, int64(30000), errEv.Err.RetryAfterMs())
}

func TestRunner_ErrorMidToolAbortsOpenInvocations(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.AddFailingTurn(apiError(http.StatusInternalServerError, http.Header{}),
		testutil.NewStreamBuilder().OpenToolUse("tu_1", "calculator", `{"expression":"1`).Events()...)

	r := New(func(o *Options) {
		o.Model = m
		o.Capabilities.Calculator = true
	})

	_, ch := r.Run(context.Background(), Input{Messages: userText("hi")})
	events := collect(t, ch)

	assertToolPairing(t, events)
	require.NotEmpty(t, events)
	last, ok := events[len(events)-1].(core.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, core.ErrorServer, last.Err.Type)
	assert.Equal(t, 1, terminals(events))
}

func TestRunner_StreamReturnsAgentError(t *testing.T) {
	r := New()

	var got []core.StreamEvent
	sink := core.SinkFunc(func(_ context.Context, ev core.StreamEvent) error {
		got = append(got, ev)
		return nil
	})

	err := r.Stream(context.Background(), Input{Messages: userText("hi")}, sink)

	var agentErr *core.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.ErrorIs(t, err, ErrNoModel)
	require.Len(t, got, 1)
	assert.IsType(t, core.ErrorEvent{}, got[0])
}

func TestRunner_PauseTurnContinues(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.AddTurn(testutil.NewStreamBuilder().
		ServerToolUse("srv_1", "web_search", `{"query":"golang"}`).
		Stop(model.StopPauseTurn)...)
	m.AddTurn(testutil.NewStreamBuilder().
		ResultBlock(model.BlockWebSearchResult, "srv_1", `[{"type":"web_search_result","title":"Go","url":"https://go.dev"}]`).
		Text("Go is at go.dev").
		Stop(model.StopEndTurn)...)

	r := New(func(o *Options) {
		o.Model = m
		o.Capabilities.Native.WebSearch = true
	})

	_, ch := r.Run(context.Background(), Input{Messages: userText("find go")})
	events := collect(t, ch)

	var sawPause bool
	for _, ev := range events {
		if _, ok := ev.(core.Pause); ok {
			sawPause = true
		}
	}
	assert.True(t, sawPause)
	assertToolPairing(t, events)

	ends := toolEnds(events)
	require.Len(t, ends, 1)
	assert.Equal(t, "srv_1", ends[0].ID)
	assert.False(t, ends[0].IsError)
	assert.Equal(t, core.Done{}, events[len(events)-1])

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Messages, 2)
}

func TestRunner_IterationLimit(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	for i := 0; i < 3; i++ {
		m.AddTurn(testutil.NewStreamBuilder().ToolUse("tu", "calculator", `{"expression":"1+1"}`).Stop(model.StopToolUse)...)
	}

	r := New(func(o *Options) {
		o.Model = m
		o.MaxIterations = 2
		o.Capabilities.Calculator = true
	})

	_, ch := r.Run(context.Background(), Input{Messages: userText("loop")})
	events := collect(t, ch)

	assert.Len(t, m.Requests(), 2)
	require.GreaterOrEqual(t, len(events), 2)
	notice, ok := events[len(events)-2].(core.TextDelta)
	require.True(t, ok)
	assert.Contains(t, notice.Text, "2 tool-use iterations")
	assert.Equal(t, core.Done{}, events[len(events)-1])
}

func TestRunner_RequestParameters(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.AddTurn(testutil.NewStreamBuilder().Text("hi").Stop(model.StopEndTurn)...)

	r := New(func(o *Options) {
		o.Model = m
		o.MaxTokens = 2000
		o.CacheMinMessages = 3
	})

	msgs := []core.Message{
		{Role: core.RoleUser, Content: core.Text("one")},
		{Role: core.RoleAssistant, Content: core.Text("two")},
		{Role: core.RoleUser, Content: core.Text("three")},
	}

	_, ch := r.Run(context.Background(), Input{
		Messages:       msgs,
		SystemPrompt:   "be brief",
		ThinkingBudget: 100,
		Effort:         "extreme",
	})
	collect(t, ch)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, "be brief", req.System)
	assert.Equal(t, int64(ThinkingFloor), req.ThinkingBudget)
	assert.Equal(t, int64(2000), req.MaxTokens)
	assert.Empty(t, req.Effort)

	last := req.Messages[2].Content
	require.Len(t, last.Blocks, 1)
	assert.NotNil(t, last.Blocks[0].CacheControl)
	assert.Nil(t, req.Messages[0].Content.Blocks)
}

func TestRunner_ThinkingRaisesMaxTokens(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.AddTurn(testutil.NewStreamBuilder().Text("hi").Stop(model.StopEndTurn)...)

	r := New(func(o *Options) {
		o.Model = m
		o.MaxTokens = 2000
	})

	_, ch := r.Run(context.Background(), Input{Messages: userText("think"), ThinkingBudget: 5000, Effort: EffortHigh})
	collect(t, ch)

	req := m.Requests()[0]
	assert.Equal(t, int64(5000), req.ThinkingBudget)
	assert.Equal(t, int64(5000+thinkingHeadroom), req.MaxTokens)
	assert.Equal(t, EffortHigh, req.Effort)
}

func TestRunner_DuplicateToolNames(t *testing.T) {
	dup := tool.NewFunctionTool("calculator", "shadow", map[string]any{"type": "object"},
		func(_ *core.ToolContext, _ map[string]any) (any, error) { return "x", nil })

	r := New(func(o *Options) {
		o.Model = model.NewMockModel("mock", "mock")
		o.Capabilities.Calculator = true
		o.Tools = []tool.Tool{dup}
	})

	_, ch := r.Run(context.Background(), Input{Messages: userText("hi")})
	events := collect(t, ch)

	require.Len(t, events, 1)
	assert.IsType(t, core.ErrorEvent{}, events[0])
}

func TestRunner_SinkFailureCancelsRun(t *testing.T) {
	boom := errors.New("client went away")

	var executed atomic.Bool
	recorder := tool.NewFunctionTool("recorder", "Records execution", map[string]any{"type": "object"},
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			executed.Store(true)
			return "ok", nil
		})

	m := model.NewMockModel("mock", "mock")
	m.AddTurn(testutil.NewStreamBuilder().Text("a", "b", "c").ToolUse("tu_1", "recorder", `{}`).Stop(model.StopToolUse)...)
	m.AddTurn(testutil.NewStreamBuilder().Text("never").Stop(model.StopEndTurn)...)

	r := New(func(o *Options) {
		o.Model = m
		o.Tools = []tool.Tool{recorder}
	})

	var sent int
	sink := core.SinkFunc(func(_ context.Context, _ core.StreamEvent) error {
		sent++
		if sent == 2 {
			return boom
		}
		return nil
	})

	err := r.Stream(context.Background(), Input{Messages: userText("hi")}, sink)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, sent)
	assert.False(t, executed.Load())
	assert.Len(t, m.Requests(), 1)
}

// blockingModel streams prefix and then blocks until its context ends.
type blockingModel struct {
	prefix []model.Event
}

func (blockingModel) Info() model.Info { return model.Info{Name: "block", Provider: "mock"} }

func (b blockingModel) Stream(ctx context.Context, _ model.Request) (<-chan model.Event, <-chan error) {
	out := make(chan model.Event)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for _, ev := range b.prefix {
			select {
			case out <- ev:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		<-ctx.Done()
		errs <- ctx.Err()
	}()
	return out, errs
}

func TestRunner_CancelEndsWithDone(t *testing.T) {
	r := New(func(o *Options) {
		o.Model = blockingModel{prefix: testutil.NewStreamBuilder().OpenToolUse("tu_1", "calculator", `{"expr`).Events()}
	})

	runID, ch := r.Run(context.Background(), Input{Messages: userText("hi")})

	var events []core.StreamEvent
	ev := <-ch
	require.IsType(t, core.ToolStart{}, ev)
	events = append(events, ev)

	require.NoError(t, r.Cancel(runID))
	events = append(events, collect(t, ch)...)

	assertToolPairing(t, events)
	ends := toolEnds(events)
	require.Len(t, ends, 1)
	assert.True(t, ends[0].IsError)
	assert.Contains(t, ends[0].Result, "cancelled")

	assert.Equal(t, 1, terminals(events))
	assert.Equal(t, core.Done{}, events[len(events)-1])
	assert.Error(t, r.Cancel(runID))
}

func TestRunner_CancelStreamReturnsErrCancelled(t *testing.T) {
	r := New(func(o *Options) { o.Model = blockingModel{} })

	var sent []core.StreamEvent
	sink := core.SinkFunc(func(_ context.Context, ev core.StreamEvent) error {
		sent = append(sent, ev)
		return nil
	})

	go func() {
		for r.Cancel("run-1") != nil {
			time.Sleep(5 * time.Millisecond)
		}
	}()

	err := r.Stream(context.Background(), Input{RunID: "run-1", Messages: userText("hi")}, sink)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, []core.StreamEvent{core.Done{}}, sent)
}

func TestRunner_DuplicateRunIDIsRejected(t *testing.T) {
	r := New(func(o *Options) { o.Model = blockingModel{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, first := r.Run(ctx, Input{RunID: "run-1", Messages: userText("hi")})
	require.Eventually(t, func() bool {
		r.mu.RLock()
		defer r.mu.RUnlock()
		_, ok := r.activeRuns["run-1"]
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	_, second := r.Run(context.Background(), Input{RunID: "run-1", Messages: userText("again")})
	events := collect(t, second)
	require.Len(t, events, 1)
	errEv, ok := events[0].(core.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, core.ErrorInvalidRequest, errEv.Err.Type)
	assert.Equal(t, http.StatusConflict, errEv.Err.Status)

	// The rejected run must not unregister the active one.
	require.NoError(t, r.Cancel("run-1"))
	events = collect(t, first)
	assert.Equal(t, core.Done{}, events[len(events)-1])
}

func TestRunner_ContextCancelClosesWithoutTerminal(t *testing.T) {
	r := New(func(o *Options) { o.Model = blockingModel{} })

	ctx, cancel := context.WithCancel(context.Background())
	_, ch := r.Run(ctx, Input{Messages: userText("hi")})

	time.AfterFunc(20*time.Millisecond, cancel)

	events := collect(t, ch)
	assert.Empty(t, events)
}

func TestRunner_ToolsRunConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)

	rendezvous := tool.NewFunctionTool("rendezvous", "Waits for its sibling", map[string]any{"type": "object"},
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			started.Done()
			done := make(chan struct{})
			go func() { started.Wait(); close(done) }()
			select {
			case <-done:
				return "met", nil
			case <-time.After(2 * time.Second):
				return nil, errors.New("sibling never started")
			}
		})

	m := model.NewMockModel("mock", "mock")
	m.AddTurn(testutil.NewStreamBuilder().
		ToolUse("tu_a", "rendezvous", `{}`).
		ToolUse("tu_b", "rendezvous", `{}`).
		Stop(model.StopToolUse)...)
	m.AddTurn(testutil.NewStreamBuilder().Text("both met").Stop(model.StopEndTurn)...)

	r := New(func(o *Options) {
		o.Model = m
		o.Tools = []tool.Tool{rendezvous}
		o.MaxParallelTools = 2
	})

	_, ch := r.Run(context.Background(), Input{Messages: userText("go")})
	events := collect(t, ch)

	ends := toolEnds(events)
	require.Len(t, ends, 2)
	for _, end := range ends {
		assert.False(t, end.IsError, end.Result)
	}

	results := m.Requests()[1].Messages[2].Content.Blocks
	require.Len(t, results, 2)
	assert.Equal(t, "tu_a", results[0].ToolUseID)
	assert.Equal(t, "tu_b", results[1].ToolUseID)
}

func TestRunner_CancelUnknownRun(t *testing.T) {
	assert.Error(t, New().Cancel("missing"))
}
