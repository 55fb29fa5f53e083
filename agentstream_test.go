package agentstream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstream/classify"
	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/internal/testutil"
	"github.com/hupe1980/agentstream/model"
	"github.com/hupe1980/agentstream/prompt"
	"github.com/hupe1980/agentstream/runner"
)

func userText(s string) []core.Message {
	return []core.Message{{Role: core.RoleUser, Content: core.Text(s)}}
}

func TestNew_Defaults(t *testing.T) {
	a := New()

	assert.NotNil(t, a.Runner())
	assert.NotNil(t, a.Chats())
	assert.NotNil(t, a.Documents())
	assert.NotNil(t, a.Connections())
}

func TestRunAgentSync_CalculatorAndPrompt(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.AddTurn(testutil.NewStreamBuilder().
		ToolUse("tu_1", "calculator", `{"expression":"6 * 7"}`).
		Stop(model.StopToolUse)...)
	m.AddTurn(testutil.NewStreamBuilder().Text("42").Stop(model.StopEndTurn)...)

	a := New(func(o *Options) {
		o.EnableMemory = true
		o.Instructions = "Be brief."
		o.RunnerOptions = append(o.RunnerOptions, func(ro *runner.Options) {
			ro.Model = m
			ro.Capabilities.Calculator = true
		})
	})

	events, err := a.RunAgentSync(context.Background(), Request{
		UserID:   "u1",
		UserName: "Ada",
		Messages: userText("What is 6 * 7?"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, core.Done{}, events[len(events)-1])

	var end core.ToolEnd
	for _, ev := range events {
		if e, ok := ev.(core.ToolEnd); ok {
			end = e
		}
	}
	assert.Equal(t, "42", end.Result)

	reqs := m.Requests()
	require.NotEmpty(t, reqs)
	assert.Contains(t, reqs[0].System, "for Ada")
	assert.Contains(t, reqs[0].System, "calculator, memory")
	assert.Contains(t, reqs[0].System, "/memories")
	assert.Contains(t, reqs[0].System, "Be brief.")
}

func TestRunAgentSync_ExplicitSystemPromptWins(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.AddTurn(testutil.NewStreamBuilder().Text("ok").Stop(model.StopEndTurn)...)

	a := New(func(o *Options) {
		o.RunnerOptions = append(o.RunnerOptions, func(ro *runner.Options) { ro.Model = m })
	})

	_, err := a.RunAgentSync(context.Background(), Request{
		SystemPrompt: "Custom.",
		Messages:     userText("hi"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Custom.", m.Requests()[0].System)
}

func TestRunAgentSync_PromptFailureIsErrorEvent(t *testing.T) {
	m := model.NewMockModel("mock", "mock")

	a := New(func(o *Options) {
		o.Prompt = prompt.New(func(po *prompt.Options) { po.Template = "{{.broken" })
		o.RunnerOptions = append(o.RunnerOptions, func(ro *runner.Options) { ro.Model = m })
	})

	events, err := a.RunAgentSync(context.Background(), Request{Messages: userText("hi")})
	require.Error(t, err)

	var agentErr *core.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, core.ErrorUnknown, classify.Classify(err).Type)

	require.Len(t, events, 1)
	assert.IsType(t, core.ErrorEvent{}, events[0])
	assert.Empty(t, m.Requests())
}

func TestStream_PushesIntoSink(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.AddTurn(testutil.NewStreamBuilder().Text("Hel", "lo").Stop(model.StopEndTurn)...)

	a := New(func(o *Options) {
		o.RunnerOptions = append(o.RunnerOptions, func(ro *runner.Options) { ro.Model = m })
	})

	var got []core.StreamEvent
	sink := core.SinkFunc(func(_ context.Context, ev core.StreamEvent) error {
		got = append(got, ev)
		return nil
	})

	require.NoError(t, a.Stream(context.Background(), Request{Messages: userText("hi")}, sink))
	require.NotEmpty(t, got)
	assert.Equal(t, core.Done{}, got[len(got)-1])
}
