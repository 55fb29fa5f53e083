// Package agentstream is a high-level façade over the streaming agent runner
// and its stores. Most applications interact with this package by:
//  1. Creating an AgentStream via New() (optionally overriding the default
//     in-memory stores)
//  2. Running a conversation with RunAgent (channel of events) or Stream
//     (events pushed into a core.Sink, e.g. an SSE writer)
//
// All defaults are safe for local development and testing; production
// deployments typically supply durable stores, a model provider and a
// structured logger.
package agentstream

import (
	"context"

	"github.com/hupe1980/agentstream/connection"
	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/logging"
	"github.com/hupe1980/agentstream/memory"
	"github.com/hupe1980/agentstream/model"
	"github.com/hupe1980/agentstream/prompt"
	"github.com/hupe1980/agentstream/runner"
	"github.com/hupe1980/agentstream/session"
)

// Options configures the AgentStream instance.
type Options struct {
	// RunnerOptions are applied to the underlying runner after the stores
	// below have been wired into its capabilities.
	RunnerOptions []func(o *runner.Options)

	// Stores (defaults to in-memory implementations if not provided)
	ChatStore       core.ChatStore
	DocumentStore   core.DocumentStore
	ConnectionStore core.ConnectionStore

	// EnableMemory exposes DocumentStore to the model as the memory tool.
	EnableMemory bool

	// Prompt renders the system prompt when a request carries none.
	Prompt *prompt.Builder
	// Instructions are appended to every rendered system prompt.
	Instructions string

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Request is one chat turn submitted by a client.
type Request struct {
	RunID          string
	APIKey         string
	Messages       []core.Message
	SystemPrompt   string // rendered from Options.Prompt when empty
	UserLocation   *model.UserLocation
	UserID         string
	UserName       string
	Effort         string
	ThinkingBudget int64
}

// AgentStream is the high-level façade aggregating the runner and services.
type AgentStream struct {
	opts   Options
	runner *runner.Runner
}

// New creates a new AgentStream instance with optional overrides. Any unset
// store is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *AgentStream {
	opts := Options{
		ChatStore:       session.NewInMemoryStore(),
		DocumentStore:   memory.NewInMemoryStore(),
		ConnectionStore: connection.NewInMemoryStore(),
		Prompt:          prompt.New(),
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Prompt == nil {
		opts.Prompt = prompt.New()
	}

	a := &AgentStream{opts: opts}
	a.runner = runner.New(func(o *runner.Options) {
		o.Logger = opts.Logger
		o.SystemPrompt = a.systemPrompt
		o.Capabilities.Connections = opts.ConnectionStore
		if opts.EnableMemory {
			o.Capabilities.Memory = opts.DocumentStore
		}
		for _, fn := range opts.RunnerOptions {
			fn(o)
		}
	})

	return a
}

// Runner returns the underlying runner.
func (a *AgentStream) Runner() *runner.Runner { return a.runner }

// Chats returns the chat store.
func (a *AgentStream) Chats() core.ChatStore { return a.opts.ChatStore }

// Documents returns the document store backing the memory tool.
func (a *AgentStream) Documents() core.DocumentStore { return a.opts.DocumentStore }

// Connections returns the OAuth connection store.
func (a *AgentStream) Connections() core.ConnectionStore { return a.opts.ConnectionStore }

// RunAgent starts an asynchronous run. The channel carries the run's events
// and is closed after the terminal event.
func (a *AgentStream) RunAgent(ctx context.Context, req Request) <-chan core.StreamEvent {
	_, events := a.runner.Run(ctx, req.input())
	return events
}

// Stream runs req synchronously, pushing events into sink.
func (a *AgentStream) Stream(ctx context.Context, req Request, sink core.Sink) error {
	return a.runner.Stream(ctx, req.input(), sink)
}

// Cancel stops a running run.
func (a *AgentStream) Cancel(runID string) error { return a.runner.Cancel(runID) }

// RunAgentSync is a synchronous helper that drains the event channel and
// returns all events. A terminal error event is also returned as error.
func (a *AgentStream) RunAgentSync(ctx context.Context, req Request) ([]core.StreamEvent, error) {
	eventsCh := a.RunAgent(ctx, req)

	var events []core.StreamEvent
	for {
		select {
		case <-ctx.Done():
			// Context cancelled - return events collected so far
			return events, ctx.Err()

		case ev, ok := <-eventsCh:
			if !ok {
				return events, nil
			}
			events = append(events, ev)
			if e, isErr := ev.(core.ErrorEvent); isErr {
				return events, e.Err
			}
		}
	}
}

func (req Request) input() runner.Input {
	return runner.Input{
		RunID:          req.RunID,
		APIKey:         req.APIKey,
		Messages:       req.Messages,
		SystemPrompt:   req.SystemPrompt,
		UserLocation:   req.UserLocation,
		UserID:         req.UserID,
		UserName:       req.UserName,
		Effort:         req.Effort,
		ThinkingBudget: req.ThinkingBudget,
	}
}

func (a *AgentStream) systemPrompt(_ context.Context, in runner.Input, tools []string) (string, error) {
	hasMemory := false
	for _, name := range tools {
		if name == "memory" {
			hasMemory = true
		}
	}

	return a.opts.Prompt.Build(prompt.Params{
		UserName:     in.UserName,
		Location:     in.UserLocation,
		Tools:        tools,
		Memory:       hasMemory,
		Instructions: a.opts.Instructions,
	})
}
