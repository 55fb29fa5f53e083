package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hupe1980/agentstream/classify"
	"github.com/hupe1980/agentstream/content"
	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/logging"
	"github.com/hupe1980/agentstream/model"
	"github.com/hupe1980/agentstream/observability"
	"github.com/hupe1980/agentstream/stream"
	"github.com/hupe1980/agentstream/tool"
)

// IterationLimitNotice is emitted when a run hits its tool-use iteration cap.
const IterationLimitNotice = "\n\n[Stopped after %d tool-use iterations. Ask me to continue if you need more.]"

var (
	// ErrNoModel is returned when neither a model nor a model provider is configured.
	ErrNoModel = errors.New("no model configured")
	// ErrCancelled is the cause of runs stopped through Cancel.
	ErrCancelled = errors.New("run cancelled")
)

// ModelProvider creates the model used for one run from the caller's API key.
type ModelProvider func(apiKey string) (model.Model, error)

// PromptFunc renders the system prompt of a run that carries none. tools
// lists the declared tool names, provider-native tools included.
type PromptFunc func(ctx context.Context, in Input, tools []string) (string, error)

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// Model serves every run. Takes precedence over ModelProvider.
	Model model.Model
	// ModelProvider creates a model per run from Input.APIKey.
	ModelProvider ModelProvider
	// Capabilities selects the registry tools; UserID and the user location
	// are filled in per run.
	Capabilities tool.CapabilitySet
	// Tools are additional locally executed tools.
	Tools []tool.Tool
	// SystemPrompt renders the prompt when Input.SystemPrompt is empty.
	SystemPrompt PromptFunc
	// MaxIterations caps model turns per run.
	MaxIterations int
	// MaxParallelTools limits concurrently executing tools of one turn.
	MaxParallelTools int
	// CacheMinMessages is the conversation length from which the latest user
	// turn is annotated for caching.
	CacheMinMessages int
	// MaxTokens is the output limit per model turn.
	MaxTokens int64
	// ContextManagement lets the provider clear old tool uses.
	ContextManagement *model.ContextManagement
	// EventBufferSize sets channel buffering for Run.
	EventBufferSize int
	// Logging services.
	Logger logging.Logger
	// Metrics and Tracer are optional.
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Input is one chat request.
type Input struct {
	RunID          string // generated when empty
	APIKey         string
	Messages       []core.Message
	SystemPrompt   string
	UserLocation   *model.UserLocation
	UserID         string
	UserName       string
	Effort         string
	ThinkingBudget int64
}

// Runner coordinates runs: it streams model turns, executes tools and pushes
// normalized events to a sink. Public methods are safe for concurrent use.
type Runner struct {
	opts Options

	activeRuns map[string]context.CancelCauseFunc
	mu         sync.RWMutex
}

// New constructs a Runner with optional overrides.
func New(optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxIterations:    10,
		MaxParallelTools: 4,
		CacheMinMessages: 4,
		MaxTokens:        16384,
		EventBufferSize:  100,
		Logger:           logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Runner{
		opts:       opts,
		activeRuns: make(map[string]context.CancelCauseFunc),
	}
}

// Run starts an asynchronous run and returns its id and event channel. The
// channel carries exactly one terminal event (core.Done or core.ErrorEvent)
// before it is closed, unless ctx is cancelled first.
func (r *Runner) Run(ctx context.Context, in Input) (string, <-chan core.StreamEvent) {
	if in.RunID == "" {
		in.RunID = core.NewID()
	}

	sink := core.NewChanSink(r.opts.EventBufferSize)

	go func() {
		defer func() { _ = sink.Close() }()
		_ = r.Stream(ctx, in, sink)
	}()

	return in.RunID, sink.Events()
}

// Cancel stops a running run by ID. Open tool invocations are ended with an
// error and the run finishes with done.
func (r *Runner) Cancel(runID string) error {
	r.mu.RLock()
	cancel, exists := r.activeRuns[runID]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}

	cancel(ErrCancelled)

	return nil
}

// Stream executes a run synchronously, writing its events to sink and
// closing it. It returns nil after done, the *core.AgentError that was sent
// as the error event, ErrCancelled after Cancel, or the cancellation cause
// when the consumer went away.
func (r *Runner) Stream(ctx context.Context, in Input, sink core.Sink) error {
	if in.RunID == "" {
		in.RunID = core.NewID()
	}

	logger := logging.With(r.opts.Logger, "component", "runner", "run_id", in.RunID)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if !r.register(in.RunID, cancel) {
		agentErr := &core.AgentError{
			Type:    core.ErrorInvalidRequest,
			Status:  http.StatusConflict,
			Message: fmt.Sprintf("run %s is already active", in.RunID),
		}
		logger.Warn("runner.run.duplicate")
		_ = sink.Send(ctx, core.ErrorEvent{Err: agentErr})
		_ = sink.Close()
		return agentErr
	}
	defer r.unregister(in.RunID)

	em := newEmitter(ctx, sink, cancel)
	defer em.Close()

	runCtx, span := r.opts.Tracer.TraceRun(runCtx, in.RunID, in.UserID)
	defer span.End()

	start := time.Now()
	r.opts.Metrics.RunStarted()
	logger.Info("runner.run.start", "user_id", in.UserID, "messages", len(in.Messages))

	st := stream.NewState()
	err := r.run(runCtx, in, st, em, logger)

	if runCtx.Err() != nil {
		cause := context.Cause(runCtx)
		logger.Info("runner.run.cancelled", "reason", cause.Error(), "open_tools", st.OpenCount())
		r.opts.Metrics.RunFinished("cancelled", time.Since(start).Seconds())

		if errors.Is(cause, ErrCancelled) {
			r.abortOpen(st, em, "the run was cancelled")
			_ = em.Send(core.Done{})
		}
		return cause
	}

	if err != nil {
		agentErr := classify.Classify(err)

		logger.Error("runner.run.failed",
			"error_type", string(agentErr.Type),
			"status", agentErr.Status,
			"retryable", agentErr.Retryable,
			"request_id", agentErr.RequestID,
			"error", classify.Describe(agentErr),
		)
		observability.RecordError(span, err)
		r.opts.Metrics.RecordError("runner", string(agentErr.Type))

		r.abortOpen(st, em, "the run failed before the tool call completed")
		_ = em.Send(core.ErrorEvent{Err: agentErr})
		r.opts.Metrics.RunFinished("error", time.Since(start).Seconds())
		return agentErr
	}

	r.abortOpen(st, em, "the run ended before the tool call completed")
	_ = em.Send(core.Done{})

	usage := st.Usage()
	logger.Info("runner.run.done",
		"duration_ms", time.Since(start).Milliseconds(),
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
	)
	r.opts.Metrics.RunFinished("done", time.Since(start).Seconds())
	return nil
}

func (r *Runner) register(runID string, cancel context.CancelCauseFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.activeRuns[runID]; exists {
		return false
	}
	r.activeRuns[runID] = cancel
	return true
}

func (r *Runner) unregister(runID string) {
	r.mu.Lock()
	delete(r.activeRuns, runID)
	r.mu.Unlock()
}

func (r *Runner) abortOpen(st *stream.State, em *emitter, reason string) {
	for _, ev := range st.Abort(reason) {
		if err := em.Send(ev); err != nil {
			return
		}
	}
}

func (r *Runner) run(ctx context.Context, in Input, st *stream.State, em *emitter, logger logging.Logger) error {
	budget := clampThinking(in.ThinkingBudget, logger)
	effort := validEffort(in.Effort, logger)
	maxTokens := maxTokensFor(r.opts.MaxTokens, budget)

	msgs := AnnotateCache(content.NormalizeMessages(in.Messages), r.opts.CacheMinMessages)

	tools, specs, err := r.assembleTools(ctx, in)
	if err != nil {
		return err
	}

	system := in.SystemPrompt
	if system == "" && r.opts.SystemPrompt != nil {
		names := make([]string, len(specs))
		for i, s := range specs {
			names[i] = s.Name
		}
		if system, err = r.opts.SystemPrompt(ctx, in, names); err != nil {
			return fmt.Errorf("system prompt: %w", err)
		}
	}

	m, err := r.resolveModel(in.APIKey)
	if err != nil {
		return err
	}

	b := batch{
		runID:  in.RunID,
		userID: in.UserID,
		tools:  tools,
		emit:   em.Send,
		logger: logger,
	}

	for turn := 1; ; turn++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.opts.MaxIterations > 0 && turn > r.opts.MaxIterations {
			logger.Warn("runner.iteration.limit", "max", r.opts.MaxIterations)
			_ = em.Send(core.TextDelta{Text: fmt.Sprintf(IterationLimitNotice, r.opts.MaxIterations)})
			return nil
		}

		req := model.Request{
			System:            system,
			Messages:          msgs,
			Tools:             specs,
			MaxTokens:         maxTokens,
			ThinkingBudget:    budget,
			Effort:            effort,
			ContextManagement: r.opts.ContextManagement,
		}

		acc, err := r.streamTurn(ctx, m, req, st, em, turn, logger)
		if err != nil {
			return err
		}

		switch st.StopReason() {
		case model.StopToolUse:
			calls := st.Pending()
			checkToolUses(calls, acc.ToolUses(), logger)
			if len(calls) == 0 {
				logger.Warn("runner.tool_use.empty")
				return nil
			}

			outcomes := r.execute(context.WithoutCancel(ctx), b, calls)
			if err := em.Failed(); err != nil {
				return err
			}
			for _, c := range calls {
				st.Complete(c.ID)
			}

			msgs = append(msgs, acc.Message(), toolResults(calls, outcomes))

		case model.StopPauseTurn:
			msgs = append(msgs, acc.Message())

		default:
			return nil
		}
	}
}

// streamTurn streams one model turn through the translator onto the sink and
// returns the accumulated assistant message.
func (r *Runner) streamTurn(
	ctx context.Context,
	m model.Model,
	req model.Request,
	st *stream.State,
	em *emitter,
	iteration int,
	logger logging.Logger,
) (*model.Accumulator, error) {
	info := m.Info()

	ctx, span := r.opts.Tracer.TraceLLMRequest(ctx, info.Provider, info.Name, iteration)
	defer span.End()

	logger.Debug("runner.iteration.start", "iteration", iteration, "messages", len(req.Messages), "tools", len(req.Tools))

	start := time.Now()
	acc := model.NewAccumulator()
	events, errs := m.Stream(ctx, req)

	for ev := range events {
		if err := acc.Add(ev); err != nil {
			logger.Debug("runner.accumulate.skipped", "error", err.Error())
		}

		for _, out := range stream.Translate(st, ev) {
			if err := em.Send(out); err != nil {
				go drain(events, errs)
				return nil, err
			}
		}
	}

	err := <-errs
	dur := time.Since(start)

	usage := acc.Usage()
	r.opts.Metrics.RecordLLMRequest(info.Provider, info.Name, acc.StopReason(), dur.Seconds(), observability.TokenUsage{
		Input:      usage.InputTokens,
		Output:     usage.OutputTokens,
		CacheRead:  usage.CacheReadInputTokens,
		CacheWrite: usage.CacheCreationInputTokens,
	})

	if err != nil {
		observability.RecordError(span, err)
		logger.Debug("runner.iteration.failed", "iteration", iteration, "error", err.Error())
		return nil, err
	}

	logger.Info("runner.iteration.complete",
		"iteration", iteration,
		"stop_reason", st.StopReason(),
		"duration_ms", dur.Milliseconds(),
	)

	return acc, nil
}

func drain(events <-chan model.Event, errs <-chan error) {
	for range events {
	}
	<-errs
}

func (r *Runner) assembleTools(ctx context.Context, in Input) (map[string]tool.Tool, []model.ToolSpec, error) {
	caps := r.opts.Capabilities
	caps.UserID = in.UserID
	if !in.UserLocation.IsZero() {
		caps.Native.UserLocation = in.UserLocation
	}

	tools, err := tool.BuildTools(ctx, caps)
	if err != nil {
		return nil, nil, fmt.Errorf("build tools: %w", err)
	}
	tools = append(tools, r.opts.Tools...)

	specs := append(tool.Specs(tools), caps.Native.Specs()...)

	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	if err := tool.AssertUnique(names); err != nil {
		return nil, nil, err
	}

	registry := make(map[string]tool.Tool, len(tools))
	for _, t := range tools {
		registry[t.Name()] = t
	}

	return registry, specs, nil
}

func (r *Runner) resolveModel(apiKey string) (model.Model, error) {
	if r.opts.Model != nil {
		return r.opts.Model, nil
	}
	if r.opts.ModelProvider == nil {
		return nil, ErrNoModel
	}
	return r.opts.ModelProvider(apiKey)
}

// checkToolUses logs disagreement between the translated pending calls and
// the tool_use blocks of the accumulated assistant message.
func checkToolUses(calls []core.ToolCall, uses []model.Block, logger logging.Logger) bool {
	ids := make(map[string]bool, len(uses))
	for _, b := range uses {
		ids[b.ID] = false
	}

	ok := true
	for _, c := range calls {
		if _, found := ids[c.ID]; !found {
			logger.Warn("runner.tool_use.unrecorded", "fc_id", c.ID, "tool", c.Name)
			ok = false
			continue
		}
		ids[c.ID] = true
	}
	for id, pending := range ids {
		if !pending {
			logger.Warn("runner.tool_use.not_pending", "fc_id", id)
			ok = false
		}
	}
	return ok
}

func toolResults(calls []core.ToolCall, outcomes []tool.Outcome) model.Message {
	blocks := make([]model.Block, len(calls))
	for i, c := range calls {
		blocks[i] = model.ToolResultBlock(c.ID, outcomes[i].Text, outcomes[i].IsError)
	}
	return model.Message{Role: model.RoleUser, Content: model.BlockContent(blocks...)}
}
