package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/logging"
	"github.com/hupe1980/agentstream/observability"
	"github.com/hupe1980/agentstream/tool"
)

// batch is one set of client tool calls requested in a single model turn.
type batch struct {
	runID  string
	userID string
	tools  map[string]tool.Tool
	emit   func(core.StreamEvent) error
	logger logging.Logger
}

// execute runs calls with at most maxParallel concurrent executions and
// returns their outcomes in call order. Every call yields exactly one
// tool-end through b.emit, including calls to unknown tools. ctx should be
// detached from run cancellation so that started side effects complete.
func (r *Runner) execute(ctx context.Context, b batch, calls []core.ToolCall) []tool.Outcome {
	n := len(calls)
	outcomes := make([]tool.Outcome, n)
	if n == 0 {
		return outcomes
	}

	// Fast path: single call, execute inline.
	if n == 1 {
		outcomes[0] = r.executeOne(ctx, b, calls[0])
		return outcomes
	}

	maxPar := r.opts.MaxParallelTools
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxPar)

	batchStart := time.Now()
	for i := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, call core.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()

			outcomes[idx] = r.executeOne(ctx, b, call)
		}(i, calls[i])
	}

	wg.Wait()

	b.logger.Debug(
		"runner.tools.batch.complete",
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return outcomes
}

func (r *Runner) executeOne(ctx context.Context, b batch, call core.ToolCall) tool.Outcome {
	t, ok := b.tools[call.Name]
	if !ok {
		t = unknownTool(call.Name)
	}

	ctx, span := r.opts.Tracer.TraceToolExecution(ctx, call.Name, call.ID)
	defer span.End()

	b.logger.Info("runner.tool.start", "tool", call.Name, "fc_id", call.ID)

	start := time.Now()
	tc := core.NewToolContext(ctx, b.runID, b.userID, call, b.emit, b.logger)
	out := tool.Execute(tc, t)
	dur := time.Since(start)

	status := "success"
	if out.IsError {
		status = "error"
		observability.RecordError(span, errors.New(out.Text))
	}
	r.opts.Metrics.RecordToolExecution(call.Name, status, dur.Seconds())

	b.logger.Info(
		"runner.tool.executed",
		"tool", call.Name,
		"fc_id", call.ID,
		"duration_ms", dur.Milliseconds(),
		"error", out.IsError,
	)

	return out
}

func unknownTool(name string) tool.Tool {
	return tool.NewFunctionTool(name, "", map[string]any{"type": "object"},
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			return nil, fmt.Errorf("unknown tool %q", name)
		})
}
