package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/agentstream"
	"github.com/hupe1980/agentstream/config"
	"github.com/hupe1980/agentstream/core"
)

type chatParams struct {
	Message   string
	System    string
	UserID    string
	Reasoning bool
	Out       io.Writer // answer text
	Status    io.Writer // tool activity, reasoning and errors
}

func runChat(ctx context.Context, cfg *config.Config, p chatParams) error {
	cfg.Logging.Level = "error"

	svc, err := buildServices(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close(context.WithoutCancel(ctx)) }()

	return svc.app.Stream(ctx, agentstream.Request{
		Messages:       []core.Message{{Role: core.RoleUser, Content: core.Text(p.Message)}},
		SystemPrompt:   p.System,
		UserID:         p.UserID,
		APIKey:         cfg.Model.APIKey,
		Effort:         cfg.Agent.Effort,
		ThinkingBudget: cfg.Agent.ThinkingBudget,
	}, printSink(p))
}

// printSink renders events for a terminal.
func printSink(p chatParams) core.Sink {
	return core.SinkFunc(func(_ context.Context, ev core.StreamEvent) error {
		var err error
		switch e := ev.(type) {
		case core.TextDelta:
			_, err = io.WriteString(p.Out, e.Text)
		case core.ReasoningDelta:
			if p.Reasoning {
				_, err = io.WriteString(p.Status, e.Text)
			}
		case core.ToolStart:
			_, err = fmt.Fprintf(p.Status, "\n[%s] started\n", e.Name)
		case core.ToolProgress:
			_, err = fmt.Fprintf(p.Status, "[%s] %s\n", e.Name, e.Status)
		case core.ToolEnd:
			status := "done"
			if e.IsError {
				status = "failed: " + e.Result
			}
			_, err = fmt.Fprintf(p.Status, "[%s] %s\n", e.Name, status)
		case core.Done:
			_, err = io.WriteString(p.Out, "\n")
		case core.ErrorEvent:
			_, err = fmt.Fprintf(p.Status, "\nerror (%s): %s\n", e.Err.Type, e.Err.Message)
		}
		return err
	})
}
