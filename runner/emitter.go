package runner

import (
	"context"
	"errors"
	"sync"

	"github.com/hupe1980/agentstream/core"
)

var errTerminated = errors.New("run already terminated")

// emitter serializes writes of the run and its tool goroutines onto the sink.
// A failed write cancels the run; nothing is written after a terminal event.
type emitter struct {
	ctx    context.Context
	sink   core.Sink
	cancel context.CancelCauseFunc

	mu       sync.Mutex
	terminal bool
	failed   error
}

func newEmitter(ctx context.Context, sink core.Sink, cancel context.CancelCauseFunc) *emitter {
	return &emitter{ctx: ctx, sink: sink, cancel: cancel}
}

// Send writes ev.
func (e *emitter) Send(ev core.StreamEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.terminal {
		return errTerminated
	}
	if e.failed != nil {
		return e.failed
	}

	if err := e.sink.Send(e.ctx, ev); err != nil {
		e.failed = err
		e.cancel(err)
		return err
	}

	if core.IsTerminal(ev) {
		e.terminal = true
	}
	return nil
}

// Failed returns the write error that cancelled the run, if any.
func (e *emitter) Failed() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed
}

// Close closes the sink. Sinks tolerate repeated closes.
func (e *emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terminal = true
	_ = e.sink.Close()
}
