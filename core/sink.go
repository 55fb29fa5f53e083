package core

import (
	"context"
	"sync"
)

// Sink is the one-way push channel a run writes its events to. Send must be
// called from one goroutine at a time. Close must tolerate repeated calls.
type Sink interface {
	Send(ctx context.Context, ev StreamEvent) error
	Close() error
}

// ChanSink delivers events over a Go channel.
type ChanSink struct {
	ch     chan StreamEvent
	mu     sync.RWMutex
	closed bool
}

// NewChanSink creates a channel-backed sink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{ch: make(chan StreamEvent, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChanSink) Events() <-chan StreamEvent { return s.ch }

// Send delivers ev or fails when the sink is closed or ctx is done.
func (s *ChanSink) Send(ctx context.Context, ev StreamEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- ev:
		return nil
	}
}

// Close closes the channel. Subsequent calls are no-ops.
func (s *ChanSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// SinkFunc adapts a function to the Sink interface; Close is a no-op.
type SinkFunc func(ctx context.Context, ev StreamEvent) error

func (f SinkFunc) Send(ctx context.Context, ev StreamEvent) error { return f(ctx, ev) }

func (f SinkFunc) Close() error { return nil }
