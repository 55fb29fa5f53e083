package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ToolKind distinguishes locally executed tools from provider-native ones.
type ToolKind int

const (
	// ToolFunction is a custom tool executed locally from its JSON schema.
	ToolFunction ToolKind = iota
	// ToolMemory is the provider-declared memory tool, executed locally.
	ToolMemory
	// ToolWebSearch is executed by the provider.
	ToolWebSearch
	// ToolWebFetch is executed by the provider.
	ToolWebFetch
)

// ToolSpec declares one tool to the provider.
type ToolSpec struct {
	Kind         ToolKind
	Name         string
	Description  string
	InputSchema  map[string]any
	MaxUses      int64
	UserLocation *UserLocation
	AllowedHosts []string
}

// UserLocation localizes provider web search results.
type UserLocation struct {
	City     string `json:"city,omitempty"`
	Region   string `json:"region,omitempty"`
	Country  string `json:"country,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// IsZero reports whether no field is set.
func (u *UserLocation) IsZero() bool {
	return u == nil || (u.City == "" && u.Region == "" && u.Country == "" && u.Timezone == "")
}

// ContextManagement asks the provider to clear old tool uses once the prompt
// grows past a threshold.
type ContextManagement struct {
	TriggerInputTokens int64
	KeepToolUses       int64
	ClearAtLeastTokens int64
	ExcludeTools       []string
}

// Request captures one streaming model call.
type Request struct {
	Model             string // optional override of the adapter default
	System            string
	Messages          []Message
	Tools             []ToolSpec
	MaxTokens         int64
	Temperature       *float64
	ThinkingBudget    int64  // 0 disables extended thinking
	Effort            string // low | medium | high
	ContextManagement *ContextManagement
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model streams raw provider events for a request. The event channel is
// closed when the stream ends; at most one error is delivered on the error
// channel, which is closed afterwards.
type Model interface {
	Stream(ctx context.Context, req Request) (<-chan Event, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ErrNoScript is returned by MockModel when no scripted turn is left.
var ErrNoScript = errors.New("mock model: no scripted turn left")

type mockTurn struct {
	events []Event
	err    error
}

// MockModel replays scripted provider event streams, one per Stream call.
// It records every request it receives.
type MockModel struct {
	info Info

	mu       sync.Mutex
	turns    []mockTurn
	requests []Request
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{info: Info{Name: name, Provider: provider, SupportsTools: true}}
}

// AddTurn scripts the events returned by the next unscripted Stream call.
func (m *MockModel) AddTurn(events ...Event) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, mockTurn{events: events})
	return m
}

// AddFailingTurn scripts a stream that emits events and then fails with err.
func (m *MockModel) AddFailingTurn(err error, events ...Event) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, mockTurn{events: events, err: err})
	return m
}

// Requests returns the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Stream implements Model.
func (m *MockModel) Stream(ctx context.Context, req Request) (<-chan Event, <-chan error) {
	out := make(chan Event, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var turn mockTurn
	if len(m.turns) == 0 {
		turn = mockTurn{err: ErrNoScript}
	} else {
		turn = m.turns[0]
		m.turns = m.turns[1:]
	}
	m.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errCh)
		for _, ev := range turn.events {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- ev:
			}
		}
		if turn.err != nil {
			errCh <- fmt.Errorf("mock stream: %w", turn.err)
		}
	}()

	return out, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
