package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType is the closed taxonomy of run-terminating failures.
type ErrorType string

const (
	ErrorInvalidRequest  ErrorType = "invalid_request"
	ErrorAuthentication  ErrorType = "authentication"
	ErrorPermission      ErrorType = "permission"
	ErrorNotFound        ErrorType = "not_found"
	ErrorRequestTooLarge ErrorType = "request_too_large"
	ErrorRateLimited     ErrorType = "rate_limited"
	ErrorServer          ErrorType = "server_error"
	ErrorOverloaded      ErrorType = "overloaded"
	ErrorUnknown         ErrorType = "unknown"
)

// AgentError is the structured failure delivered as the last event of a run.
// Values are created once by the classifier and never mutated.
type AgentError struct {
	Type       ErrorType
	Status     int
	Message    string
	Retryable  bool
	RetryAfter time.Duration
	RequestID  string
	Cause      error
}

func (e *AgentError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Type, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AgentError) Unwrap() error { return e.Cause }

// RetryAfterMs returns the retry hint in milliseconds (0 if none).
func (e *AgentError) RetryAfterMs() int64 { return e.RetryAfter.Milliseconds() }

var (
	// ErrNotFound is returned by stores for missing records.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned for illegal tool invocation state changes.
	ErrInvalidTransition = errors.New("invalid tool invocation transition")
	// ErrSinkClosed is returned when sending on a closed sink.
	ErrSinkClosed = errors.New("sink closed")
	// ErrAlreadyExists is returned when a write would replace an existing record.
	ErrAlreadyExists = errors.New("already exists")
)
