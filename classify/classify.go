// Package classify maps provider and transport failures onto the closed
// core.ErrorType taxonomy with fixed user-facing messages and retry hints.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/agentstream/core"
)

// Default retry hints used when the provider supplies none.
const (
	DefaultRateLimitedRetry = 60 * time.Second
	DefaultServerErrorRetry = 5 * time.Second
	DefaultOverloadedRetry  = 30 * time.Second
)

var messages = map[core.ErrorType]string{
	core.ErrorInvalidRequest:  "The request could not be processed. Try rephrasing your message.",
	core.ErrorAuthentication:  "Authentication with the model provider failed. Check the configured API key.",
	core.ErrorPermission:      "The API key is not allowed to perform this request.",
	core.ErrorNotFound:        "The requested model or resource was not found.",
	core.ErrorRequestTooLarge: "The conversation is too large. Remove attachments or start a new chat.",
	core.ErrorRateLimited:     "Too many requests. Please wait a moment and try again.",
	core.ErrorServer:          "The model provider had an internal error. Please try again.",
	core.ErrorOverloaded:      "The model provider is temporarily overloaded. Please try again shortly.",
	core.ErrorUnknown:         "An unexpected error occurred.",
}

// Message returns the fixed user-facing message of t.
func Message(t core.ErrorType) string {
	if m, ok := messages[t]; ok {
		return m
	}
	return messages[core.ErrorUnknown]
}

// Retryable reports whether failures of type t may succeed when retried.
func Retryable(t core.ErrorType) bool {
	switch t {
	case core.ErrorRateLimited, core.ErrorServer, core.ErrorOverloaded:
		return true
	default:
		return false
	}
}

func defaultRetry(t core.ErrorType) time.Duration {
	switch t {
	case core.ErrorRateLimited:
		return DefaultRateLimitedRetry
	case core.ErrorServer:
		return DefaultServerErrorRetry
	case core.ErrorOverloaded:
		return DefaultOverloadedRetry
	default:
		return 0
	}
}

// New builds an AgentError of type t with its fixed message and default
// retry policy.
func New(t core.ErrorType, status int, cause error) *core.AgentError {
	return &core.AgentError{
		Type:       t,
		Status:     status,
		Message:    Message(t),
		Retryable:  Retryable(t),
		RetryAfter: defaultRetry(t),
		Cause:      cause,
	}
}

// Classify converts err into an AgentError. An AgentError anywhere in the
// chain is returned as-is.
func Classify(err error) *core.AgentError {
	if err == nil {
		return nil
	}

	var agentErr *core.AgentError
	if errors.As(err, &agentErr) {
		return agentErr
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		out := fromHTTP(anthropicErr.StatusCode, anthropicErr.Response, anthropicErr.RawJSON(), err)
		if anthropicErr.RequestID != "" {
			out.RequestID = anthropicErr.RequestID
		}
		return out
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		out := fromHTTP(openaiErr.StatusCode, openaiErr.Response, openaiErr.RawJSON(), err)
		if t, ok := providerType(openaiErr.Type); ok && out.Type == core.ErrorUnknown {
			out = withType(out, t)
		}
		return out
	}

	if t, requestID, ok := fromPayload(err.Error()); ok {
		out := New(t, 0, err)
		out.RequestID = requestID
		return out
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(core.ErrorServer, 0, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return New(core.ErrorServer, 0, err)
	}

	return New(fromMessage(err.Error()), 0, err)
}

func withType(e *core.AgentError, t core.ErrorType) *core.AgentError {
	out := New(t, e.Status, e.Cause)
	out.RequestID = e.RequestID
	return out
}

func fromHTTP(status int, resp *http.Response, body string, cause error) *core.AgentError {
	t := fromStatus(status)
	if pt, ok := providerType(gjson.Get(body, "error.type").String()); ok {
		t = pt
	}

	out := New(t, status, cause)

	if resp != nil {
		if out.Retryable {
			if d, ok := RetryAfter(resp.Header, time.Now()); ok {
				out.RetryAfter = d
			}
		}
		if out.RequestID == "" {
			out.RequestID = firstNonEmpty(resp.Header.Get("request-id"), resp.Header.Get("x-request-id"))
		}
	}

	return out
}

func fromStatus(status int) core.ErrorType {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return core.ErrorInvalidRequest
	case status == http.StatusUnauthorized:
		return core.ErrorAuthentication
	case status == http.StatusForbidden:
		return core.ErrorPermission
	case status == http.StatusNotFound:
		return core.ErrorNotFound
	case status == http.StatusRequestEntityTooLarge:
		return core.ErrorRequestTooLarge
	case status == http.StatusTooManyRequests:
		return core.ErrorRateLimited
	case status == 529:
		return core.ErrorOverloaded
	case status >= 500:
		return core.ErrorServer
	default:
		return core.ErrorUnknown
	}
}

// providerType maps provider error type tags.
func providerType(tag string) (core.ErrorType, bool) {
	switch tag {
	case "invalid_request_error":
		return core.ErrorInvalidRequest, true
	case "authentication_error":
		return core.ErrorAuthentication, true
	case "permission_error", "billing_error":
		return core.ErrorPermission, true
	case "not_found_error":
		return core.ErrorNotFound, true
	case "request_too_large":
		return core.ErrorRequestTooLarge, true
	case "rate_limit_error", "rate_limit_exceeded", "insufficient_quota":
		return core.ErrorRateLimited, true
	case "api_error", "server_error", "timeout_error":
		return core.ErrorServer, true
	case "overloaded_error":
		return core.ErrorOverloaded, true
	default:
		return "", false
	}
}

// fromPayload sniffs an error payload delivered inside the event stream,
// e.g. `received error while streaming: {"type":"error","error":{...}}`.
func fromPayload(msg string) (core.ErrorType, string, bool) {
	i := strings.Index(msg, "{")
	if i < 0 {
		return "", "", false
	}
	payload := msg[i:]
	if !gjson.Valid(payload) {
		return "", "", false
	}
	t, ok := providerType(gjson.Get(payload, "error.type").String())
	if !ok {
		return "", "", false
	}
	return t, gjson.Get(payload, "request_id").String(), true
}

func fromMessage(msg string) core.ErrorType {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "rate limit") || strings.Contains(m, "too many requests"):
		return core.ErrorRateLimited
	case strings.Contains(m, "overloaded"):
		return core.ErrorOverloaded
	case strings.Contains(m, "api key") || strings.Contains(m, "unauthorized"):
		return core.ErrorAuthentication
	case strings.Contains(m, "connection reset") || strings.Contains(m, "connection refused") ||
		strings.Contains(m, "unexpected eof") || strings.Contains(m, "timeout"):
		return core.ErrorServer
	default:
		return core.ErrorUnknown
	}
}

// RetryAfter reads the provider's retry hint from retry-after-ms or
// retry-after (delay seconds or HTTP date).
func RetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	if v := h.Get("retry-after-ms"); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil && ms >= 0 {
			return time.Duration(ms * float64(time.Millisecond)), true
		}
	}

	v := strings.TrimSpace(h.Get("retry-after"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d.Round(time.Second), true
		}
		return 0, true
	}
	return 0, false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Describe renders e with its cause for development logs.
func Describe(e *core.AgentError) string {
	if e.Cause == nil {
		return e.Error()
	}
	return fmt.Sprintf("%s: %v", e.Error(), e.Cause)
}
