// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for runs, model calls, tool executions and the HTTP surface.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the engine's Prometheus metrics. A nil *Metrics is valid
// and records nothing.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RunStarted()
//	defer metrics.RunFinished("done", time.Since(start).Seconds())
type Metrics struct {
	// RunCounter counts finished runs.
	// Labels: outcome (done|error|cancelled)
	RunCounter *prometheus.CounterVec

	// RunDuration measures run lifetime in seconds.
	// Labels: outcome
	RunDuration *prometheus.HistogramVec

	// ActiveRuns tracks runs currently streaming.
	ActiveRuns prometheus.Gauge

	// LLMRequestCounter counts model stream calls.
	// Labels: provider, model, stop_reason
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures model stream latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output|cache_read|cache_write)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts local tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks classified run failures.
	// Labels: component, error_type
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// DatabaseQueryDuration measures store query latency.
	// Labels: operation, table
	DatabaseQueryDuration *prometheus.HistogramVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		RunCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentstream_runs_total",
				Help: "Total number of finished runs by outcome",
			},
			[]string{"outcome"},
		),

		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentstream_run_duration_seconds",
				Help:    "Duration of runs in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),

		ActiveRuns: f.NewGauge(prometheus.GaugeOpts{
			Name: "agentstream_active_runs",
			Help: "Number of runs currently streaming",
		}),

		LLMRequestCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentstream_llm_requests_total",
				Help: "Total number of model stream calls by provider, model and stop reason",
			},
			[]string{"provider", "model", "stop_reason"},
		),

		LLMRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentstream_llm_request_duration_seconds",
				Help:    "Duration of model stream calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMTokensUsed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentstream_llm_tokens_total",
				Help: "Total number of tokens used by provider, model and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentstream_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentstream_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentstream_errors_total",
				Help: "Total number of classified errors by component and type",
			},
			[]string{"component", "error_type"},
		),

		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentstream_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"method", "path", "status_code"},
		),

		DatabaseQueryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentstream_db_query_duration_seconds",
				Help:    "Duration of store queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation", "table"},
		),
	}
}

// RunStarted increments the active runs gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished records a finished run and decrements the active runs gauge.
func (m *Metrics) RunFinished(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunCounter.WithLabelValues(outcome).Inc()
	m.RunDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// TokenUsage is the token accounting of one model call.
type TokenUsage struct {
	Input      int64
	Output     int64
	CacheRead  int64
	CacheWrite int64
}

// RecordLLMRequest records one model stream call.
func (m *Metrics) RecordLLMRequest(provider, model, stopReason string, durationSeconds float64, usage TokenUsage) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, stopReason).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)

	for typ, n := range map[string]int64{
		"input":       usage.Input,
		"output":      usage.Output,
		"cache_read":  usage.CacheRead,
		"cache_write": usage.CacheWrite,
	} {
		if n > 0 {
			m.LLMTokensUsed.WithLabelValues(provider, model, typ).Add(float64(n))
		}
	}
}

// RecordToolExecution records one tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordHTTPRequest records one HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordDatabaseQuery records one store query.
func (m *Metrics) RecordDatabaseQuery(operation, table string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}
