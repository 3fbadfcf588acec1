package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting harness metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Run and turn outcomes
//   - LLM request performance and token consumption
//   - Tool execution patterns and latencies
//   - Approval decisions
//   - HTTP API latency
type Metrics struct {
	// RunCounter tracks finished runs.
	// Labels: status (succeeded|failed|canceled)
	RunCounter *prometheus.CounterVec

	// TurnCounter tracks finished session turns.
	// Labels: status (succeeded|failed|canceled)
	TurnCounter *prometheus.CounterVec

	// ActiveTurns is a gauge of turns currently executing.
	ActiveTurns prometheus.Gauge

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|skipped)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// ApprovalCounter counts human approval decisions.
	// Labels: decision (approve|deny)
	ApprovalCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the
// default registry. Call once at startup; the values surface on the
// /metrics endpoint.
func NewMetrics() *Metrics {
	return &Metrics{
		RunCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harness_runs_total",
				Help: "Total number of finished runs by status",
			},
			[]string{"status"},
		),

		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harness_turns_total",
				Help: "Total number of finished session turns by status",
			},
			[]string{"status"},
		),

		ActiveTurns: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "harness_active_turns",
			Help: "Number of session turns currently executing",
		}),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harness_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harness_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harness_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harness_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harness_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ApprovalCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harness_approvals_total",
				Help: "Total number of human approval decisions",
			},
			[]string{"decision"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harness_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harness_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RunFinished increments the run counter for a terminal status.
func (m *Metrics) RunFinished(status string) {
	m.RunCounter.WithLabelValues(status).Inc()
}

// TurnStarted increments the active turn gauge.
func (m *Metrics) TurnStarted() {
	m.ActiveTurns.Inc()
}

// TurnFinished decrements the gauge and counts the terminal status.
func (m *Metrics) TurnFinished(status string) {
	m.ActiveTurns.Dec()
	m.TurnCounter.WithLabelValues(status).Inc()
}

// RecordLLMRequest records one LLM API request.
//
// Example:
//
//	start := time.Now()
//	// ... call the provider ...
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success", time.Since(start).Seconds(), 120, 640)
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records one tool invocation.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordApproval counts one human approval decision.
func (m *Metrics) RecordApproval(decision string) {
	m.ApprovalCounter.WithLabelValues(decision).Inc()
}

// RecordHTTPRequest records one HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
