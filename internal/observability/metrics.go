package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the runtime: agent run
// lifecycle, stream event flow, tool execution, model requests, and the HTTP
// surface. Construct it once at startup with NewMetrics; collectors register
// against the default registry and are served by the gateway's /metrics
// endpoint.
//
// A nil *Metrics is a valid no-op recorder, so components never guard their
// instrumentation calls.
type Metrics struct {
	// RunsStarted counts agent runs accepted by the controller.
	RunsStarted prometheus.Counter

	// RunsFinished counts terminal transitions.
	// Labels: status (completed|failed|stopped)
	RunsFinished *prometheus.CounterVec

	// ActiveRuns tracks supervisors currently hosted by this instance.
	ActiveRuns prometheus.Gauge

	// RunDuration measures run lifetime in seconds.
	// Labels: status
	// Buckets: 1s through 30m
	RunDuration *prometheus.HistogramVec

	// StreamEvents counts events appended to run logs.
	// Labels: type (content|tool_status|tool_result|finish|error|status)
	StreamEvents *prometheus.CounterVec

	// ToolExecutions counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// LLMRequestDuration measures one completion request from dispatch to
	// the end of its stream, in seconds.
	// Labels: provider, status (success|error)
	LLMRequestDuration *prometheus.HistogramVec

	// HTTPRequestDuration measures HTTP request latency in seconds.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates and registers every collector. Call it once at process
// start; promauto panics on duplicate registration.
func NewMetrics() *Metrics {
	return &Metrics{
		RunsStarted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "strand_agent_runs_started_total",
				Help: "Total number of agent runs started",
			},
		),

		RunsFinished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_agent_runs_finished_total",
				Help: "Total number of agent runs reaching a terminal status",
			},
			[]string{"status"},
		),

		ActiveRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "strand_active_agent_runs",
				Help: "Number of agent runs currently supervised by this instance",
			},
		),

		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_agent_run_duration_seconds",
				Help:    "Agent run duration from start to terminal status in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"status"},
		),

		StreamEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_stream_events_total",
				Help: "Total number of events appended to run event logs by type",
			},
			[]string{"type"},
		),

		ToolExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_tool_executions_total",
				Help: "Total number of tool invocations by tool and outcome",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_tool_execution_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_llm_request_duration_seconds",
				Help:    "Completion request duration through the end of the stream in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RunStarted records a new supervised run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsStarted.Inc()
	m.ActiveRuns.Inc()
}

// RunFinished records a terminal transition and releases the active slot. It
// must pair with exactly one RunStarted call.
func (m *Metrics) RunFinished(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RunsFinished.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status).Observe(durationSeconds)
	m.ActiveRuns.Dec()
}

// StreamEvent records one event appended to a run log.
func (m *Metrics) StreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.StreamEvents.WithLabelValues(eventType).Inc()
}

// RecordToolExecution records one tool invocation.
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordLLMRequest records one completion request.
func (m *Metrics) RecordLLMRequest(provider, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.LLMRequestDuration.WithLabelValues(provider, status).Observe(durationSeconds)
}

// RecordHTTPRequest records one HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
}
