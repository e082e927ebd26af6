// Package metrics exposes Prometheus counters and histograms for run
// lifecycle, planner step latency, tool-call latency, and SSE subscriber
// count, mounted at /metrics via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the engine registers at startup.
type Metrics struct {
	// RunsStarted counts runs handed to a planner loop.
	// Labels: agent_profile_id
	RunsStarted *prometheus.CounterVec

	// RunsCompleted counts terminal transitions recorded through RunCompleted.
	// Only the API's cancel and reject handlers record them; runs that
	// complete or fail inside the planner loop are not counted.
	// Labels: agent_profile_id, status (completed|failed|cancelled)
	RunsCompleted *prometheus.CounterVec

	// PlannerStepDuration measures wall time of one planner iteration,
	// including the LLM call. Fed only through ObservePlannerStep, which the
	// planner loop does not call.
	// Labels: agent_profile_id
	PlannerStepDuration *prometheus.HistogramVec

	// ToolCallDuration measures a single tool dispatch. It and ToolCallErrors
	// are fed only through ObserveToolCall, which the planner loop and the
	// approval gate do not call.
	// Labels: server_id, tool_name
	ToolCallDuration *prometheus.HistogramVec

	// ToolCallErrors counts tool dispatches that returned is_error.
	// Labels: server_id, tool_name
	ToolCallErrors *prometheus.CounterVec

	// SSESubscribers is the current count of open event-stream connections.
	SSESubscribers prometheus.Gauge

	// WebhookRunsStarted counts runs created by the alert webhook intake.
	WebhookRunsStarted prometheus.Counter

	// WebhookDuplicatesSuppressed counts alerts dropped by fingerprint dedup.
	WebhookDuplicatesSuppressed prometheus.Counter
}

// New creates and registers every collector against the default registry.
// Call once at process startup.
func New() *Metrics {
	return &Metrics{
		RunsStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_runs_started_total",
				Help: "Total number of runs handed to a planner loop, by agent profile.",
			},
			[]string{"agent_profile_id"},
		),

		RunsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_runs_completed_total",
				Help: "Total number of runs reaching a terminal status, by agent profile and status.",
			},
			[]string{"agent_profile_id", "status"},
		),

		PlannerStepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentrun_planner_step_duration_seconds",
				Help:    "Duration of one planner iteration, including the LLM call.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"agent_profile_id"},
		),

		ToolCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentrun_tool_call_duration_seconds",
				Help:    "Duration of a single tool dispatch, by server and tool name.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"server_id", "tool_name"},
		),

		ToolCallErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_tool_call_errors_total",
				Help: "Total number of tool dispatches that returned is_error, by server and tool name.",
			},
			[]string{"server_id", "tool_name"},
		),

		SSESubscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentrun_sse_subscribers",
				Help: "Current number of open run event-stream connections.",
			},
		),

		WebhookRunsStarted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentrun_webhook_runs_started_total",
				Help: "Total number of runs created from the alert webhook intake.",
			},
		),

		WebhookDuplicatesSuppressed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentrun_webhook_duplicates_suppressed_total",
				Help: "Total number of webhook alerts dropped as duplicates of a recent fingerprint.",
			},
		),
	}
}

// RunStarted records a run being handed to a planner loop.
func (m *Metrics) RunStarted(agentProfileID string) {
	m.RunsStarted.WithLabelValues(agentProfileID).Inc()
}

// RunCompleted records a run reaching a terminal status.
func (m *Metrics) RunCompleted(agentProfileID, status string) {
	m.RunsCompleted.WithLabelValues(agentProfileID, status).Inc()
}

// ObservePlannerStep records the wall time of one planner iteration.
func (m *Metrics) ObservePlannerStep(agentProfileID string, seconds float64) {
	m.PlannerStepDuration.WithLabelValues(agentProfileID).Observe(seconds)
}

// ObserveToolCall records a tool dispatch's duration and, if isError,
// increments the error counter for the same labels.
func (m *Metrics) ObserveToolCall(serverID, toolName string, seconds float64, isError bool) {
	m.ToolCallDuration.WithLabelValues(serverID, toolName).Observe(seconds)
	if isError {
		m.ToolCallErrors.WithLabelValues(serverID, toolName).Inc()
	}
}

// SubscriberConnected and SubscriberDisconnected track open SSE streams.
func (m *Metrics) SubscriberConnected()    { m.SSESubscribers.Inc() }
func (m *Metrics) SubscriberDisconnected() { m.SSESubscribers.Dec() }

// WebhookRunStarted records a run created from the webhook intake.
func (m *Metrics) WebhookRunStarted() { m.WebhookRunsStarted.Inc() }

// WebhookDuplicateSuppressed records an alert dropped by fingerprint dedup.
func (m *Metrics) WebhookDuplicateSuppressed() { m.WebhookDuplicatesSuppressed.Inc() }
