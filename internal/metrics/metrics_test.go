package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// New registers every collector against the default registry, so it must be
// called exactly once per test binary. All assertions live in this single
// test function rather than being split across New() calls.
func TestMetricsAccessors(t *testing.T) {
	m := New()

	m.RunStarted("ops-responder")
	m.RunStarted("ops-responder")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RunsStarted.WithLabelValues("ops-responder")))

	m.RunCompleted("ops-responder", "completed")
	m.RunCompleted("ops-responder", "failed")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsCompleted.WithLabelValues("ops-responder", "completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsCompleted.WithLabelValues("ops-responder", "failed")))

	m.ObservePlannerStep("ops-responder", 1.5)
	assert.Equal(t, 1, testutil.CollectAndCount(m.PlannerStepDuration, "agentrun_planner_step_duration_seconds"))

	m.ObserveToolCall("net", "ping", 0.2, false)
	m.ObserveToolCall("net", "ping", 0.3, true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ToolCallErrors.WithLabelValues("net", "ping")))

	m.SubscriberConnected()
	m.SubscriberConnected()
	m.SubscriberDisconnected()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SSESubscribers))

	m.WebhookRunStarted()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WebhookRunsStarted))

	m.WebhookDuplicateSuppressed()
	m.WebhookDuplicateSuppressed()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.WebhookDuplicatesSuppressed))
}
