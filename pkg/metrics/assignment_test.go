package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignmentMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAssignmentMetrics(reg)

	m.IncAttempt(OutcomeAssigned)
	m.IncAttempt(OutcomeAssigned)
	m.IncAttempt(OutcomeCapacityExhausted)
	m.ObserveScore(42)
	m.ObserveSweep(5, 4, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts.WithLabelValues(OutcomeAssigned)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues(OutcomeCapacityExhausted)))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.backlogSize))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.sweepCases.WithLabelValues("assigned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepCases.WithLabelValues("failed")))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotNil(t, findMetricFamily(mfs, "casier_assignment_selected_score"))
}

func TestMetricsAreNilSafe(t *testing.T) {
	var assignment *AssignmentMetrics
	assignment.IncAttempt(OutcomeAssigned)
	assignment.ObserveScore(1)
	assignment.ObserveSweep(1, 1, 0)

	unregistered := NewAssignmentMetrics(nil)
	unregistered.IncAttempt(OutcomeError)

	var realtime *RealtimeMetrics
	realtime.SetConnections(3)
	realtime.IncDelivery("sent")

	var cron *CronJobMetrics
	cron.ObserveRun("job", 0, nil)
}

func TestRealtimeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRealtimeMetrics(reg)

	m.SetConnections(3)
	m.IncDelivery("sent")
	m.IncDelivery("")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.connections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("unknown")))
}
