package metrics

import "github.com/prometheus/client_golang/prometheus"

// Assignment outcomes.
const (
	OutcomeAssigned          = "assigned"
	OutcomeAlreadyAssigned   = "already_assigned"
	OutcomeNotFound          = "not_found"
	OutcomeCapacityExhausted = "capacity_exhausted"
	OutcomeError             = "error"
)

// AssignmentMetrics records routing decisions and backlog sweeps.
type AssignmentMetrics struct {
	attempts    *prometheus.CounterVec
	scores      prometheus.Histogram
	sweepCases  *prometheus.CounterVec
	backlogSize prometheus.Gauge
}

// NewAssignmentMetrics registers the assignment metrics on the provided registerer.
func NewAssignmentMetrics(reg prometheus.Registerer) *AssignmentMetrics {
	if reg == nil {
		return &AssignmentMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "assignment",
		Name:      "attempts_total",
		Help:      "Case assignment attempts by outcome.",
	}, []string{"outcome"})
	scores := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "assignment",
		Name:      "selected_score",
		Help:      "Score of the agent chosen for each assignment.",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
	})
	sweepCases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "assignment",
		Name:      "sweep_cases_total",
		Help:      "Backlog cases processed by sweeps, by result.",
	}, []string{"result"})
	backlog := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "assignment",
		Name:      "backlog_size",
		Help:      "Unassigned cases seen at the start of the last sweep.",
	})
	reg.MustRegister(attempts, scores, sweepCases, backlog)
	return &AssignmentMetrics{
		attempts:    attempts,
		scores:      scores,
		sweepCases:  sweepCases,
		backlogSize: backlog,
	}
}

// IncAttempt counts one assignment attempt with its outcome.
func (m *AssignmentMetrics) IncAttempt(outcome string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveScore records the score of the selected agent.
func (m *AssignmentMetrics) ObserveScore(score float64) {
	if m == nil || m.scores == nil {
		return
	}
	m.scores.Observe(score)
}

// ObserveSweep records the outcome counts of one sweep.
func (m *AssignmentMetrics) ObserveSweep(backlog, assigned, failed int) {
	if m == nil || m.sweepCases == nil {
		return
	}
	m.backlogSize.Set(float64(backlog))
	m.sweepCases.WithLabelValues("assigned").Add(float64(assigned))
	m.sweepCases.WithLabelValues("failed").Add(float64(failed))
}
