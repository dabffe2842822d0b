package metrics

import "github.com/prometheus/client_golang/prometheus"

// RealtimeMetrics tracks push connections and deliveries.
type RealtimeMetrics struct {
	connections prometheus.Gauge
	deliveries  *prometheus.CounterVec
}

// NewRealtimeMetrics registers the realtime metrics on the provided registerer.
func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	if reg == nil {
		return &RealtimeMetrics{}
	}
	connections := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "connections",
		Help:      "Open realtime channels.",
	})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "deliveries_total",
		Help:      "Per-channel message deliveries by result.",
	}, []string{"result"})
	reg.MustRegister(connections, deliveries)
	return &RealtimeMetrics{connections: connections, deliveries: deliveries}
}

// SetConnections publishes the current number of open channels.
func (m *RealtimeMetrics) SetConnections(n int) {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Set(float64(n))
}

// IncDelivery counts one delivery attempt: "sent", "skipped" or "failed".
func (m *RealtimeMetrics) IncDelivery(result string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(result)).Inc()
}
