package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports lifecycle state to Prometheus. A nil *Metrics records
// nothing.
type Metrics struct {
	phase            *prometheus.GaugeVec
	pendingSteps     prometheus.Gauge
	listenerFailures *prometheus.CounterVec
}

// NewMetrics registers lifecycle metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		phase: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gitforge_lifecycle_phase",
				Help: "1 for the current lifecycle phase, 0 for the others",
			},
			[]string{"phase"},
		),
		pendingSteps: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "gitforge_lifecycle_pending_steps",
				Help: "Number of manual setup steps the node is waiting for",
			},
		),
		listenerFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gitforge_lifecycle_listener_failures_total",
				Help: "Total number of lifecycle listener hook failures by hook",
			},
			[]string{"hook"},
		),
	}
}

func (m *Metrics) recordPhase(p Phase) {
	if m == nil {
		return
	}
	for i := range phaseNames {
		v := 0.0
		if Phase(i) == p {
			v = 1
		}
		m.phase.WithLabelValues(phaseNames[i]).Set(v)
	}
}

func (m *Metrics) recordPending(n int) {
	if m == nil {
		return
	}
	m.pendingSteps.Set(float64(n))
}

func (m *Metrics) recordFailure(hook string) {
	if m == nil {
		return
	}
	m.listenerFailures.WithLabelValues(hook).Inc()
}
