package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports queue occupancy and job totals. A nil *Metrics disables
// instrumentation, so tests can pass nil.
type Metrics struct {
	waiting prometheus.Gauge
	active  prometheus.Gauge
	jobs    *prometheus.CounterVec
}

// NewMetrics registers the queue collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		waiting: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetwatch",
			Subsystem: "queue",
			Name:      "waiting_jobs",
			Help:      "Jobs waiting to be picked up.",
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetwatch",
			Subsystem: "queue",
			Name:      "active_jobs",
			Help:      "Jobs currently in flight.",
		}),
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetwatch",
			Subsystem: "queue",
			Name:      "jobs_total",
			Help:      "Terminated jobs by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) setWaiting(n int64) {
	if m == nil {
		return
	}
	m.waiting.Set(float64(n))
}

func (m *Metrics) setActive(n int64) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}

func (m *Metrics) observe(o Outcome) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(string(o)).Inc()
}
