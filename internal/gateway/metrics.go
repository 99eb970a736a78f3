package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the forwarder collectors.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pai_forwarder_requests_total",
				Help: "Total number of forwarder calls by outcome",
			},
			[]string{"forwarder", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pai_forwarder_duration_seconds",
				Help:    "Duration of forwarder calls",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"forwarder"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration)
	}
	return m
}

func (m *Metrics) observe(forwarder, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(forwarder, outcome).Inc()
	m.duration.WithLabelValues(forwarder).Observe(d.Seconds())
}
