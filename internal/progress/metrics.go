package progress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks progress-bus activity for the engine's Prometheus
// endpoint.
type Metrics struct {
	SubscribersActive prometheus.Gauge
	EventsTotal       *prometheus.CounterVec
	DroppedTotal      *prometheus.CounterVec
}

// NewMetrics registers the progress bus's gauges/counters under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SubscribersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "subscribers_active",
			Help:      "Current number of active progress bus subscribers across all jobs.",
		}),
		EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "events_total",
			Help:      "Total number of events published to the progress bus, by type.",
		}, []string{"type"}),
		DroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped because a subscriber's buffer overflowed.",
		}, []string{"type"}),
	}
}
