// Package metrics exposes Prometheus collectors for the hot-reload loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace is the metrics namespace for all collectors.
const Namespace = "lumen"

// Metrics aggregates the dev-loop collectors.
type Metrics struct {
	CompilesTotal    *prometheus.CounterVec
	CompileDuration  prometheus.Histogram
	ReloadBroadcasts prometheus.Counter
	ConnectedClients prometheus.Gauge
	WatchBatches     prometheus.Counter
	BusDroppedEvents prometheus.Counter
}

// New creates and registers the collectors. A nil registerer uses the
// default registry; tests pass their own to avoid double registration.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CompilesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "compiles_total",
			Help:      "Compile cycles by result.",
		}, []string{"result"}),

		CompileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "compile_duration_seconds",
			Help:      "Duration of compile cycles.",
			Buckets:   prometheus.DefBuckets,
		}),

		ReloadBroadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reload_broadcasts_total",
			Help:      "Reload messages broadcast to connected clients.",
		}),

		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "connected_clients",
			Help:      "Currently connected live instances.",
		}),

		WatchBatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "watch_batches_total",
			Help:      "Change batches flushed by the file watcher.",
		}),

		BusDroppedEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bus_dropped_events_total",
			Help:      "Events evicted from slow event bus subscribers.",
		}),
	}
}

// ObserveCompile records one compile cycle.
func (m *Metrics) ObserveCompile(success bool, seconds float64) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.CompilesTotal.WithLabelValues(result).Inc()
	m.CompileDuration.Observe(seconds)
}
