package gate

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GateMetrics holds Prometheus metrics for gate operations.
type GateMetrics struct {
	dispatchedTotal prometheus.Counter
	rejectedTotal   *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	waitDuration    prometheus.Histogram
}

var (
	metricsInstance *GateMetrics
	metricsOnce     sync.Once
)

// Metrics returns the singleton gate metrics instance.
func Metrics() *GateMetrics {
	metricsOnce.Do(func() {
		metricsInstance = newGateMetrics()
	})
	return metricsInstance
}

// MustRegister registers all gate metric collectors with the given
// Prometheus registry for hosts that serve /metrics from a custom registry.
func (m *GateMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.dispatchedTotal,
		m.rejectedTotal,
		m.queueDepth,
		m.waitDuration,
	)
}

func newGateMetrics() *GateMetrics {
	return &GateMetrics{
		dispatchedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fetchgate",
				Subsystem: "gate",
				Name:      "dispatched_total",
				Help:      "Total number of dispatched requests",
			},
		),
		rejectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fetchgate",
				Subsystem: "gate",
				Name:      "rejected_total",
				Help:      "Total number of rejected requests",
			},
			[]string{"reason"},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fetchgate",
				Subsystem: "gate",
				Name:      "queue_depth",
				Help:      "Current number of queued requests",
			},
		),
		waitDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "fetchgate",
				Subsystem: "gate",
				Name:      "wait_duration_seconds",
				Help:      "Time between enqueue and dispatch",
				Buckets: []float64{
					.001, .005, .01, .05,
					.1, .25, .5, 1, 2.5, 5,
				},
			},
		),
	}
}
