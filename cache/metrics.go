package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheMetrics holds Prometheus metrics for cache operations.
type CacheMetrics struct {
	hitsTotal         *prometheus.CounterVec
	missesTotal       *prometheus.CounterVec
	evictionsTotal    *prometheus.CounterVec
	sizeGauge         prometheus.Gauge
	operationDuration *prometheus.HistogramVec
}

var (
	metricsInstance *CacheMetrics
	metricsOnce     sync.Once
)

// Metrics returns the singleton cache metrics instance.
func Metrics() *CacheMetrics {
	metricsOnce.Do(func() {
		metricsInstance = newCacheMetrics()
	})
	return metricsInstance
}

// MustRegister registers all cache metric collectors with the given
// Prometheus registry. promauto registers metrics with the default global
// registry; hosts serving /metrics from a custom registry call this to
// bridge the two.
func (m *CacheMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.hitsTotal,
		m.missesTotal,
		m.evictionsTotal,
		m.sizeGauge,
		m.operationDuration,
	)
}

func newCacheMetrics() *CacheMetrics {
	return &CacheMetrics{
		hitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fetchgate",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"tier", "kind"},
		),
		missesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fetchgate",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"kind"},
		),
		evictionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fetchgate",
				Subsystem: "cache",
				Name:      "evictions_total",
				Help:      "Total number of L1 evictions",
			},
			[]string{"reason"},
		),
		sizeGauge: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fetchgate",
				Subsystem: "cache",
				Name:      "l1_size",
				Help:      "Current number of entries in the L1 tier",
			},
		),
		operationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fetchgate",
				Subsystem: "cache",
				Name:      "operation_duration_seconds",
				Help:      "Duration of cache operations",
				Buckets: []float64{
					.0001, .0005, .001, .005,
					.01, .025, .05, .1,
				},
			},
			[]string{"operation"},
		),
	}
}
