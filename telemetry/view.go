package telemetry

import (
	"github.com/vyrodovalexey/fetchgate/cache"
	"github.com/vyrodovalexey/fetchgate/gate"
)

// CacheStats aggregates per-kind cache statistics.
type CacheStats struct {
	// Kinds holds per-kind statistics snapshots.
	Kinds map[string]cache.KindStats

	// HitRate is the aggregate hit rate across all kinds, as a percentage.
	HitRate float64
}

// GateStatus combines gate counters with a queue health indicator.
type GateStatus struct {
	gate.Stats

	// QueueHealthy is true while the queue length stays below the warn
	// threshold.
	QueueHealthy bool
}

// View is a read-only snapshot surface over a gate, a tiered cache and a
// query log.
type View struct {
	gate          *gate.Gate
	cache         *cache.TieredCache
	queries       *QueryLog
	warnThreshold int
}

// NewView creates a View. warnThreshold is the queue length at which
// GateStatus reports the queue as unhealthy.
func NewView(g *gate.Gate, c *cache.TieredCache, queries *QueryLog, warnThreshold int) *View {
	return &View{
		gate:          g,
		cache:         c,
		queries:       queries,
		warnThreshold: warnThreshold,
	}
}

// CacheStats returns per-kind cache statistics plus the aggregate hit rate.
func (v *View) CacheStats() CacheStats {
	kinds := v.cache.Stats()

	var hits, misses int64
	for _, s := range kinds {
		hits += s.Hits
		misses += s.Misses
	}

	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total) * 100
	}

	return CacheStats{
		Kinds:   kinds,
		HitRate: rate,
	}
}

// GateStatus returns gate counters plus queue health.
func (v *View) GateStatus() GateStatus {
	stats := v.gate.Stats()
	return GateStatus{
		Stats:        stats,
		QueueHealthy: stats.QueueLength < v.warnThreshold,
	}
}

// RecentQueries returns up to limit query-log entries, most recent first.
func (v *View) RecentQueries(limit int) []QueryLogEntry {
	return v.queries.Recent(limit)
}
