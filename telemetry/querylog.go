// Package telemetry provides read-only observability over the gate and the
// tiered cache. It exposes no mutation capability, so a View is safe to
// hand to external collaborators.
package telemetry

import (
	"sync"
	"time"
)

// DefaultQueryLogCapacity is used when no capacity is configured.
const DefaultQueryLogCapacity = 256

// QueryLogEntry describes one fetch call.
type QueryLogEntry struct {
	// Timestamp is when the fetch completed.
	Timestamp time.Time

	// Kind is the entity kind that was fetched.
	Kind string

	// CacheHit reports whether any cache tier served the value.
	CacheHit bool

	// Tier is the cache tier that resolved the lookup ("L1", "L2" or "miss").
	Tier string

	// Latency is the total fetch duration as seen by the caller.
	Latency time.Duration
}

// QueryLog is a fixed-capacity ring buffer of recent fetch calls. Once
// capacity is exceeded the oldest entries are silently dropped; the buffer
// never grows.
type QueryLog struct {
	mu      sync.Mutex
	entries []QueryLogEntry
	next    int
	filled  bool
}

// NewQueryLog creates a QueryLog with the given capacity. Non-positive
// capacities fall back to DefaultQueryLogCapacity.
func NewQueryLog(capacity int) *QueryLog {
	if capacity <= 0 {
		capacity = DefaultQueryLogCapacity
	}
	return &QueryLog{
		entries: make([]QueryLogEntry, capacity),
	}
}

// Record appends an entry, overwriting the oldest once full.
func (l *QueryLog) Record(entry QueryLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = entry
	l.next++
	if l.next == len(l.entries) {
		l.next = 0
		l.filled = true
	}
}

// Recent returns up to limit entries, most recent first.
func (l *QueryLog) Recent(limit int) []QueryLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.filled {
		size = len(l.entries)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]QueryLogEntry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := l.next - 1 - i
		if idx < 0 {
			idx += len(l.entries)
		}
		out = append(out, l.entries[idx])
	}
	return out
}

// Len returns the number of retained entries.
func (l *QueryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.filled {
		return len(l.entries)
	}
	return l.next
}
