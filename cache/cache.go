package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/fetchgate/observability"
	"github.com/vyrodovalexey/fetchgate/store"
)

// Common cache errors.
var (
	// ErrUnknownKind indicates a kind absent from the TTL table. Writes
	// fail fast instead of silently retaining entries forever under an
	// implicit default TTL.
	ErrUnknownKind = errors.New("cache: unknown kind")

	// ErrInvalidConfig indicates that the cache configuration is invalid.
	ErrInvalidConfig = errors.New("cache: invalid configuration")
)

// Tier identifies the cache level that resolved a lookup.
type Tier string

// Tier values returned by Get.
const (
	TierL1   Tier = "L1"
	TierL2   Tier = "L2"
	TierMiss Tier = "miss"
)

// KindTTL holds the per-tier TTLs for one entity kind.
type KindTTL struct {
	// L1 is the in-process tier time-to-live.
	L1 time.Duration

	// L2 is the durable tier time-to-live.
	L2 time.Duration
}

// KindStats contains cache statistics for one kind.
type KindStats struct {
	// Hits is the number of lookups served from either tier.
	Hits int64

	// Misses is the number of lookups that fell through both tiers.
	Misses int64

	// EntryCount is the current number of L1 entries for the kind.
	EntryCount int64

	// ExpiredCount is the number of entries removed by expiry-on-read
	// or the periodic sweep.
	ExpiredCount int64
}

// HitRate returns the hit rate as a percentage.
func (s KindStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Options configures a TieredCache.
type Options struct {
	// Kinds is the static per-kind TTL table. At least one kind is required.
	Kinds map[string]KindTTL

	// MaxEntries bounds the L1 tier; 0 uses a default of 10000.
	MaxEntries int

	// SweepInterval enables a periodic sweep of expired L1 entries when
	// positive. Zero disables the sweep; lazy expiry-on-read is always on.
	SweepInterval time.Duration

	// Now overrides the time source; nil uses time.Now. Tests inject a
	// manual clock to make expiry deterministic.
	Now func() time.Time
}

// l1Entry represents an entry in the in-process tier.
type l1Entry struct {
	key      string
	kind     string
	value    []byte
	storedAt time.Time
	ttl      time.Duration
}

func (e *l1Entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) >= e.ttl
}

// kindCounters accumulates per-kind statistics. Guarded by TieredCache.mu.
type kindCounters struct {
	hits       int64
	misses     int64
	entryCount int64
	expired    int64
}

// defaultMaxEntries bounds the L1 tier when no limit is configured.
const defaultMaxEntries = 10000

// cacheTracerName is the OpenTelemetry tracer name for cache operations.
const cacheTracerName = "fetchgate/cache"

// TieredCache is a two-tier read-through cache. The zero value is not
// usable; construct with New.
type TieredCache struct {
	logger observability.Logger
	l2     store.Store
	kinds  map[string]KindTTL

	maxEntries int
	now        func() time.Time

	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List
	counters map[string]*kindCounters

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a TieredCache over the given durable store.
func New(opts Options, l2 store.Store, logger observability.Logger) (*TieredCache, error) {
	if len(opts.Kinds) == 0 {
		return nil, fmt.Errorf("%w: at least one kind is required", ErrInvalidConfig)
	}
	for kind, ttl := range opts.Kinds {
		if ttl.L1 <= 0 || ttl.L2 <= 0 {
			return nil, fmt.Errorf("%w: kind %q needs positive TTLs", ErrInvalidConfig, kind)
		}
	}
	if l2 == nil {
		return nil, fmt.Errorf("%w: durable store is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	kinds := make(map[string]KindTTL, len(opts.Kinds))
	counters := make(map[string]*kindCounters, len(opts.Kinds))
	for kind, ttl := range opts.Kinds {
		kinds[kind] = ttl
		counters[kind] = &kindCounters{}
	}

	c := &TieredCache{
		logger:     logger,
		l2:         l2,
		kinds:      kinds,
		maxEntries: maxEntries,
		now:        now,
		items:      make(map[string]*list.Element),
		eviction:   list.New(),
		counters:   counters,
		stopCh:     make(chan struct{}),
	}

	if opts.SweepInterval > 0 {
		go c.sweepLoop(opts.SweepInterval)
	}

	logger.Info("tiered cache initialized",
		observability.Int("kinds", len(kinds)),
		observability.Int("maxEntries", maxEntries),
		observability.Duration("sweepInterval", opts.SweepInterval))

	return c, nil
}

// l1Key namespaces L1 entries the same way the durable tier does.
func l1Key(kind, key string) string {
	return kind + ":" + key
}

// Get resolves a key through the tiers. The returned tier is TierL1, TierL2
// or TierMiss; an L2 hit is promoted into L1 before returning. A durable
// tier failure degrades to a miss rather than failing the lookup.
func (c *TieredCache) Get(ctx context.Context, key, kind string) ([]byte, Tier, error) {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Get",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.String("cache.kind", kind),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		Metrics().operationDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())
	}()

	ttl, ok := c.kinds[kind]
	if !ok {
		return nil, TierMiss, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if value, ok := c.getL1(key, kind); ok {
		Metrics().hitsTotal.WithLabelValues("L1", kind).Inc()
		span.SetAttributes(attribute.String("cache.tier", string(TierL1)))
		return value, TierL1, nil
	}

	value, err := c.l2.Get(ctx, kind, key)
	if err == nil {
		c.promote(key, kind, value, ttl.L1)
		c.addHit(kind)
		Metrics().hitsTotal.WithLabelValues("L2", kind).Inc()
		span.SetAttributes(attribute.String("cache.tier", string(TierL2)))
		c.logger.Debug("cache hit",
			observability.String("key", key),
			observability.String("kind", kind),
			observability.String("tier", string(TierL2)))
		return value, TierL2, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		// The durable tier is an optimization; treat failures as misses.
		c.logger.Warn("durable tier lookup failed, treating as miss",
			observability.String("key", key),
			observability.String("kind", kind),
			observability.Error(err))
	}

	c.addMiss(kind)
	Metrics().missesTotal.WithLabelValues(kind).Inc()
	span.SetAttributes(attribute.String("cache.tier", string(TierMiss)))
	return nil, TierMiss, nil
}

// getL1 checks the in-process tier, enforcing lazy expiry.
func (c *TieredCache) getL1(key, kind string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[l1Key(kind, key)]
	if !exists {
		return nil, false
	}

	entry := elem.Value.(*l1Entry)
	if entry.expired(c.now()) {
		c.removeElement(elem)
		c.counters[kind].expired++
		Metrics().evictionsTotal.WithLabelValues("expired").Inc()
		return nil, false
	}

	c.eviction.MoveToFront(elem)
	c.counters[kind].hits++
	return entry.value, true
}

// promote installs an L2 hit into L1 under the kind's L1 TTL.
func (c *TieredCache) promote(key, kind string, value []byte, l1TTL time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setL1Locked(key, kind, value, l1TTL)
}

// Set writes the value into both tiers using the kind's TTL table entry.
// A kind absent from the table fails fast with ErrUnknownKind. Durable
// tier failures are logged and do not fail the write.
func (c *TieredCache) Set(ctx context.Context, key, kind string, value []byte) error {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Set",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.String("cache.kind", kind),
			attribute.Int("cache.value_size", len(value)),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		Metrics().operationDuration.WithLabelValues("set").Observe(time.Since(start).Seconds())
	}()

	ttl, ok := c.kinds[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	c.mu.Lock()
	c.setL1Locked(key, kind, value, ttl.L1)
	size := c.eviction.Len()
	c.mu.Unlock()

	Metrics().sizeGauge.Set(float64(size))

	if err := c.l2.Set(ctx, kind, key, value, ttl.L2); err != nil {
		c.logger.Warn("durable tier write failed",
			observability.String("key", key),
			observability.String("kind", kind),
			observability.Error(err))
	}

	c.logger.Debug("cache set",
		observability.String("key", key),
		observability.String("kind", kind),
		observability.Int("size", size))

	return nil
}

// setL1Locked inserts or refreshes an L1 entry. Must be called with mu held.
func (c *TieredCache) setL1Locked(key, kind string, value []byte, ttl time.Duration) {
	entry := &l1Entry{
		key:      key,
		kind:     kind,
		value:    value,
		storedAt: c.now(),
		ttl:      ttl,
	}

	full := l1Key(kind, key)
	if elem, exists := c.items[full]; exists {
		c.eviction.MoveToFront(elem)
		elem.Value = entry
		return
	}

	elem := c.eviction.PushFront(entry)
	c.items[full] = elem
	c.counters[kind].entryCount++

	for c.eviction.Len() > c.maxEntries {
		c.evictOldest()
	}
}

// Invalidate removes the entry from both tiers. Repeated calls are a no-op.
func (c *TieredCache) Invalidate(ctx context.Context, key, kind string) error {
	if _, ok := c.kinds[kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	c.mu.Lock()
	if elem, exists := c.items[l1Key(kind, key)]; exists {
		c.removeElement(elem)
	}
	c.mu.Unlock()

	if err := c.l2.Delete(ctx, kind, key); err != nil {
		c.logger.Warn("durable tier delete failed",
			observability.String("key", key),
			observability.String("kind", kind),
			observability.Error(err))
	}

	return nil
}

// Stats returns a snapshot of per-kind statistics.
func (c *TieredCache) Stats() map[string]KindStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]KindStats, len(c.counters))
	for kind, ctr := range c.counters {
		out[kind] = KindStats{
			Hits:         ctr.hits,
			Misses:       ctr.misses,
			EntryCount:   ctr.entryCount,
			ExpiredCount: ctr.expired,
		}
	}
	return out
}

// Close stops the sweep loop and drops the L1 tier. The durable store is
// owned by the caller and is not closed here.
func (c *TieredCache) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.eviction.Init()
	for _, ctr := range c.counters {
		ctr.entryCount = 0
	}

	c.logger.Info("tiered cache closed")
	return nil
}

func (c *TieredCache) addHit(kind string) {
	c.mu.Lock()
	c.counters[kind].hits++
	c.mu.Unlock()
}

func (c *TieredCache) addMiss(kind string) {
	c.mu.Lock()
	c.counters[kind].misses++
	c.mu.Unlock()
}

// evictOldest removes the least recently used entry. Must be called with
// mu held.
func (c *TieredCache) evictOldest() {
	elem := c.eviction.Back()
	if elem != nil {
		c.removeElement(elem)
		Metrics().evictionsTotal.WithLabelValues("lru").Inc()
		c.logger.Debug("cache evicted oldest entry")
	}
}

// removeElement removes an element from the L1 tier. Must be called with
// mu held.
func (c *TieredCache) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	entry := elem.Value.(*l1Entry)
	delete(c.items, l1Key(entry.kind, entry.key))
	c.counters[entry.kind].entryCount--
}

// sweepLoop periodically removes expired L1 entries.
func (c *TieredCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

// sweep removes expired entries under a single write lock.
func (c *TieredCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var toRemove []*list.Element

	for elem := c.eviction.Back(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*l1Entry)
		if entry.expired(now) {
			toRemove = append(toRemove, elem)
		}
	}

	for _, elem := range toRemove {
		entry := elem.Value.(*l1Entry)
		c.removeElement(elem)
		c.counters[entry.kind].expired++
		Metrics().evictionsTotal.WithLabelValues("expired").Inc()
	}

	if len(toRemove) > 0 {
		c.logger.Debug("cache sweep completed",
			observability.Int("removed", len(toRemove)))
	}
}
