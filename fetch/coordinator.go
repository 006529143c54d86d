// Package fetch composes the tiered cache, the request gate and an injected
// origin-fetch function into single-key and batch fetch operations. It is
// the sole entry point collaborators use; callers never manage throttling
// themselves.
package fetch

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/vyrodovalexey/fetchgate/cache"
	"github.com/vyrodovalexey/fetchgate/gate"
	"github.com/vyrodovalexey/fetchgate/observability"
	"github.com/vyrodovalexey/fetchgate/telemetry"
)

// Common fetch errors.
var (
	// ErrInvalidBatchSize indicates a non-positive max batch size.
	ErrInvalidBatchSize = errors.New("fetch: max batch size must be positive")

	// ErrInvalidConfig indicates missing coordinator dependencies.
	ErrInvalidConfig = errors.New("fetch: invalid configuration")
)

// OriginFunc fetches a single key from the external origin. Errors it
// returns propagate to the caller unchanged and are never cached.
type OriginFunc func(ctx context.Context, key string) ([]byte, error)

// BatchOriginFunc fetches a chunk of keys in one origin call. Keys absent
// from the returned map are treated as missing, not as errors.
type BatchOriginFunc func(ctx context.Context, keys []string) (map[string][]byte, error)

// BatchResult is the per-key outcome of FetchBatch. A missing key has a nil
// Value and a nil Err; a key whose chunk failed carries the chunk's error.
type BatchResult struct {
	Value []byte
	Err   error
}

// Coordinator composes the cache, the gate and origin fetchers.
type Coordinator struct {
	cache   *cache.TieredCache
	gate    *gate.Gate
	queries *telemetry.QueryLog
	logger  observability.Logger
}

// NewCoordinator creates a Coordinator. The query log may be nil, in which
// case a default-capacity log is created.
func NewCoordinator(
	c *cache.TieredCache, g *gate.Gate, queries *telemetry.QueryLog, logger observability.Logger,
) (*Coordinator, error) {
	if c == nil || g == nil {
		return nil, ErrInvalidConfig
	}
	if queries == nil {
		queries = telemetry.NewQueryLog(0)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Coordinator{
		cache:   c,
		gate:    g,
		queries: queries,
		logger:  logger,
	}, nil
}

// QueryLog returns the query log populated by fetch calls.
func (co *Coordinator) QueryLog() *telemetry.QueryLog {
	return co.queries
}

// Invalidate removes the entry for key from both cache tiers.
func (co *Coordinator) Invalidate(ctx context.Context, key, kind string) error {
	return co.cache.Invalidate(ctx, key, kind)
}

// FetchOne resolves a single key. A cache hit returns immediately and never
// touches the gate. A miss issues one gated origin call; the result is
// written into the cache before returning, bound to the gate's lifetime so
// it is cached even if the caller stopped waiting. Origin errors propagate
// unchanged and are never cached.
func (co *Coordinator) FetchOne(ctx context.Context, key, kind string, origin OriginFunc) ([]byte, error) {
	start := time.Now()

	value, tier, err := co.cache.Get(ctx, key, kind)
	if err != nil {
		return nil, err
	}
	if tier != cache.TierMiss {
		co.record(kind, tier, start)
		return value, nil
	}

	var result []byte
	err = co.gate.Do(ctx, func(taskCtx context.Context) error {
		fetched, originErr := origin(taskCtx, key)
		if originErr != nil {
			return originErr
		}
		result = fetched
		if setErr := co.cache.Set(taskCtx, key, kind, fetched); setErr != nil {
			co.logger.Warn("cache write-back failed",
				observability.String("key", key),
				observability.String("kind", kind),
				observability.Error(setErr))
		}
		return nil
	})

	co.record(kind, cache.TierMiss, start)

	if err != nil {
		return nil, err
	}
	return result, nil
}

// FetchBatch resolves keys in their given order and cardinality. Cached
// keys are served directly; the remaining keys are deduplicated, chunked
// into groups of at most maxBatchSize, and fetched with exactly one gated
// dispatch per chunk. A failed chunk fails only its own keys; keys the
// origin reports missing yield a nil-value result.
func (co *Coordinator) FetchBatch(
	ctx context.Context, keys []string, kind string, origin BatchOriginFunc, maxBatchSize int,
) ([]BatchResult, error) {
	if maxBatchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}

	start := time.Now()

	resolved := make(map[string]BatchResult, len(keys))
	var uncached []string

	for _, key := range keys {
		if _, seen := resolved[key]; seen {
			continue
		}
		if slices.Contains(uncached, key) {
			continue
		}

		value, tier, err := co.cache.Get(ctx, key, kind)
		if err != nil {
			return nil, err
		}
		if tier != cache.TierMiss {
			resolved[key] = BatchResult{Value: value}
			co.record(kind, tier, start)
			continue
		}
		uncached = append(uncached, key)
	}

	for chunk := range slices.Chunk(uncached, maxBatchSize) {
		var fetched map[string][]byte

		err := co.gate.Do(ctx, func(taskCtx context.Context) error {
			values, originErr := origin(taskCtx, chunk)
			if originErr != nil {
				return originErr
			}
			for key, value := range values {
				if setErr := co.cache.Set(taskCtx, key, kind, value); setErr != nil {
					co.logger.Warn("cache write-back failed",
						observability.String("key", key),
						observability.String("kind", kind),
						observability.Error(setErr))
				}
			}
			fetched = values
			return nil
		})

		if err != nil {
			// Chunk isolation: only this chunk's keys fail.
			for _, key := range chunk {
				resolved[key] = BatchResult{Err: err}
				co.record(kind, cache.TierMiss, start)
			}
			continue
		}

		for _, key := range chunk {
			resolved[key] = BatchResult{Value: fetched[key]}
			co.record(kind, cache.TierMiss, start)
		}
	}

	out := make([]BatchResult, len(keys))
	for i, key := range keys {
		out[i] = resolved[key]
	}
	return out, nil
}

// record appends a query-log entry for one resolved key.
func (co *Coordinator) record(kind string, tier cache.Tier, start time.Time) {
	co.queries.Record(telemetry.QueryLogEntry{
		Timestamp: time.Now(),
		Kind:      kind,
		CacheHit:  tier != cache.TierMiss,
		Tier:      string(tier),
		Latency:   time.Since(start),
	})
}
