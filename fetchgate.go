// Package fetchgate provides rate-limited access to an external API behind a
// two-tier cache. A Client owns a request gate that spaces origin dispatches,
// an in-process L1 cache over an optional durable L2 store, a fetch
// coordinator for single-key and batch lookups, and a telemetry view over
// all of it.
package fetchgate

import (
	"context"
	"errors"

	"github.com/vyrodovalexey/fetchgate/cache"
	"github.com/vyrodovalexey/fetchgate/config"
	"github.com/vyrodovalexey/fetchgate/fetch"
	"github.com/vyrodovalexey/fetchgate/gate"
	"github.com/vyrodovalexey/fetchgate/observability"
	"github.com/vyrodovalexey/fetchgate/store"
	"github.com/vyrodovalexey/fetchgate/telemetry"
)

// ErrNilConfig indicates New was called without a configuration.
var ErrNilConfig = errors.New("fetchgate: nil config")

// Client is the top-level entry point. It assembles the gate, the tiered
// cache, the fetch coordinator and the telemetry view from one Config.
type Client struct {
	gate        *gate.Gate
	cache       *cache.TieredCache
	store       store.Store
	coordinator *fetch.Coordinator
	view        *telemetry.View
	logger      observability.Logger
}

// New builds a Client from cfg. When cfg.Cache.Redis is set the durable tier
// is backed by Redis, otherwise by an in-process store. A nil logger builds
// one from cfg.Log.
func New(cfg *config.Config, logger observability.Logger) (*Client, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		var err error
		logger, err = observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, err
		}
	}

	var l2 store.Store
	if cfg.Cache.Redis != nil {
		redisStore, err := store.NewRedisStore(cfg.Cache.Redis, logger)
		if err != nil {
			return nil, err
		}
		l2 = redisStore
	} else {
		l2 = store.NewMemoryStore()
	}

	kinds := make(map[string]cache.KindTTL, len(cfg.Cache.Kinds))
	for kind, ttl := range cfg.Cache.Kinds {
		kinds[kind] = cache.KindTTL{
			L1: ttl.L1TTL.Duration(),
			L2: ttl.L2TTL.Duration(),
		}
	}

	tiered, err := cache.New(cache.Options{
		Kinds:         kinds,
		MaxEntries:    cfg.Cache.L1MaxEntries,
		SweepInterval: cfg.Cache.SweepInterval.Duration(),
	}, l2, logger)
	if err != nil {
		_ = l2.Close()
		return nil, err
	}

	g, err := gate.New(gate.Config{
		Interval:       cfg.Gate.Interval.Duration(),
		MaxQueueLength: cfg.Gate.MaxQueueLength,
	}, logger)
	if err != nil {
		_ = tiered.Close()
		_ = l2.Close()
		return nil, err
	}

	queries := telemetry.NewQueryLog(cfg.Cache.QueryLogSize)

	coordinator, err := fetch.NewCoordinator(tiered, g, queries, logger)
	if err != nil {
		_ = g.Close()
		_ = tiered.Close()
		_ = l2.Close()
		return nil, err
	}

	warnThreshold := cfg.Gate.WarnThreshold
	if warnThreshold <= 0 {
		warnThreshold = config.DefaultWarnThreshold
	}

	return &Client{
		gate:        g,
		cache:       tiered,
		store:       l2,
		coordinator: coordinator,
		view:        telemetry.NewView(g, tiered, queries, warnThreshold),
		logger:      logger,
	}, nil
}

// FetchOne resolves a single key through the cache and, on a miss, one
// gated origin call.
func (cl *Client) FetchOne(ctx context.Context, key, kind string, origin fetch.OriginFunc) ([]byte, error) {
	return cl.coordinator.FetchOne(ctx, key, kind, origin)
}

// FetchBatch resolves keys in input order, batching uncached keys into
// gated origin calls of at most maxBatchSize keys each.
func (cl *Client) FetchBatch(
	ctx context.Context, keys []string, kind string, origin fetch.BatchOriginFunc, maxBatchSize int,
) ([]fetch.BatchResult, error) {
	return cl.coordinator.FetchBatch(ctx, keys, kind, origin, maxBatchSize)
}

// Invalidate removes key from both cache tiers.
func (cl *Client) Invalidate(ctx context.Context, key, kind string) error {
	return cl.coordinator.Invalidate(ctx, key, kind)
}

// View returns the telemetry view over the cache, the gate and the
// recent-query log.
func (cl *Client) View() *telemetry.View {
	return cl.view
}

// Gate exposes the underlying request gate for queue management.
func (cl *Client) Gate() *gate.Gate {
	return cl.gate
}

// Cache exposes the underlying tiered cache.
func (cl *Client) Cache() *cache.TieredCache {
	return cl.cache
}

// Close shuts the client down: the gate stops accepting work first, then
// the cache stops its sweeper, then the durable store closes.
func (cl *Client) Close() error {
	gateErr := cl.gate.Close()
	cacheErr := cl.cache.Close()
	storeErr := cl.store.Close()
	_ = cl.logger.Sync()
	return errors.Join(gateErr, cacheErr, storeErr)
}
