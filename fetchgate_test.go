package fetchgate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/fetchgate/config"
	"github.com/vyrodovalexey/fetchgate/gate"
	"github.com/vyrodovalexey/fetchgate/observability"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Gate.Interval = config.Duration(time.Millisecond)
	cfg.Cache.Kinds = map[string]config.KindTTLConfig{
		"card": {
			L1TTL: config.Duration(time.Minute),
			L2TTL: config.Duration(time.Hour),
		},
	}
	return cfg
}

func newTestClient(t *testing.T, cfg *config.Config) *Client {
	t.Helper()

	client, err := New(cfg, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, ErrNilConfig)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	// No kinds declared.
	_, err := New(cfg, observability.NopLogger())
	assert.Error(t, err)
}

func TestClient_FetchOneRoundTrip(t *testing.T) {
	client := newTestClient(t, testConfig())

	var calls atomic.Int64
	origin := func(ctx context.Context, key string) ([]byte, error) {
		calls.Add(1)
		return []byte("value-" + key), nil
	}

	value, err := client.FetchOne(context.Background(), "k1", "card", origin)
	require.NoError(t, err)
	assert.Equal(t, []byte("value-k1"), value)

	value, err = client.FetchOne(context.Background(), "k1", "card", origin)
	require.NoError(t, err)
	assert.Equal(t, []byte("value-k1"), value)
	assert.Equal(t, int64(1), calls.Load())
}

func TestClient_FetchBatch(t *testing.T) {
	client := newTestClient(t, testConfig())

	origin := func(ctx context.Context, keys []string) (map[string][]byte, error) {
		values := make(map[string][]byte, len(keys))
		for _, key := range keys {
			values[key] = []byte(key)
		}
		return values, nil
	}

	results, err := client.FetchBatch(context.Background(), []string{"a", "b", "c"}, "card", origin, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []byte("a"), results[0].Value)
	assert.Equal(t, []byte("b"), results[1].Value)
	assert.Equal(t, []byte("c"), results[2].Value)
}

func TestClient_InvalidateForcesRefetch(t *testing.T) {
	client := newTestClient(t, testConfig())

	var calls atomic.Int64
	origin := func(ctx context.Context, key string) ([]byte, error) {
		calls.Add(1)
		return []byte(key), nil
	}

	_, err := client.FetchOne(context.Background(), "k1", "card", origin)
	require.NoError(t, err)
	require.NoError(t, client.Invalidate(context.Background(), "k1", "card"))

	_, err = client.FetchOne(context.Background(), "k1", "card", origin)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestClient_ViewReportsActivity(t *testing.T) {
	client := newTestClient(t, testConfig())

	origin := func(ctx context.Context, key string) ([]byte, error) {
		return []byte(key), nil
	}

	_, err := client.FetchOne(context.Background(), "k1", "card", origin)
	require.NoError(t, err)
	_, err = client.FetchOne(context.Background(), "k1", "card", origin)
	require.NoError(t, err)

	stats := client.View().CacheStats()
	assert.Equal(t, int64(1), stats.Kinds["card"].Hits)
	assert.Equal(t, int64(1), stats.Kinds["card"].Misses)

	status := client.View().GateStatus()
	assert.True(t, status.QueueHealthy)
	assert.Equal(t, int64(1), status.TotalRequests)

	recent := client.View().RecentQueries(10)
	assert.Len(t, recent, 2)
}

func TestClient_RedisBackedStore(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.Cache.Redis = &config.RedisConfig{
		URL:       "redis://" + mr.Addr(),
		KeyPrefix: "fg:",
	}

	client := newTestClient(t, cfg)

	origin := func(ctx context.Context, key string) ([]byte, error) {
		return []byte("durable"), nil
	}

	value, err := client.FetchOne(context.Background(), "k1", "card", origin)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), value)

	// The value reached the durable tier under the configured prefix.
	assert.True(t, mr.Exists("fg:card:k1"))
}

func TestClient_Close(t *testing.T) {
	client, err := New(testConfig(), observability.NopLogger())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = client.FetchOne(context.Background(), "k1", "card", func(ctx context.Context, key string) ([]byte, error) {
		return []byte("v"), nil
	})
	assert.ErrorIs(t, err, gate.ErrClosed)
}
