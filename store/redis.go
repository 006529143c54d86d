package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/fetchgate/config"
	"github.com/vyrodovalexey/fetchgate/observability"
	"github.com/vyrodovalexey/fetchgate/retry"
)

// redisRetryConfig returns the retry configuration for Redis operations.
func redisRetryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		JitterFactor:   retry.DefaultJitterFactor,
	}
}

// isRetryableRedisError checks if the error is retryable (network/connection errors).
func isRetryableRedisError(err error) bool {
	if err == nil {
		return false
	}
	// Don't retry on missing keys or context errors
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// applyTTLJitter adds random jitter to a TTL value to prevent synchronized
// expiry of entries written in one batch. The jitterFactor controls the
// maximum percentage of variation (0.0 to 1.0).
func applyTTLJitter(ttl time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 || ttl <= 0 {
		return ttl
	}
	if jitterFactor > 1.0 {
		jitterFactor = 1.0
	}
	//nolint:gosec // G404: TTL jitter does not require cryptographic randomness
	jitter := time.Duration(float64(ttl) * jitterFactor * (2*rand.Float64() - 1))
	result := ttl + jitter
	if result <= 0 {
		return ttl
	}
	return result
}

// RedisStore implements Store using Redis. It may be shared across process
// instances; concurrent writers follow last-write-wins.
type RedisStore struct {
	logger    observability.Logger
	client    *redis.Client
	keyPrefix string
	ttlJitter float64
}

// NewRedisStore creates a new Redis-backed store and verifies connectivity.
func NewRedisStore(cfg *config.RedisConfig, logger observability.Logger) (*RedisStore, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("redis URL is required")
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.ConnectTimeout > 0 {
		opts.DialTimeout = cfg.ConnectTimeout.Duration()
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout.Duration()
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout.Duration()
	}

	client := redis.NewClient(opts)

	if err := pingRedis(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	s := &RedisStore{
		logger:    logger,
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttlJitter: cfg.TTLJitter,
	}

	logger.Info("redis store initialized",
		observability.String("keyPrefix", s.keyPrefix),
		observability.Float64("ttlJitter", s.ttlJitter))

	return s, nil
}

// pingRedis tests the Redis connection with a timeout.
func pingRedis(client *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

// resolveKey applies the key prefix and namespace.
func (s *RedisStore) resolveKey(namespace, key string) string {
	return s.keyPrefix + namespace + ":" + key
}

// Get retrieves a value with exponential backoff retry.
func (s *RedisStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	fullKey := s.resolveKey(namespace, key)

	var result []byte

	err := retry.Do(ctx, redisRetryConfig(), func() error {
		val, getErr := s.client.Get(ctx, fullKey).Bytes()
		if getErr != nil {
			return getErr
		}
		result = val
		return nil
	}, &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			s.logger.Debug("retrying redis get",
				observability.String("key", fullKey),
				observability.Int("attempt", attempt))
		},
	})

	if err == nil {
		return result, nil
	}

	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}

	s.logger.Error("redis get failed",
		observability.String("key", fullKey),
		observability.Error(err))
	return nil, err
}

// Set stores a value with exponential backoff retry.
func (s *RedisStore) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	fullKey := s.resolveKey(namespace, key)
	ttl = applyTTLJitter(ttl, s.ttlJitter)

	err := retry.Do(ctx, redisRetryConfig(), func() error {
		return s.client.Set(ctx, fullKey, value, ttl).Err()
	}, &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			s.logger.Debug("retrying redis set",
				observability.String("key", fullKey),
				observability.Int("attempt", attempt))
		},
	})

	if err != nil {
		s.logger.Error("redis set failed",
			observability.String("key", fullKey),
			observability.Error(err))
		return err
	}

	s.logger.Debug("store set",
		observability.String("key", fullKey),
		observability.Duration("ttl", ttl),
		observability.Int("size", len(value)))
	return nil
}

// Delete removes a value with exponential backoff retry.
func (s *RedisStore) Delete(ctx context.Context, namespace, key string) error {
	fullKey := s.resolveKey(namespace, key)

	err := retry.Do(ctx, redisRetryConfig(), func() error {
		return s.client.Del(ctx, fullKey).Err()
	}, &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			s.logger.Debug("retrying redis delete",
				observability.String("key", fullKey),
				observability.Int("attempt", attempt))
		},
	})

	if err != nil {
		s.logger.Error("redis delete failed",
			observability.String("key", fullKey),
			observability.Error(err))
		return err
	}

	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	s.logger.Info("redis store closing")
	return s.client.Close()
}
