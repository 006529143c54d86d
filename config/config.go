// Package config provides configuration types and loading for fetchgate.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration constants.
const (
	// DefaultInterval is the default minimum spacing between gate dispatches.
	DefaultInterval = 100 * time.Millisecond

	// DefaultWarnThreshold is the queue length above which the gate is
	// reported as unhealthy.
	DefaultWarnThreshold = 50

	// DefaultL1MaxEntries is the default capacity of the in-process tier.
	DefaultL1MaxEntries = 10000

	// DefaultQueryLogSize is the default capacity of the recent-query log.
	DefaultQueryLogSize = 256
)

// Config holds all configuration for a fetchgate instance.
type Config struct {
	// Log contains logging configuration.
	Log LogConfig `yaml:"log" json:"log"`

	// Gate contains request gate configuration.
	Gate GateConfig `yaml:"gate" json:"gate"`

	// Cache contains tiered cache configuration.
	Cache CacheConfig `yaml:"cache" json:"cache"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level" json:"level"`

	// Format is the log output format: json or console.
	Format string `yaml:"format" json:"format"`
}

// GateConfig represents request gate configuration.
type GateConfig struct {
	// Interval is the minimum spacing between consecutive dispatches.
	Interval Duration `yaml:"interval" json:"interval"`

	// MaxQueueLength bounds the queue; 0 means unbounded.
	MaxQueueLength int `yaml:"maxQueueLength,omitempty" json:"maxQueueLength,omitempty"`

	// WarnThreshold is the queue length above which the gate is reported
	// as unhealthy by the telemetry view.
	WarnThreshold int `yaml:"warnThreshold,omitempty" json:"warnThreshold,omitempty"`
}

// CacheConfig represents tiered cache configuration.
type CacheConfig struct {
	// L1MaxEntries is the maximum number of entries in the in-process tier.
	L1MaxEntries int `yaml:"l1MaxEntries,omitempty" json:"l1MaxEntries,omitempty"`

	// SweepInterval enables a periodic sweep of expired in-process entries
	// when positive. Expiry is always enforced lazily at read time; the
	// sweep only bounds memory.
	SweepInterval Duration `yaml:"sweepInterval,omitempty" json:"sweepInterval,omitempty"`

	// QueryLogSize is the capacity of the recent-query ring buffer.
	QueryLogSize int `yaml:"queryLogSize,omitempty" json:"queryLogSize,omitempty"`

	// Kinds maps entity kinds to their tier TTLs. Kinds absent from this
	// table are rejected at write time.
	Kinds map[string]KindTTLConfig `yaml:"kinds" json:"kinds"`

	// Redis contains durable-tier configuration. When nil the durable
	// tier runs on the in-process store.
	Redis *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// KindTTLConfig holds the per-tier TTLs for one entity kind.
type KindTTLConfig struct {
	// L1TTL is the in-process tier time-to-live.
	L1TTL Duration `yaml:"l1TTL" json:"l1TTL"`

	// L2TTL is the durable tier time-to-live.
	L2TTL Duration `yaml:"l2TTL" json:"l2TTL"`
}

// RedisConfig contains Redis-specific configuration for the durable tier.
type RedisConfig struct {
	// URL is the Redis connection URL.
	// Format: redis://[user:password@]host:port[/db]
	URL string `yaml:"url" json:"url"`

	// KeyPrefix is a prefix added to all stored keys.
	KeyPrefix string `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`

	// PoolSize is the maximum number of connections in the pool.
	PoolSize int `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`

	// ConnectTimeout is the timeout for establishing connections.
	ConnectTimeout Duration `yaml:"connectTimeout,omitempty" json:"connectTimeout,omitempty"`

	// ReadTimeout is the timeout for read operations.
	ReadTimeout Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`

	// WriteTimeout is the timeout for write operations.
	WriteTimeout Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`

	// TTLJitter is the maximum percentage of jitter added to stored TTLs
	// (0.0 to 1.0). Default is 0 (no jitter).
	TTLJitter float64 `yaml:"ttlJitter,omitempty" json:"ttlJitter,omitempty"`
}

// DefaultConfig returns a Config with default values and an empty kind table.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Gate: GateConfig{
			Interval:      Duration(DefaultInterval),
			WarnThreshold: DefaultWarnThreshold,
		},
		Cache: CacheConfig{
			L1MaxEntries: DefaultL1MaxEntries,
			QueryLogSize: DefaultQueryLogSize,
			Kinds:        map[string]KindTTLConfig{},
		},
	}
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-supplied
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Gate.Interval <= 0 {
		return errors.New("gate.interval must be positive")
	}
	if c.Gate.MaxQueueLength < 0 {
		return errors.New("gate.maxQueueLength must not be negative")
	}
	if c.Gate.WarnThreshold < 0 {
		return errors.New("gate.warnThreshold must not be negative")
	}

	if c.Cache.L1MaxEntries < 0 {
		return errors.New("cache.l1MaxEntries must not be negative")
	}
	if c.Cache.QueryLogSize < 0 {
		return errors.New("cache.queryLogSize must not be negative")
	}
	if len(c.Cache.Kinds) == 0 {
		return errors.New("cache.kinds must declare at least one kind")
	}
	for kind, ttl := range c.Cache.Kinds {
		if kind == "" {
			return errors.New("cache.kinds contains an empty kind name")
		}
		if ttl.L1TTL <= 0 {
			return fmt.Errorf("cache.kinds[%s].l1TTL must be positive", kind)
		}
		if ttl.L2TTL <= 0 {
			return fmt.Errorf("cache.kinds[%s].l2TTL must be positive", kind)
		}
	}

	if c.Cache.Redis != nil {
		if c.Cache.Redis.URL == "" {
			return errors.New("cache.redis.url is required when redis is configured")
		}
		if c.Cache.Redis.TTLJitter < 0 || c.Cache.Redis.TTLJitter > 1 {
			return errors.New("cache.redis.ttlJitter must be between 0.0 and 1.0")
		}
	}

	return nil
}
