package store

import (
	"context"
	"sync"
	"time"
)

// memoryEntry represents a stored value with expiration.
type memoryEntry struct {
	value      []byte
	expiration time.Time
}

// MemoryStore implements Store using in-memory storage. It backs the
// durable tier in tests and single-process deployments without Redis.
type MemoryStore struct {
	data    sync.Map
	cleanup *time.Ticker
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCleanupInterval(time.Minute)
}

// NewMemoryStoreWithCleanupInterval creates a new in-memory store with a
// custom expired-entry cleanup interval.
func NewMemoryStoreWithCleanupInterval(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		cleanup: time.NewTicker(interval),
		done:    make(chan struct{}),
	}

	go s.startCleanup()

	return s
}

func namespacedKey(namespace, key string) string {
	return namespace + ":" + key
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	full := namespacedKey(namespace, key)

	value, ok := s.data.Load(full)
	if !ok {
		return nil, ErrNotFound
	}

	e := value.(*memoryEntry)

	if !e.expiration.IsZero() && time.Now().After(e.expiration) {
		s.data.Delete(full)
		return nil, ErrNotFound
	}

	return e.value, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}

	// Copy so callers cannot mutate stored bytes afterwards.
	stored := make([]byte, len(value))
	copy(stored, value)

	s.data.Store(namespacedKey(namespace, key), &memoryEntry{
		value:      stored,
		expiration: exp,
	})

	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, namespace, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.data.Delete(namespacedKey(namespace, key))
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.cleanup.Stop()
	close(s.done)

	return nil
}

// startCleanup periodically removes expired entries.
func (s *MemoryStore) startCleanup() {
	for {
		select {
		case <-s.cleanup.C:
			s.removeExpired()
		case <-s.done:
			return
		}
	}
}

// removeExpired walks the map and deletes entries past their expiration.
func (s *MemoryStore) removeExpired() {
	now := time.Now()
	s.data.Range(func(key, value any) bool {
		e := value.(*memoryEntry)
		if !e.expiration.IsZero() && now.After(e.expiration) {
			s.data.Delete(key)
		}
		return true
	})
}
