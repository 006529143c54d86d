package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetAndGet(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "card", "black-lotus", []byte("v1"), time.Minute))

	value, err := s.Get(ctx, "card", "black-lotus")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
}

func TestMemoryStore_Get_NotFound(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	_, err := s.Get(context.Background(), "card", "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_NamespaceIsolation(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "card", "id-1", []byte("card"), 0))
	require.NoError(t, s.Set(ctx, "price", "id-1", []byte("price"), 0))

	cardVal, err := s.Get(ctx, "card", "id-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("card"), cardVal)

	priceVal, err := s.Get(ctx, "price", "id-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("price"), priceVal)
}

func TestMemoryStore_Expiration(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "card", "short", []byte("v"), time.Millisecond))
	time.Sleep(10 * time.Millisecond)

	_, err := s.Get(ctx, "card", "short")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ZeroTTLNeverExpires(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "card", "forever", []byte("v"), 0))
	time.Sleep(5 * time.Millisecond)

	value, err := s.Get(ctx, "card", "forever")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "card", "k", []byte("v"), 0))
	require.NoError(t, s.Delete(ctx, "card", "k"))

	_, err := s.Get(ctx, "card", "k")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is a no-op.
	assert.NoError(t, s.Delete(ctx, "card", "k"))
}

func TestMemoryStore_ValueCopied(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()

	original := []byte("immutable")
	require.NoError(t, s.Set(ctx, "card", "k", original, 0))
	original[0] = 'X'

	value, err := s.Get(ctx, "card", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("immutable"), value)
}

func TestMemoryStore_CleanupLoop(t *testing.T) {
	s := NewMemoryStoreWithCleanupInterval(5 * time.Millisecond)
	defer s.Close()

	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "card", "short", []byte("v"), time.Millisecond))

	assert.Eventually(t, func() bool {
		_, ok := s.data.Load(namespacedKey("card", "short"))
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryStore_ContextCancelled(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "card", "k")
	assert.ErrorIs(t, err, context.Canceled)

	assert.ErrorIs(t, s.Set(ctx, "card", "k", []byte("v"), 0), context.Canceled)
	assert.ErrorIs(t, s.Delete(ctx, "card", "k"), context.Canceled)
}

func TestMemoryStore_CloseIdempotent(t *testing.T) {
	s := NewMemoryStore()

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
