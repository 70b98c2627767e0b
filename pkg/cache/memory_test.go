package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(start time.Time) (*MemoryStore, *time.Time) {
	now := start
	s := NewMemoryStore()
	s.now = func() time.Time { return now }
	return s, &now
}

func TestMemoryStoreSetGet(t *testing.T) {
	s, _ := newTestStore(time.Unix(1000, 0))
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
}

func TestMemoryStoreExpiry(t *testing.T) {
	s, now := newTestStore(time.Unix(1000, 0))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))

	*now = now.Add(59 * time.Second)
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	*now = now.Add(2 * time.Second)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreZeroTTLNeverExpires(t *testing.T) {
	s, now := newTestStore(time.Unix(1000, 0))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	*now = now.Add(1000 * time.Hour)

	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
}

func TestMemoryStoreSetNX(t *testing.T) {
	s, now := newTestStore(time.Unix(1000, 0))
	ctx := context.Background()

	claimed, err := s.SetNX(ctx, "k", "first", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Live key: second claim loses.
	claimed, err = s.SetNX(ctx, "k", "second", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "first", val)

	// Expired key: claimable again.
	*now = now.Add(2 * time.Minute)
	claimed, err = s.SetNX(ctx, "k", "third", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestMemoryStoreSweep(t *testing.T) {
	s, now := newTestStore(time.Unix(1000, 0))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", "v", time.Second))
	require.NoError(t, s.Set(ctx, "long", "v", time.Hour))
	require.NoError(t, s.Set(ctx, "forever", "v", 0))

	*now = now.Add(time.Minute)
	require.NoError(t, s.Sweep(ctx))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.NotContains(t, s.entries, "short")
	assert.Contains(t, s.entries, "long")
	assert.Contains(t, s.entries, "forever")
}
