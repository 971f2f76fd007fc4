package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"positioner-tracker/internal/cache"
	"positioner-tracker/internal/domain"
)

func TestStatsCacheRoundTrip(t *testing.T) {
	kv := newFakeKVStore()
	c := cache.NewStatsCache(kv, time.Minute, zap.NewNop())
	ctx := context.Background()

	// 未写入时返回 cache miss
	_, err := c.Get(ctx)
	require.ErrorIs(t, err, cache.ErrCacheMiss)

	stats := domain.Stats{
		Total:       5,
		Available:   2,
		Active:      2,
		Expired:     1,
		RotationDue: 1,
	}
	require.NoError(t, c.Set(ctx, stats))

	got, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats, got)
}

func TestStatsCacheExpires(t *testing.T) {
	kv := newFakeKVStore()
	c := cache.NewStatsCache(kv, time.Millisecond, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, domain.Stats{Total: 1}))
	time.Sleep(5 * time.Millisecond)

	_, err := c.Get(ctx)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestStatsCacheUnparseableTreatedAsMiss(t *testing.T) {
	kv := newFakeKVStore()
	c := cache.NewStatsCache(kv, time.Minute, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "positioner:stats", "{not json", 0))

	_, err := c.Get(ctx)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}
