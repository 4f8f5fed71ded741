package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAllowsUpToLimit(t *testing.T) {
	m := NewMemoryWithConfig(MemoryConfig{Limit: 3, Window: time.Hour})
	defer m.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := m.Allow(ctx, "client")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should pass", i+1)
		assert.Equal(t, 3, d.Limit)
	}

	d, err := m.Allow(ctx, "client")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestMemoryRemainingCountsDown(t *testing.T) {
	m := NewMemoryWithConfig(MemoryConfig{Limit: 3, Window: time.Hour})
	defer m.Close()
	ctx := context.Background()

	d, err := m.Allow(ctx, "client")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Remaining)

	d, err = m.Allow(ctx, "client")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Remaining)
}

func TestMemoryIsolatesKeys(t *testing.T) {
	m := NewMemoryWithConfig(MemoryConfig{Limit: 1, Window: time.Hour})
	defer m.Close()
	ctx := context.Background()

	d, err := m.Allow(ctx, "first")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = m.Allow(ctx, "first")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = m.Allow(ctx, "second")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryRefills(t *testing.T) {
	m := NewMemoryWithConfig(MemoryConfig{Limit: 2, Window: 100 * time.Millisecond})
	defer m.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := m.Allow(ctx, "client")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := m.Allow(ctx, "client")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	time.Sleep(120 * time.Millisecond)

	d, err = m.Allow(ctx, "client")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryZeroConfigFallsBack(t *testing.T) {
	m := NewMemoryWithConfig(MemoryConfig{})
	defer m.Close()

	d, err := m.Allow(context.Background(), "client")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, DefaultMemoryConfig().Limit, d.Limit)
}

func TestMemoryCloseIsIdempotent(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}
