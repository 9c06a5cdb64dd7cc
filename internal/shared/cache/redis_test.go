package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return New(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestSetNX(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "reminder", "1:2026-10-16", "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "reminder", "1:2026-10-16", "1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Hour)

	ok, err = c.SetNX(ctx, "reminder", "1:2026-10-16", "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "key should be settable again after expiry")
}

func TestGetMissAndDelete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "tg_bind", "42")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "tg_bind", "42", "7", time.Minute))
	v, err := c.Get(ctx, "tg_bind", "42")
	require.NoError(t, err)
	assert.Equal(t, "7", v)

	ttl, err := c.TTL(ctx, "tg_bind", "42")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	require.NoError(t, c.Delete(ctx, "tg_bind", "42"))
	_, err = c.Get(ctx, "tg_bind", "42")
	assert.ErrorIs(t, err, ErrMiss)
}
