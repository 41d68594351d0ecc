package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCacheOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	calls := 0
	fn := func() error { calls++; return nil }

	require.NoError(t, c.Once(ctx, "sweep", time.Minute, fn))
	require.NoError(t, c.Once(ctx, "sweep", time.Minute, fn))
	assert.Equal(t, 1, calls)

	mr.FastForward(2 * time.Minute)
	require.NoError(t, c.Once(ctx, "sweep", time.Minute, fn))
	assert.Equal(t, 2, calls)
}

func TestRedisCacheOnceReleasesOnError(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	err := c.Once(ctx, "job", time.Minute, func() error { return errors.New("boom") })
	require.Error(t, err)
	assert.False(t, mr.Exists("job"))

	ok, err := c.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
