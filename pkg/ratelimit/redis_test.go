package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisCounterStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCounterStore(client, "test"), mr
}

func TestRedisIncrCountsWithinWindow(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		count, resetAt, err := store.Incr(ctx, "auth:ip:10.0.0.1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, count)
		assert.False(t, resetAt.IsZero())
	}
}

func TestRedisPeekMissingKey(t *testing.T) {
	store, _ := newRedisStore(t)

	count, resetAt, err := store.Peek(context.Background(), "never:seen")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.True(t, resetAt.IsZero())
}

func TestRedisPeekDoesNotConsume(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	_, _, err := store.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		count, _, err := store.Peek(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	}
}

func TestRedisWindowExpires(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	count, _, err := store.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	count, _, err = store.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	mr.FastForward(time.Minute + time.Second)

	count, _, err = store.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "counter restarts after the window lapses")
}

func TestRedisBackedLimiter(t *testing.T) {
	store, _ := newRedisStore(t)
	limiter := NewLimiter(store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := limiter.Hit(ctx, RuleAuthAttempts, "203.0.113.9")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := limiter.Hit(ctx, RuleAuthAttempts, "203.0.113.9")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}
