package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/portal-gateway/pkg/logger"
)

func TestLocalLimiter(t *testing.T) {
	l := NewLocalLimiter(0.001, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, retry, err := l.Allow(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))

	ok, _, _ = l.Allow(ctx, "b")
	assert.True(t, ok, "buckets are per key")
}

func TestRedisLimiter(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	defer client.Close()

	now := time.UnixMilli(1_700_000_000_000)
	l := NewRedisLimiter(client, "ratelimit:chat", 1, 2, logger.NewNoopLogger())
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "session:1")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, retry, err := l.Allow(ctx, "session:1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Second, retry)
	assert.True(t, s.Exists("ratelimit:chat:session:1"))

	now = now.Add(time.Second)
	ok, _, err = l.Allow(ctx, "session:1")
	require.NoError(t, err)
	assert.True(t, ok, "one token refilled after a second")

	// a second replica sees the same bucket
	other := NewRedisLimiter(client, "ratelimit:chat", 1, 2, logger.NewNoopLogger())
	other.now = l.now
	ok, _, _ = other.Allow(ctx, "session:1")
	assert.False(t, ok)
}

func TestRedisLimiter_FallsBackWhenRedisIsDown(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()
	s.Close()

	l := NewRedisLimiter(client, "ratelimit:chat", 0.001, 1, logger.NewNoopLogger())
	ok, _, err := l.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, err = l.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
