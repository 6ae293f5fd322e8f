package otp

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomGenerator_Range(t *testing.T) {
	g := RandomGenerator{}
	for i := 0; i < 500; i++ {
		code, err := g.Generate()
		require.NoError(t, err)
		require.Len(t, code, 6)
		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
	}
}

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	l := NewMemoryLimiter(3, 10*time.Minute)
	l.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		clock.Advance(time.Minute)
	}
	ok, _ := l.Allow(ctx, "k")
	assert.False(t, ok)

	// first request falls out of the window
	clock.Advance(8 * time.Minute)
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok)
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	l := NewMemoryLimiter(1, time.Minute)
	l.now = clock.Now

	_, _ = l.Allow(context.Background(), "a")
	clock.Advance(2 * time.Minute)
	l.Sweep()
	assert.Empty(t, l.requests)
}

// redisClient connects to REDIS_ADDR or skips the test.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis unreachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newTestRedisLimiter(t *testing.T, max int, window time.Duration) *RedisLimiter {
	t.Helper()
	client := redisClient(t)
	l := NewRedisLimiter(client, max, window)
	l.keyPrefix = "test:otp:issue:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), l.keyPrefix+"*").Result()
		if len(keys) > 0 {
			client.Del(context.Background(), keys...)
		}
	})
	return l
}

func TestRedisLimiter_SlidingWindow(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	l := newTestRedisLimiter(t, 2, 10*time.Minute)
	l.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		clock.Advance(3 * time.Minute)
	}
	ok, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "other")
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	clock.Advance(5 * time.Minute)
	ok, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiter_ConcurrentCallersShareTheLimit(t *testing.T) {
	l := newTestRedisLimiter(t, 3, time.Minute)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Allow(ctx, "k")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, allowed)
}

func TestRedisLimiter_RejectedCallsAreNotRecorded(t *testing.T) {
	l := newTestRedisLimiter(t, 1, time.Minute)
	ctx := context.Background()

	ok, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	for i := 0; i < 3; i++ {
		ok, err = l.Allow(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	}

	n, err := l.client.ZCard(ctx, l.keyPrefix+"k").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ttl, err := l.client.PTTL(ctx, l.keyPrefix+"k").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
