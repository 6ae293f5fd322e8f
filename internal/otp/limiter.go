package otp

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether another code may be issued for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter is an in-process sliding window. Use RedisLimiter when more
// than one bot process shares the database.
type MemoryLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	max      int
	now      func() time.Time
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		requests: make(map[string][]time.Time),
		window:   window,
		max:      max,
		now:      time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	reqs := l.requests[key]
	filtered := reqs[:0]
	for _, t := range reqs {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}

	if len(filtered) >= l.max {
		l.requests[key] = filtered
		return false, nil
	}
	l.requests[key] = append(filtered, now)
	return true, nil
}

// Sweep drops keys with no requests inside the window.
func (l *MemoryLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for key, reqs := range l.requests {
		if len(reqs) == 0 || !reqs[len(reqs)-1].After(cutoff) {
			delete(l.requests, key)
		}
	}
}

// allowScript trims the window, counts it and records the request atomically.
// KEYS[1] set, ARGV: now, threshold, max, ttl ms, member.
var allowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[2])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// RedisLimiter keeps one sorted set of issue timestamps per phone.
type RedisLimiter struct {
	client    *redis.Client
	keyPrefix string
	window    time.Duration
	max       int
	now       func() time.Time
}

func NewRedisLimiter(client *redis.Client, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client:    client,
		keyPrefix: "otp:issue:",
		window:    window,
		max:       max,
		now:       time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now()
	args := []any{
		strconv.FormatInt(now.UnixNano(), 10),
		strconv.FormatInt(now.Add(-l.window).UnixNano(), 10),
		l.max,
		l.window.Milliseconds(),
		strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString(),
	}
	allowed, err := allowScript.Run(ctx, l.client, []string{l.keyPrefix + key}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	return allowed == 1, nil
}
