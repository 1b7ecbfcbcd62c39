// Package ratelimit provides per-caller token buckets, in process or shared through Redis.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const localIdleTTL = 10 * time.Minute

// Limiter decides whether the caller identified by key may proceed.
// When it may not, retryAfter is how long until a token is available.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// LocalLimiter keeps one in-process bucket per key. Idle buckets expire.
type LocalLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *cache.Cache
	mu       sync.Mutex
}

// NewLocalLimiter allows rps requests per second with the given burst per key.
func NewLocalLimiter(rps float64, burst int) *LocalLimiter {
	if burst < 1 {
		burst = 1
	}
	return &LocalLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: cache.New(localIdleTTL, localIdleTTL),
	}
}

func (l *LocalLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.limiters.Get(key); ok {
		l.limiters.SetDefault(key, v)
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters.SetDefault(key, lim)
	return lim
}

// Allow never fails.
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	r := l.limiterFor(key).Reserve()
	if !r.OK() {
		return false, time.Second, nil
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return false, delay, nil
	}
	return true, 0, nil
}
