package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/portal-gateway/pkg/logger"
)

// tokenBucket refills at ARGV[2] tokens per second up to ARGV[1] and takes one token.
// It returns {allowed, milliseconds until the next token}.
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1]) or capacity
local last_refill = tonumber(bucket[2]) or now

tokens = math.min(capacity, tokens + math.max(0, now - last_refill) * rate / 1000)

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
else
    wait_ms = math.ceil((1 - tokens) / rate * 1000)
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill', now)
redis.call('PEXPIRE', key, math.ceil(capacity / rate * 1000) + 60000)

return {allowed, wait_ms}
`)

// RedisLimiter shares buckets between gateway replicas. When Redis cannot be reached it
// falls back to a local bucket so that an outage does not block every caller.
type RedisLimiter struct {
	client   redis.UniversalClient
	prefix   string
	rps      float64
	burst    int
	fallback Limiter
	logger   logger.Logger
	now      func() time.Time
}

// NewRedisLimiter keys buckets as <prefix>:<key>.
func NewRedisLimiter(client redis.UniversalClient, prefix string, rps float64, burst int, log logger.Logger) *RedisLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RedisLimiter{
		client:   client,
		prefix:   prefix,
		rps:      rps,
		burst:    burst,
		fallback: NewLocalLimiter(rps, burst),
		logger:   log.WithComponent("rate_limit"),
		now:      time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := tokenBucket.Run(ctx, l.client, []string{l.prefix + ":" + key},
		l.burst, l.rps, l.now().UnixMilli()).Int64Slice()
	if err == nil && len(res) != 2 {
		err = fmt.Errorf("unexpected token bucket reply %v", res)
	}
	if err != nil {
		l.logger.Warn(ctx, "Redis rate limiter unavailable, using local bucket", logger.String("error", err.Error()))
		return l.fallback.Allow(ctx, key)
	}

	if res[0] == 1 {
		return true, 0, nil
	}
	wait := time.Duration(res[1]) * time.Millisecond
	if wait <= 0 {
		wait = time.Duration(math.Ceil(1/l.rps)) * time.Second
	}
	return false, wait, nil
}

//Personal.AI order the ending
