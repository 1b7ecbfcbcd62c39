package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/portal-gateway/internal/infrastructure/monitoring"
	"github.com/turtacn/portal-gateway/internal/infrastructure/ratelimit"
	"github.com/turtacn/portal-gateway/pkg/errors"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

// RateLimiter throttles callers of one route group. Callers are keyed by session when one is
// attached, by client IP otherwise.
type RateLimiter struct {
	scope   string
	rps     float64
	limiter ratelimit.Limiter
	metrics *monitoring.Metrics
	logger  logger.Logger
}

// NewRateLimiter wraps limiter, which allows rps requests per second. metrics may be nil.
func NewRateLimiter(scope string, rps float64, limiter ratelimit.Limiter, metrics *monitoring.Metrics, log logger.Logger) *RateLimiter {
	return &RateLimiter{
		scope:   scope,
		rps:     rps,
		limiter: limiter,
		metrics: metrics,
		logger:  log.WithComponent("rate_limit"),
	}
}

// Middleware rejects callers over their budget with 429 and a Retry-After header.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if ps, ok := SessionFrom(c); ok {
			key = "session:" + ps.ID
		}

		c.Header("X-RateLimit-Limit", strconv.FormatFloat(l.rps, 'f', -1, 64))
		allowed, retry, err := l.limiter.Allow(c.Request.Context(), key)
		if err != nil {
			l.logger.Error(c.Request.Context(), "Rate limiter failed, letting request through", err)
			c.Next()
			return
		}
		if !allowed {
			if l.metrics != nil {
				l.metrics.RecordRateLimitHit(l.scope)
			}
			l.logger.Warn(c.Request.Context(), "Rate limit exceeded", logger.String("scope", l.scope))
			c.Header("Retry-After", strconv.Itoa(int((retry+time.Second-1)/time.Second)))
			RespondError(c, errors.ErrRateLimitExceeded(l.scope, l.rps))
			return
		}
		c.Next()
	}
}
