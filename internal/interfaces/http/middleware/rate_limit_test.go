package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/turtacn/portal-gateway/internal/infrastructure/monitoring"
	"github.com/turtacn/portal-gateway/internal/infrastructure/ratelimit"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	limiter := NewRateLimiter("chat", 0.001, ratelimit.NewLocalLimiter(0.001, 2), metrics, logger.NewNoopLogger())

	router := gin.New()
	router.Use(limiter.Middleware())
	router.POST("/api/chat", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	send := func(ip string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPost, "/api/chat", nil)
		req.RemoteAddr = ip + ":1234"
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("should allow requests within the burst", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
		assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	})

	t.Run("should block once the burst is spent", func(t *testing.T) {
		w := send("10.0.0.1")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.NotEmpty(t, w.Header().Get("Retry-After"))
		assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RateLimitHits.WithLabelValues("chat")))
	})

	t.Run("should keep separate budgets per caller", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, send("10.0.0.2").Code)
	})
}
