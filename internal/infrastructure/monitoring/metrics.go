package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/turtacn/portal-gateway/pkg/constants"
)

// Metrics manages the Prometheus metrics.
type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	Refreshes           *prometheus.CounterVec
	RefreshDuration     *prometheus.HistogramVec
	PersistenceFailures *prometheus.CounterVec
	GatewayCalls        *prometheus.CounterVec
	GatewayDuration     *prometheus.HistogramVec
	AuthRetries         *prometheus.CounterVec
	ActiveSessions      prometheus.Gauge
	ChatStreams         *prometheus.CounterVec
	RateLimitHits       *prometheus.CounterVec
}

// NewMetrics creates the Prometheus metrics and registers them with reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	ns := constants.MetricsNamespace

	return &Metrics{
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "http_requests_total",
				Help:      "Total number of inbound HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "http_request_duration_seconds",
				Help:      "Latency of inbound HTTP requests.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		Refreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "token_refreshes_total",
				Help:      "Token refreshes against the identity provider.",
			},
			[]string{"trigger", "outcome"},
		),
		RefreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "token_refresh_duration_seconds",
				Help:      "Latency of token refreshes.",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"trigger"},
		),
		PersistenceFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "session_persistence_failures_total",
				Help:      "Failed best-effort writes of persisted sessions.",
			},
			[]string{"operation"},
		),
		GatewayCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "upstream_calls_total",
				Help:      "Authenticated REST and GraphQL calls by outcome.",
			},
			[]string{"kind", "outcome"},
		),
		GatewayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "upstream_call_duration_seconds",
				Help:      "Latency of authenticated upstream calls including the auth retry.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		AuthRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "upstream_auth_retries_total",
				Help:      "Refresh-and-retry cycles after an authentication rejection.",
			},
			[]string{"kind"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "active_sessions",
				Help:      "Sessions held in this process.",
			},
		),
		ChatStreams: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "chat_streams_total",
				Help:      "Chat assistant streams by outcome.",
			},
			[]string{"outcome"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "rate_limit_hits_total",
				Help:      "Total number of rate limit hits.",
			},
			[]string{"scope"},
		),
	}
}

// RecordHTTPRequest records one inbound request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordChatStream records the outcome of one chat stream.
func (m *Metrics) RecordChatStream(outcome string) {
	m.ChatStreams.WithLabelValues(outcome).Inc()
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(scope string) {
	m.RateLimitHits.WithLabelValues(scope).Inc()
}

//Personal.AI order the ending
