// Package monitoring provides adapters to connect the domain's metrics interface with a concrete implementation like Prometheus.
package monitoring

import (
	"time"

	"github.com/turtacn/portal-gateway/internal/domain/service"
)

// MetricsAdapter implements the domain's service.Metrics interface, sending metrics to a Prometheus backend.
// MetricsAdapter 实现了域的 service.Metrics 接口，将指标发送到 Prometheus 后端。
type MetricsAdapter struct {
	metrics *Metrics
}

var _ service.Metrics = (*MetricsAdapter)(nil)

// NewMetricsAdapter wraps a concrete Prometheus Metrics object.
// NewMetricsAdapter 包装具体的 Prometheus Metrics 对象。
func NewMetricsAdapter(metrics *Metrics) *MetricsAdapter {
	return &MetricsAdapter{metrics: metrics}
}

func (a *MetricsAdapter) RecordRefresh(trigger, outcome string, duration time.Duration) {
	a.metrics.Refreshes.WithLabelValues(trigger, outcome).Inc()
	a.metrics.RefreshDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

func (a *MetricsAdapter) RecordPersistenceFailure(operation string) {
	a.metrics.PersistenceFailures.WithLabelValues(operation).Inc()
}

func (a *MetricsAdapter) RecordGatewayCall(kind, outcome string, duration time.Duration) {
	a.metrics.GatewayCalls.WithLabelValues(kind, outcome).Inc()
	a.metrics.GatewayDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (a *MetricsAdapter) RecordAuthRetry(kind string) {
	a.metrics.AuthRetries.WithLabelValues(kind).Inc()
}

func (a *MetricsAdapter) SetActiveSessions(count int) {
	a.metrics.ActiveSessions.Set(float64(count))
}
