package service

import (
	"time"
)

// Metrics defines the interface for collecting session and gateway metrics.
// This abstraction allows the domain and application layers to remain independent of the specific monitoring implementation (e.g., Prometheus).
// Metrics 定义了收集会话与网关指标的接口。
// 这种抽象使领域层和应用层能够独立于具体的监控实现（例如 Prometheus）。
type Metrics interface {
	// RecordRefresh records one provider refresh by trigger (foreground, rejection, background, restore) and outcome.
	// RecordRefresh 按触发方式和结果记录一次令牌刷新。
	RecordRefresh(trigger, outcome string, duration time.Duration)

	// RecordPersistenceFailure records a failed best-effort write or delete of the persisted session.
	// RecordPersistenceFailure 记录一次会话持久化失败。
	RecordPersistenceFailure(operation string)

	// RecordGatewayCall records an outbound REST or GraphQL call by outcome.
	// RecordGatewayCall 按结果记录一次出站 REST 或 GraphQL 调用。
	RecordGatewayCall(kind, outcome string, duration time.Duration)

	// RecordAuthRetry records the one refresh-and-retry after an authentication rejection.
	// RecordAuthRetry 记录认证被拒后的一次刷新重试。
	RecordAuthRetry(kind string)

	// SetActiveSessions updates the gauge of in-process sessions.
	// SetActiveSessions 更新进程内会话数量仪表盘。
	SetActiveSessions(count int)
}

// NoopMetrics discards every observation.
type NoopMetrics struct{}

func (NoopMetrics) RecordRefresh(string, string, time.Duration)     {}
func (NoopMetrics) RecordPersistenceFailure(string)                 {}
func (NoopMetrics) RecordGatewayCall(string, string, time.Duration) {}
func (NoopMetrics) RecordAuthRetry(string)                          {}
func (NoopMetrics) SetActiveSessions(int)                           {}
