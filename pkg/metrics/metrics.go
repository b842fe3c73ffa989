package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// Workspace 服务调用延迟（毫秒）
	WorkspaceCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workspace_call_latency_ms",
			Help:    "Workspace service call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"endpoint", "status"},
	)

	// 数据库事务耗时（秒）
	DBTxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_tx_duration_seconds",
			Help:    "Database transaction duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"result"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Number of queries slower than the configured threshold",
		},
		[]string{"statement"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	// 合同创建计数
	ContractCreatedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contract_created_count",
			Help: "Contract creation attempts by result",
		},
		[]string{"result"}, // result: success, not_found, invalid, conflict, internal
	)

	// 里程碑状态流转计数
	MilestoneTransitionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milestone_transition_count",
			Help: "Milestone status transition attempts",
		},
		[]string{"to", "result"},
	)

	// 合同状态流转计数
	ContractTransitionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contract_transition_count",
			Help: "Contract status transition attempts",
		},
		[]string{"to", "result"},
	)

	// Workspace 房间创建计数
	WorkspaceProvisionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workspace_provision_count",
			Help: "Workspace room provisioning outcomes",
		},
		[]string{"status"}, // status: success, failed
	)

	// Outbox 事件发布计数
	OutboxPublishedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_published_count",
			Help: "Outbox events published to the broker",
		},
		[]string{"routing_key", "status"},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordWorkspaceCallLatency 记录 workspace 调用延迟
func RecordWorkspaceCallLatency(endpoint, status string, duration time.Duration) {
	WorkspaceCallLatency.WithLabelValues(endpoint, status).Observe(float64(duration.Milliseconds()))
}

// RecordDBTxDuration 记录事务耗时
func RecordDBTxDuration(result string, duration time.Duration) {
	DBTxDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery(statement string, _ time.Duration) {
	SlowQueryCount.WithLabelValues(statement).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func IncrementContractCreated(result string) {
	ContractCreatedCount.WithLabelValues(result).Inc()
}

func IncrementMilestoneTransition(to, result string) {
	MilestoneTransitionCount.WithLabelValues(to, result).Inc()
}

func IncrementContractTransition(to, result string) {
	ContractTransitionCount.WithLabelValues(to, result).Inc()
}

func IncrementWorkspaceProvision(status string) {
	WorkspaceProvisionCount.WithLabelValues(status).Inc()
}

func IncrementOutboxPublished(routingKey, status string) {
	OutboxPublishedCount.WithLabelValues(routingKey, status).Inc()
}
