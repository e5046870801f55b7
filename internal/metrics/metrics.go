package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jeesi_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒），流式接口包含整个转发过程
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jeesi_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "path"},
	)

	// APIResponseSize API 响应体大小（字节）
	APIResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jeesi_api_response_size_bytes",
			Help:    "API 响应体大小分布",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000},
		},
		[]string{"method", "path"},
	)
)

// 对话接口指标
var (
	// ChatRequestsTotal 对话请求结果
	// outcome: success, unauthorized, insufficient_credits, not_found, rate_limited,
	// upstream_payment_required, upstream_error, bad_request
	ChatRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jeesi_chat_requests_total",
			Help: "对话请求总数（按结果分类）",
		},
		[]string{"operation", "outcome"},
	)

	// UpstreamLatency 上游返回响应头的耗时（秒）
	// 模型名来自调用方输入，不作为标签
	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jeesi_upstream_latency_seconds",
			Help:    "上游 AI 网关首包延迟分布",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation", "status"},
	)

	// StreamedBytes 转发给客户端的字节数
	StreamedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jeesi_streamed_bytes_total",
			Help: "转发给客户端的流式字节总数",
		},
		[]string{"operation"},
	)
)

// 计费指标
var (
	// CreditsDeducted 已扣减积分
	CreditsDeducted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jeesi_credits_deducted_total",
			Help: "已扣减积分总数",
		},
		[]string{"operation"},
	)

	// UnchargedRequests 已服务但未能扣费的请求（并发耗尽余额）
	UnchargedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jeesi_uncharged_requests_total",
			Help: "已服务但未扣费的请求数",
		},
		[]string{"operation"},
	)
)

// 旁路任务指标
var (
	// SideTasksTotal 旁路任务执行结果
	SideTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jeesi_side_tasks_total",
			Help: "旁路任务执行总数",
		},
		[]string{"type", "status"}, // status: success, failed, dropped
	)

	// SideTasksInFlight 正在执行的进程内旁路任务数量
	SideTasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jeesi_side_tasks_in_flight",
			Help: "正在执行的进程内旁路任务数量",
		},
	)
)

// RecordChatOutcome 记录对话请求结果
func RecordChatOutcome(operation, outcome string) {
	ChatRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordSideTask 记录旁路任务结果
func RecordSideTask(taskType, status string) {
	SideTasksTotal.WithLabelValues(taskType, status).Inc()
}
