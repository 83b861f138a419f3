// Package metrics 定义 senzen-data 的 Prometheus 指标（/metrics 暴露）
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LoginAttempts 登录次数，result = success | invalid | error
var LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "senzen",
	Subsystem: "auth",
	Name:      "login_attempts_total",
	Help:      "Login attempts by result.",
}, []string{"result"})

// TaskSubscriptions 当前活跃的任务订阅数
var TaskSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "senzen",
	Subsystem: "tasks",
	Name:      "active_subscriptions",
	Help:      "Number of live task subscriptions.",
})

// TaskCompletions 订阅中检测到的 Pending -> Done 事件
var TaskCompletions = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "senzen",
	Subsystem: "tasks",
	Name:      "completions_total",
	Help:      "Completion events emitted to subscribers.",
})

// TaskFeedErrors 变更流读写失败，op = publish | read
var TaskFeedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "senzen",
	Subsystem: "tasks",
	Name:      "feed_errors_total",
	Help:      "Task change feed failures by operation.",
}, []string{"op"})

// TaskMutations 任务写操作，op = create | update | done | delete
var TaskMutations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "senzen",
	Subsystem: "tasks",
	Name:      "mutations_total",
	Help:      "Task writes by operation.",
}, []string{"op"})

// LedgerCache 账目读缓存命中情况，result = hit | miss | error
var LedgerCache = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "senzen",
	Subsystem: "ledger",
	Name:      "cache_requests_total",
	Help:      "Ledger read cache lookups by result.",
}, []string{"result"})

// LedgerEntriesCreated 新建账目条数
var LedgerEntriesCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "senzen",
	Subsystem: "ledger",
	Name:      "entries_created_total",
	Help:      "Ledger entries created.",
})

// ImageUploadDuration 图片托管上传耗时
var ImageUploadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "senzen",
	Subsystem: "image_host",
	Name:      "upload_duration_seconds",
	Help:      "Image host upload latency by result.",
	Buckets:   prometheus.DefBuckets,
}, []string{"result"})

// HTTPRequests HTTP 请求计数，按路由前缀与状态码
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "senzen",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "HTTP requests by route group and status code.",
}, []string{"route", "code"})
