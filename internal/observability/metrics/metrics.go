// Package metrics 暴露 Prometheus 指标。所有采集器注册在包级 Registry 上，
// 由 /metrics 路由统一导出。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fluxo"

// Registry 是进程内唯一的指标注册表。
var Registry = prometheus.NewRegistry()

var (
	busPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "published_total",
		Help:      "Messages published per channel.",
	}, []string{"channel"})

	busDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "dropped_total",
		Help:      "Messages dropped because a subscriber buffer was full.",
	}, []string{"channel"})

	agentMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "messages_total",
		Help:      "Messages handled by agents, labelled by outcome.",
	}, []string{"agent", "outcome"})

	agentLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "handle_seconds",
		Help:      "Time spent handling one message.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"agent"})

	taskTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "task",
		Name:      "transitions_total",
		Help:      "Task status transitions per job.",
	}, []string{"job", "status"})

	taskLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "task",
		Name:      "duration_seconds",
		Help:      "Wall time from claim to terminal status.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"job"})

	sourceFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "source",
		Name:      "fetch_total",
		Help:      "Data source fetch attempts.",
	}, []string{"kind", "source", "outcome"})

	alertsRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alert",
		Name:      "recorded_total",
		Help:      "Alerts persisted per type.",
	}, []string{"type"})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code.",
	}, []string{"handler", "method", "code"})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		busPublished, busDropped,
		agentMessages, agentLatency,
		taskTransitions, taskLatency,
		sourceFetches, alertsRecorded,
		httpRequests, httpLatency,
	)
}

// ObserveBusPublish 记录一次发布。
func ObserveBusPublish(channel string) { busPublished.WithLabelValues(channel).Inc() }

// ObserveBusDrop 记录一次因缓冲区已满导致的丢弃。
func ObserveBusDrop(channel string) { busDropped.WithLabelValues(channel).Inc() }

// ObserveAgentMessage 记录 agent 处理单条消息的结果，outcome 为 "ok" 或错误码。
func ObserveAgentMessage(agent, outcome string, duration time.Duration) {
	agentMessages.WithLabelValues(agent, outcome).Inc()
	agentLatency.WithLabelValues(agent).Observe(duration.Seconds())
}

// ObserveTaskTransition 记录任务状态迁移。
func ObserveTaskTransition(job, status string) {
	taskTransitions.WithLabelValues(job, status).Inc()
}

// ObserveTaskDuration 记录任务从领取到结束的耗时。
func ObserveTaskDuration(job string, duration time.Duration) {
	taskLatency.WithLabelValues(job).Observe(duration.Seconds())
}

// ObserveSourceFetch 记录数据源调用结果。
func ObserveSourceFetch(kind, source, outcome string) {
	sourceFetches.WithLabelValues(kind, source, outcome).Inc()
}

// ObserveAlert 记录一条已持久化的告警。
func ObserveAlert(alertType string) { alertsRecorded.WithLabelValues(alertType).Inc() }

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
