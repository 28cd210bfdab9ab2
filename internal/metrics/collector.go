package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 Prometheus 指标收集器
// =============================================================================

// Collector exports gateway metrics to Prometheus. It complements the
// Aggregator, which backs the JSON /api/metrics endpoint.
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 对话轮次指标
	chatTurnsTotal   *prometheus.CounterVec
	chatTurnDuration *prometheus.HistogramVec
	chatTokensTotal  *prometheus.CounterVec

	// 准入指标
	admissionsTotal *prometheus.CounterVec

	// WebSocket 指标
	wsConnectionsActive prometheus.Gauge

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.chatTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Total number of chat turns by transport and outcome",
		},
		[]string{"transport", "model", "outcome"},
	)

	c.chatTurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_turn_duration_seconds",
			Help:      "Chat turn duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"transport", "model"},
	)

	c.chatTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_tokens_total",
			Help:      "Total number of tokens reported by the backend",
		},
		[]string{"model", "type"}, // type: prompt, completion
	)

	c.admissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Rate limiter decisions",
		},
		[]string{"result"}, // result: allowed, rejected
	)

	c.wsConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Number of open /ws/chat connections",
		},
	)

	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 💬 对话轮次指标记录
// =============================================================================

// RecordChatTurn 记录一次对话轮次的结果
func (c *Collector) RecordChatTurn(transport, model, outcome string, duration time.Duration, promptTokens, completionTokens int) {
	model = modelLabel(model, outcome)
	c.chatTurnsTotal.WithLabelValues(transport, model, outcome).Inc()
	c.chatTurnDuration.WithLabelValues(transport, model).Observe(duration.Seconds())
	if promptTokens > 0 {
		c.chatTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.chatTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// otherModel 替代后端未接受的模型名
const otherModel = "other"

// modelLabel keeps the model name only for turns the backend answered, so
// the label set is bounded by the installed models. Failed, cancelled and
// timed-out turns may carry any client-supplied name.
func modelLabel(model, outcome string) string {
	switch outcome {
	case "done", "truncated":
		if model != "" {
			return model
		}
	}
	return otherModel
}

// RecordAdmission 记录限流器判定
func (c *Collector) RecordAdmission(allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	c.admissionsTotal.WithLabelValues(result).Inc()
}

// WebSocketOpened increments the active connection gauge.
func (c *Collector) WebSocketOpened() {
	c.wsConnectionsActive.Inc()
}

// WebSocketClosed decrements the active connection gauge.
func (c *Collector) WebSocketClosed() {
	c.wsConnectionsActive.Dec()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
