package handlers

import (
	"net/http"

	"github.com/BaSui01/chatgateway/internal/metrics"
)

// SnapshotSource 提供指标快照。*metrics.Aggregator 实现该接口。
type SnapshotSource interface {
	Snapshot() metrics.Snapshot
}

// MetricsHandler 滚动指标处理器
type MetricsHandler struct {
	source SnapshotSource
}

// NewMetricsHandler 创建指标处理器
func NewMetricsHandler(source SnapshotSource) *MetricsHandler {
	return &MetricsHandler{source: source}
}

// HandleMetrics 返回累计请求数、Token 总数与延迟分位数
// @Summary 网关指标
// @Tags 指标
// @Produce json
// @Success 200 {object} metrics.Snapshot "指标快照"
// @Security ApiKeyAuth
// @Router /api/metrics [get]
func (h *MetricsHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.source.Snapshot())
}
