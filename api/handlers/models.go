package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/BaSui01/chatgateway/api"
	"github.com/BaSui01/chatgateway/internal/cache"
	"github.com/BaSui01/chatgateway/internal/ollama"
	"github.com/BaSui01/chatgateway/internal/ratelimit"
	"go.uber.org/zap"
)

const modelsCacheKey = "models"

// ModelLister lists backend models behind admission control.
// *session.Translator implements it.
type ModelLister interface {
	Admit(identity string) error
	ListModels(ctx context.Context) ([]ollama.Model, error)
}

// ModelCache stores the rendered model listing. *cache.Manager implements it.
type ModelCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CacheObserver 记录缓存命中情况
type CacheObserver interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// ModelsHandler 模型列表处理器
type ModelsHandler struct {
	models   ModelLister
	cache    ModelCache
	ttl      time.Duration
	observer CacheObserver
	logger   *zap.Logger
}

// NewModelsHandler 创建模型列表处理器；cache 为 nil 时不缓存
func NewModelsHandler(models ModelLister, cache ModelCache, ttl time.Duration, observer CacheObserver, logger *zap.Logger) *ModelsHandler {
	return &ModelsHandler{
		models:   models,
		cache:    cache,
		ttl:      ttl,
		observer: observer,
		logger:   logger.With(zap.String("handler", "models")),
	}
}

// HandleList 列出可用模型
// @Summary 模型列表
// @Description 列出 Ollama 上已安装的模型
// @Tags 模型
// @Produce json
// @Success 200 {object} api.ModelListResponse "模型列表"
// @Failure 429 {object} Response "请求过于频繁"
// @Failure 502 {object} Response "上游错误"
// @Security ApiKeyAuth
// @Router /api/models [get]
func (h *ModelsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if err := h.models.Admit(ratelimit.ClientIdentity(r)); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	ctx := r.Context()
	if list, ok := h.cached(ctx); ok {
		WriteJSON(w, http.StatusOK, list)
		return
	}

	models, err := h.models.ListModels(ctx)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	list := api.NewModelList(models)
	if h.cache != nil {
		if err := h.cache.SetJSON(ctx, modelsCacheKey, list, h.ttl); err != nil {
			h.logger.Warn("failed to cache model list", zap.Error(err))
		}
	}
	WriteJSON(w, http.StatusOK, list)
}

func (h *ModelsHandler) cached(ctx context.Context) (api.ModelListResponse, bool) {
	var list api.ModelListResponse
	if h.cache == nil {
		return list, false
	}

	err := h.cache.GetJSON(ctx, modelsCacheKey, &list)
	if err == nil && list.Models != nil {
		h.recordCache(true)
		return list, true
	}
	if err != nil && !cache.IsCacheMiss(err) {
		h.logger.Warn("model cache read failed", zap.Error(err))
	}
	h.recordCache(false)
	return api.ModelListResponse{}, false
}

func (h *ModelsHandler) recordCache(hit bool) {
	if h.observer == nil {
		return
	}
	if hit {
		h.observer.RecordCacheHit(modelsCacheKey)
	} else {
		h.observer.RecordCacheMiss(modelsCacheKey)
	}
}
