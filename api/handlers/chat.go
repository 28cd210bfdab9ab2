package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/BaSui01/chatgateway/api"
	"github.com/BaSui01/chatgateway/internal/ratelimit"
	"github.com/BaSui01/chatgateway/internal/session"
	"github.com/BaSui01/chatgateway/types"
	"go.uber.org/zap"
)

// =============================================================================
// 💬 聊天接口 Handler
// =============================================================================

// ChatService runs chat turns. *session.Translator implements it.
type ChatService interface {
	Stream(ctx context.Context, req *session.Request) (<-chan session.Event, error)
	Complete(ctx context.Context, req *session.Request) (*session.Result, error)
}

// ChatHandler 聊天接口处理器
type ChatHandler struct {
	chat   ChatService
	logger *zap.Logger
}

// NewChatHandler 创建聊天处理器
func NewChatHandler(chat ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		chat:   chat,
		logger: logger.With(zap.String("handler", "chat")),
	}
}

// HandleChat 处理聊天请求
// @Summary 聊天
// @Description 发送聊天请求；stream 为 true 时以 SSE 返回事件流
// @Tags 聊天
// @Accept json
// @Produce json,text/event-stream
// @Param request body api.ChatRequest true "聊天请求"
// @Success 200 {object} api.ChatResponse "聊天响应"
// @Failure 400 {object} Response "无效请求"
// @Failure 429 {object} Response "请求过于频繁"
// @Failure 502 {object} Response "上游错误"
// @Security ApiKeyAuth
// @Router /api/chat [post]
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	// 校验先于准入：无效请求不消耗令牌
	if err := req.Validate(); err != nil {
		WriteValidationError(w, err, h.logger)
		return
	}

	turn := &session.Request{
		Identity: ratelimit.ClientIdentity(r),
		Model:    req.Model,
		Messages: req.BackendMessages(),
		Options:  req.Options(),
	}

	if req.Stream {
		turn.Transport = session.TransportSSE
		h.stream(w, r, turn)
		return
	}
	turn.Transport = session.TransportHTTP
	h.complete(w, r, turn)
}

func (h *ChatHandler) complete(w http.ResponseWriter, r *http.Request, turn *session.Request) {
	result, err := h.chat.Complete(r.Context(), turn)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("chat completion",
		zap.String("model", result.Model),
		zap.Int("prompt_tokens", result.Usage.PromptTokens),
		zap.Int("completion_tokens", result.Usage.CompletionTokens),
		zap.Int64("latency_ms", result.LatencyMs),
	)

	WriteJSON(w, http.StatusOK, api.ChatResponse{
		ID:      result.ID,
		Model:   result.Model,
		Content: result.Content,
		Usage: api.Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
		LatencyMs: result.LatencyMs,
	})
}

// stream opens the turn before committing to an SSE response so that
// admission and upstream failures still get a JSON status.
func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request, turn *session.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}

	events, err := h.chat.Stream(r.Context(), turn)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		if err := writeSSE(w, ev); err != nil {
			// 客户端已断开；请求 context 取消后事件通道随即关闭
			h.logger.Debug("failed to write SSE event", zap.Error(err))
			continue
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, ev session.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(payload)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, payload...)
	buf = append(buf, '\n', '\n')
	_, err = w.Write(buf)
	return err
}
