package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/chatgateway/api"
	"github.com/BaSui01/chatgateway/internal/ratelimit"
	"github.com/BaSui01/chatgateway/internal/session"
	"github.com/BaSui01/chatgateway/types"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// =============================================================================
// 🔌 WebSocket 多轮对话 Handler
// =============================================================================

const (
	wsReadLimit    = 1 << 20
	wsWriteTimeout = 10 * time.Second
	wsInboundQueue = 8
)

// ConnObserver 记录 WebSocket 连接数
type ConnObserver interface {
	WebSocketOpened()
	WebSocketClosed()
}

// WebSocketHandler serves /ws/chat. One connection carries many turns, run
// one at a time in arrival order.
type WebSocketHandler struct {
	chat           ChatService
	originPatterns []string
	observer       ConnObserver
	logger         *zap.Logger
}

// NewWebSocketHandler 创建 WebSocket 处理器。originPatterns 为空时只允许同源。
func NewWebSocketHandler(chat ChatService, originPatterns []string, observer ConnObserver, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		chat:           chat,
		originPatterns: originPatterns,
		observer:       observer,
		logger:         logger.With(zap.String("handler", "websocket")),
	}
}

// HandleWebSocket 处理 /ws/chat 升级请求
// @Summary WebSocket 对话
// @Description 每条入站消息是一轮对话，事件以文本帧按顺序返回
// @Tags 聊天
// @Router /ws/chat [get]
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity := ratelimit.ClientIdentity(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wsReadLimit)

	if h.observer != nil {
		h.observer.WebSocketOpened()
		defer h.observer.WebSocketClosed()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := h.readLoop(ctx, cancel, conn)

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-inbound:
			if !ok {
				return
			}
			if !h.handleTurn(ctx, conn, identity, data) {
				return
			}
		}
	}
}

// readLoop reads frames in the background so a disconnect cancels ctx even
// while a turn is streaming.
func (h *WebSocketHandler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) <-chan []byte {
	inbound := make(chan []byte, wsInboundQueue)
	go func() {
		defer close(inbound)
		defer cancel()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				status := websocket.CloseStatus(err)
				if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
					h.logger.Debug("websocket read ended", zap.Error(err))
				}
				return
			}
			select {
			case inbound <- data:
			case <-ctx.Done():
				return
			}
		}
	}()
	return inbound
}

// handleTurn runs one inbound message. It returns false when the connection
// must be closed.
func (h *WebSocketHandler) handleTurn(ctx context.Context, conn *websocket.Conn, identity string, data []byte) bool {
	var msg api.TurnMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		// 合法 JSON 但字段类型错误：按负载校验失败处理
		if fields := api.DecodeErrorDetails(err); fields != nil {
			return h.send(ctx, conn, session.ErrorEvent("Invalid payload", fields))
		}
		return h.send(ctx, conn, session.ErrorEvent(fmt.Sprintf("Invalid message: %v", err), nil))
	}

	req := msg.Resolve()
	if err := req.Validate(); err != nil {
		var details any
		if fields := api.FieldErrors(err); fields != nil {
			details = fields
		}
		return h.send(ctx, conn, session.ErrorEvent("Invalid payload", details))
	}

	events, err := h.chat.Stream(ctx, &session.Request{
		Identity:  identity,
		Transport: session.TransportWS,
		Model:     req.Model,
		Messages:  req.BackendMessages(),
		Options:   req.Options(),
	})
	if err != nil {
		return h.rejectTurn(ctx, conn, err)
	}

	alive := true
	for ev := range events {
		if alive && !h.send(ctx, conn, ev) {
			// 写失败后继续排空事件，直到读循环取消 ctx
			alive = false
		}
	}
	return alive
}

func (h *WebSocketHandler) rejectTurn(ctx context.Context, conn *websocket.Conn, err error) bool {
	apiErr, ok := types.AsError(err)
	if !ok {
		h.logger.Error("chat turn failed", zap.Error(err))
		return h.send(ctx, conn, session.Event{Type: session.EventError, Message: "internal error", Code: string(types.ErrInternalError)})
	}

	if apiErr.Code == types.ErrRateLimited {
		h.logger.Debug("closing websocket: rate limited")
		_ = conn.Close(websocket.StatusPolicyViolation, apiErr.Message)
		return false
	}

	return h.send(ctx, conn, session.Event{
		Type:    session.EventError,
		Message: apiErr.Message,
		Code:    string(apiErr.Code),
	})
}

func (h *WebSocketHandler) send(ctx context.Context, conn *websocket.Conn, ev session.Event) bool {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event", zap.Error(err))
		return false
	}

	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()

	if err := conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		if !errors.Is(err, context.Canceled) {
			h.logger.Debug("websocket write failed", zap.Error(err))
		}
		return false
	}
	return true
}
