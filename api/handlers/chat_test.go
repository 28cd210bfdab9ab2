package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/chatgateway/internal/metrics"
	"github.com/BaSui01/chatgateway/internal/ollama"
	"github.com/BaSui01/chatgateway/internal/ratelimit"
	"github.com/BaSui01/chatgateway/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func postChat(h *ChatHandler, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.RemoteAddr = "192.0.2.10:5000"
	w := httptest.NewRecorder()
	h.HandleChat(w, r)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.False(t, resp.Success)
	return resp
}

// parseSSE returns the JSON payload of every "data:" frame.
func parseSSE(t *testing.T, body string) []map[string]any {
	t.Helper()
	var events []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

const helloBody = `{"messages":[{"role":"user","content":"hi"}]}`

// =============================================================================
// 🧪 非流式
// =============================================================================

func TestChatHandler_Complete(t *testing.T) {
	backend := &mockBackend{
		chatFunc: func(ctx context.Context, req *ollama.ChatRequest) (*ollama.ChatResponse, error) {
			assert.Equal(t, "llama3", req.Model)
			assert.Nil(t, req.Options)
			return &ollama.ChatResponse{
				Message:         &ollama.Message{Role: "assistant", Content: "hello"},
				PromptEvalCount: 5,
				EvalCount:       2,
			}, nil
		},
	}
	gw := newTestGateway(t, backend, 6)
	h := NewChatHandler(gw.translator, zap.NewNop())

	w := postChat(h, helloBody)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	assert.Equal(t, "hello", resp["content"])
	assert.Equal(t, "llama3", resp["model"])
	assert.NotEmpty(t, resp["id"])
	assert.Equal(t, map[string]any{"prompt_tokens": 5.0, "completion_tokens": 2.0, "total_tokens": 7.0}, resp["usage"])
	assert.GreaterOrEqual(t, resp["latency_ms"].(float64), 0.0)
	_, enveloped := resp["success"]
	assert.False(t, enveloped, "success bodies are not enveloped")

	assert.Equal(t, int64(1), gw.aggregator.Snapshot().RequestsTotal)
}

func TestChatHandler_ForwardsOptions(t *testing.T) {
	backend := &mockBackend{
		chatFunc: func(ctx context.Context, req *ollama.ChatRequest) (*ollama.ChatResponse, error) {
			assert.Equal(t, "phi3", req.Model)
			require.NotNil(t, req.Options)
			assert.Equal(t, 0.1, *req.Options.Temperature)
			assert.Equal(t, 9, *req.Options.Seed)
			assert.Nil(t, req.Options.TopP)
			return &ollama.ChatResponse{Response: "ok", Done: true}, nil
		},
	}
	gw := newTestGateway(t, backend, 6)
	h := NewChatHandler(gw.translator, zap.NewNop())

	w := postChat(h, `{"model":"phi3","messages":[{"role":"user","content":"hi"}],"temperature":0.1,"seed":9}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

// =============================================================================
// 🧪 SSE
// =============================================================================

func TestChatHandler_Stream(t *testing.T) {
	backend := &mockBackend{streamFunc: helloStream()}
	gw := newTestGateway(t, backend, 6)
	h := NewChatHandler(gw.translator, zap.NewNop())

	w := postChat(h, `{"messages":[{"role":"user","content":"hi"}],"stream":true}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.True(t, strings.HasSuffix(w.Body.String(), "\n\n"))

	events := parseSSE(t, w.Body.String())
	require.Len(t, events, 3)
	assert.Equal(t, map[string]any{"type": "token", "token": "hel"}, events[0])
	assert.Equal(t, map[string]any{"type": "token", "token": "lo"}, events[1])
	assert.Equal(t, "done", events[2]["type"])
	assert.Equal(t, "hello", events[2]["content"])
	assert.Equal(t, map[string]any{"prompt_tokens": 5.0, "completion_tokens": 2.0, "total_tokens": 7.0}, events[2]["usage"])
}

func TestChatHandler_StreamMidStreamError(t *testing.T) {
	backend := &mockBackend{streamFunc: streamOf(
		ollama.ChatResponse{Response: "par"},
		ollama.ChatResponse{Error: json.RawMessage(`"model crashed"`)},
	)}
	gw := newTestGateway(t, backend, 6)
	h := NewChatHandler(gw.translator, zap.NewNop())

	w := postChat(h, `{"messages":[{"role":"user","content":"hi"}],"stream":true}`)

	require.Equal(t, http.StatusOK, w.Code)
	events := parseSSE(t, w.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "error", events[1]["type"])
	assert.Equal(t, "model crashed", events[1]["message"])
	assert.Zero(t, gw.aggregator.Snapshot().RequestsTotal)
}

func TestChatHandler_StreamUpstreamFailureIsJSON(t *testing.T) {
	backend := &mockBackend{
		streamFunc: func(ctx context.Context, req *ollama.ChatRequest) (<-chan ollama.StreamChunk, error) {
			return nil, &ollama.ServiceError{StatusCode: http.StatusInternalServerError, Message: "boom"}
		},
	}
	gw := newTestGateway(t, backend, 6)
	h := NewChatHandler(gw.translator, zap.NewNop())

	w := postChat(h, `{"messages":[{"role":"user","content":"hi"}],"stream":true}`)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	resp := decodeEnvelope(t, w)
	assert.Equal(t, "UPSTREAM_ERROR", resp.Error.Code)
	assert.Equal(t, "boom", resp.Error.Message)
}

// =============================================================================
// 🧪 错误路径
// =============================================================================

func TestChatHandler_UpstreamStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		upstream   int
		wantStatus int
		wantCode   string
	}{
		{name: "4xx passes through", upstream: http.StatusNotFound, wantStatus: http.StatusNotFound, wantCode: "UPSTREAM_REJECTED"},
		{name: "400 passes through", upstream: http.StatusBadRequest, wantStatus: http.StatusBadRequest, wantCode: "UPSTREAM_REJECTED"},
		{name: "5xx becomes 502", upstream: http.StatusServiceUnavailable, wantStatus: http.StatusBadGateway, wantCode: "UPSTREAM_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &mockBackend{
				chatFunc: func(ctx context.Context, req *ollama.ChatRequest) (*ollama.ChatResponse, error) {
					return nil, &ollama.ServiceError{StatusCode: tt.upstream, Message: "upstream says no"}
				},
			}
			gw := newTestGateway(t, backend, 6)
			h := NewChatHandler(gw.translator, zap.NewNop())

			w := postChat(h, helloBody)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeEnvelope(t, w)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, "upstream says no", resp.Error.Message)
		})
	}
}

func TestChatHandler_FieldTypeAndContentErrors(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantDetails map[string]any
	}{
		{
			name:        "messages is a string",
			body:        `{"messages":"x"}`,
			wantDetails: map[string]any{"messages": "must not be a JSON string"},
		},
		{
			name:        "content missing",
			body:        `{"messages":[{"role":"user"}]}`,
			wantDetails: map[string]any{"messages.0.content": "is required"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &mockBackend{}
			gw := newTestGateway(t, backend, 6)
			h := NewChatHandler(gw.translator, zap.NewNop())

			w := postChat(h, tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeEnvelope(t, w)
			assert.Equal(t, "INVALID_REQUEST", resp.Error.Code)
			assert.Equal(t, "Invalid payload", resp.Error.Message)
			assert.Equal(t, tt.wantDetails, resp.Error.Details)
			assert.Zero(t, backend.chatCalls.Load())
		})
	}
}

// 守护进程超过 request_timeout 未响应：按上游故障处理为 502
func TestChatHandler_SlowDaemonIsBadGateway(t *testing.T) {
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(300 * time.Millisecond):
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"late"},"done":true}`))
	}))
	defer daemon.Close()

	client := ollama.NewClient(ollama.Config{
		BaseURL:        daemon.URL,
		ConnectTimeout: time.Second,
		RequestTimeout: 100 * time.Millisecond,
	}, zap.NewNop())
	limiter, err := ratelimit.New(ratelimit.Config{Rate: 0.001, Burst: 6, Shards: 1, MaxIdentities: 16})
	require.NoError(t, err)
	translator := session.NewTranslator(client, limiter, metrics.NewAggregator(16),
		session.Config{DefaultModel: "llama3", MaxTurnDuration: 5 * time.Second}, zap.NewNop())
	h := NewChatHandler(translator, zap.NewNop())

	for _, body := range []string{
		helloBody,
		`{"messages":[{"role":"user","content":"hi"}],"stream":true}`,
	} {
		w := postChat(h, body)

		assert.Equal(t, http.StatusBadGateway, w.Code, body)
		resp := decodeEnvelope(t, w)
		assert.Equal(t, "UPSTREAM_ERROR", resp.Error.Code)
		assert.True(t, resp.Error.Retryable)
	}
}

func TestChatHandler_EmptyMessagesRejectedBeforeAdmission(t *testing.T) {
	backend := &mockBackend{
		chatFunc: func(ctx context.Context, req *ollama.ChatRequest) (*ollama.ChatResponse, error) {
			return &ollama.ChatResponse{Response: "ok"}, nil
		},
	}
	gw := newTestGateway(t, backend, 1)
	h := NewChatHandler(gw.translator, zap.NewNop())

	for i := 0; i < 3; i++ {
		w := postChat(h, `{"messages":[]}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeEnvelope(t, w)
		assert.Equal(t, "INVALID_REQUEST", resp.Error.Code)
		assert.Equal(t, map[string]any{"messages": "messages must contain at least one item"}, resp.Error.Details)
	}
	assert.Zero(t, backend.chatCalls.Load())

	// 令牌未被消耗
	w := postChat(h, helloBody)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChatHandler_ValidationDetails(t *testing.T) {
	gw := newTestGateway(t, &mockBackend{}, 1)
	h := NewChatHandler(gw.translator, zap.NewNop())

	w := postChat(h, `{"messages":[{"role":"robot","content":"x"}],"temperature":3,"top_p":-0.5}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeEnvelope(t, w)
	details, ok := resp.Error.Details.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, details, "messages.0.role")
	assert.Contains(t, details, "temperature")
	assert.Contains(t, details, "top_p")
}

func TestChatHandler_RateLimited(t *testing.T) {
	backend := &mockBackend{
		chatFunc: func(ctx context.Context, req *ollama.ChatRequest) (*ollama.ChatResponse, error) {
			return &ollama.ChatResponse{Response: "ok"}, nil
		},
	}
	gw := newTestGateway(t, backend, 1)
	h := NewChatHandler(gw.translator, zap.NewNop())

	require.Equal(t, http.StatusOK, postChat(h, helloBody).Code)

	w := postChat(h, helloBody)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	resp := decodeEnvelope(t, w)
	assert.Equal(t, "RATE_LIMITED", resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
	assert.Equal(t, int32(1), backend.chatCalls.Load())
}

func TestChatHandler_BadRequests(t *testing.T) {
	gw := newTestGateway(t, &mockBackend{}, 6)
	h := NewChatHandler(gw.translator, zap.NewNop())

	tests := []struct {
		name        string
		body        string
		contentType string
		wantStatus  int
	}{
		{name: "invalid json", body: `{"messages":`, contentType: "application/json", wantStatus: http.StatusBadRequest},
		{name: "empty body", body: ``, contentType: "application/json", wantStatus: http.StatusBadRequest},
		{name: "wrong content type", body: helloBody, contentType: "text/plain", wantStatus: http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", tt.contentType)
			w := httptest.NewRecorder()
			h.HandleChat(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeEnvelope(t, w)
			assert.Equal(t, "INVALID_REQUEST", resp.Error.Code)
		})
	}
}

func TestChatHandler_RequestIDInEnvelope(t *testing.T) {
	gw := newTestGateway(t, &mockBackend{}, 6)
	h := NewChatHandler(gw.translator, zap.NewNop())

	r := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[]}`))
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-123")
	h.HandleChat(w, r)

	resp := decodeEnvelope(t, w)
	assert.Equal(t, "req-123", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
}
