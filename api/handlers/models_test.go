package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/chatgateway/internal/cache"
	"github.com/BaSui01/chatgateway/internal/ollama"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingCacheObserver struct {
	hits, misses int
}

func (o *countingCacheObserver) RecordCacheHit(string)  { o.hits++ }
func (o *countingCacheObserver) RecordCacheMiss(string) { o.misses++ }

func installedModels(ctx context.Context) ([]ollama.Model, error) {
	size := int64(4661224676)
	return []ollama.Model{
		{Name: "llama3:latest", Size: &size},
		{Model: "phi3:mini"},
		{},
	}, nil
}

func getModels(h *ModelsHandler) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	r.RemoteAddr = "192.0.2.20:4000"
	w := httptest.NewRecorder()
	h.HandleList(w, r)
	return w
}

func TestModelsHandler_List(t *testing.T) {
	gw := newTestGateway(t, &mockBackend{listFunc: installedModels}, 6)
	h := NewModelsHandler(gw.translator, nil, time.Minute, nil, zap.NewNop())

	w := getModels(h)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"models":[
		{"name":"llama3:latest","modified_at":null,"size":4661224676,"digest":null},
		{"name":"phi3:mini","modified_at":null,"size":null,"digest":null}
	]}`, w.Body.String())
}

func TestModelsHandler_EmptyList(t *testing.T) {
	backend := &mockBackend{listFunc: func(ctx context.Context) ([]ollama.Model, error) { return nil, nil }}
	gw := newTestGateway(t, backend, 6)
	h := NewModelsHandler(gw.translator, nil, time.Minute, nil, zap.NewNop())

	w := getModels(h)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"models":[]}`, w.Body.String())
}

func TestModelsHandler_UpstreamFailure(t *testing.T) {
	backend := &mockBackend{listFunc: func(ctx context.Context) ([]ollama.Model, error) {
		return nil, &ollama.ServiceError{StatusCode: http.StatusBadGateway, Message: "Unable to reach Ollama: connection refused"}
	}}
	gw := newTestGateway(t, backend, 6)
	h := NewModelsHandler(gw.translator, nil, time.Minute, nil, zap.NewNop())

	w := getModels(h)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	resp := decodeEnvelope(t, w)
	assert.Equal(t, "UPSTREAM_ERROR", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "Unable to reach Ollama")
}

func TestModelsHandler_RateLimited(t *testing.T) {
	backend := &mockBackend{listFunc: installedModels}
	gw := newTestGateway(t, backend, 1)
	h := NewModelsHandler(gw.translator, nil, time.Minute, nil, zap.NewNop())

	require.Equal(t, http.StatusOK, getModels(h).Code)

	w := getModels(h)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, int32(1), backend.listCalls.Load())
}

func TestModelsHandler_Cache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := cache.DefaultConfig()
	cfg.Enabled = true
	cfg.Addr = mr.Addr()

	manager, err := cache.NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	backend := &mockBackend{listFunc: installedModels}
	gw := newTestGateway(t, backend, 6)
	observer := &countingCacheObserver{}
	h := NewModelsHandler(gw.translator, manager, 30*time.Second, observer, zap.NewNop())

	first := getModels(h)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, int32(1), backend.listCalls.Load())
	assert.True(t, mr.Exists("chatgateway:models"))

	second := getModels(h)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, int32(1), backend.listCalls.Load(), "second call is served from cache")
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, observer.hits)
	assert.Equal(t, 1, observer.misses)

	mr.FastForward(31 * time.Second)
	require.Equal(t, http.StatusOK, getModels(h).Code)
	assert.Equal(t, int32(2), backend.listCalls.Load())
}

func TestModelsHandler_CacheReadFailureFallsBack(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := cache.DefaultConfig()
	cfg.Addr = mr.Addr()

	manager, err := cache.NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	require.NoError(t, mr.Set("chatgateway:models", "not json"))

	backend := &mockBackend{listFunc: installedModels}
	gw := newTestGateway(t, backend, 6)
	h := NewModelsHandler(gw.translator, manager, time.Minute, nil, zap.NewNop())

	w := getModels(h)

	require.Equal(t, http.StatusOK, w.Code)
	var list map[string][]map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list["models"], 2)
	assert.Equal(t, int32(1), backend.listCalls.Load())
}
