package handlers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/chatgateway/internal/metrics"
	"github.com/BaSui01/chatgateway/internal/ollama"
	"github.com/BaSui01/chatgateway/internal/ratelimit"
	"github.com/BaSui01/chatgateway/internal/session"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 模拟后端
// =============================================================================

type mockBackend struct {
	listFunc   func(ctx context.Context) ([]ollama.Model, error)
	chatFunc   func(ctx context.Context, req *ollama.ChatRequest) (*ollama.ChatResponse, error)
	streamFunc func(ctx context.Context, req *ollama.ChatRequest) (<-chan ollama.StreamChunk, error)

	listCalls atomic.Int32
	chatCalls atomic.Int32
}

func (m *mockBackend) ListModels(ctx context.Context) ([]ollama.Model, error) {
	m.listCalls.Add(1)
	if m.listFunc != nil {
		return m.listFunc(ctx)
	}
	return nil, errors.New("not implemented")
}

func (m *mockBackend) Chat(ctx context.Context, req *ollama.ChatRequest) (*ollama.ChatResponse, error) {
	m.chatCalls.Add(1)
	if m.chatFunc != nil {
		return m.chatFunc(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockBackend) StreamChat(ctx context.Context, req *ollama.ChatRequest) (<-chan ollama.StreamChunk, error) {
	m.chatCalls.Add(1)
	if m.streamFunc != nil {
		return m.streamFunc(ctx, req)
	}
	return nil, errors.New("not implemented")
}

// streamOf replays chunks on a channel that honours ctx.
func streamOf(chunks ...ollama.ChatResponse) func(ctx context.Context, req *ollama.ChatRequest) (<-chan ollama.StreamChunk, error) {
	return func(ctx context.Context, req *ollama.ChatRequest) (<-chan ollama.StreamChunk, error) {
		ch := make(chan ollama.StreamChunk)
		go func() {
			defer close(ch)
			for _, c := range chunks {
				select {
				case <-ctx.Done():
					return
				case ch <- ollama.StreamChunk{ChatResponse: c}:
				}
			}
		}()
		return ch, nil
	}
}

func helloStream() func(ctx context.Context, req *ollama.ChatRequest) (<-chan ollama.StreamChunk, error) {
	return streamOf(
		ollama.ChatResponse{Message: &ollama.Message{Role: "assistant", Content: "hel"}},
		ollama.ChatResponse{Message: &ollama.Message{Role: "assistant", Content: "lo"}},
		ollama.ChatResponse{Done: true, PromptEvalCount: 5, EvalCount: 2},
	)
}

type testGateway struct {
	backend    *mockBackend
	aggregator *metrics.Aggregator
	translator *session.Translator
}

// newTestGateway wires a real limiter, aggregator and translator around the
// mock backend. burst bounds how many turns the single test client may start.
func newTestGateway(t *testing.T, backend *mockBackend, burst int) *testGateway {
	t.Helper()
	limiter, err := ratelimit.New(ratelimit.Config{Rate: 0.001, Burst: burst, Shards: 1, MaxIdentities: 16})
	require.NoError(t, err)

	aggregator := metrics.NewAggregator(16)
	translator := session.NewTranslator(backend, limiter, aggregator,
		session.Config{DefaultModel: "llama3", MaxTurnDuration: 5 * time.Second}, zap.NewNop())

	return &testGateway{
		backend:    backend,
		aggregator: aggregator,
		translator: translator,
	}
}
