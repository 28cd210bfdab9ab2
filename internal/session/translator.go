package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/chatgateway/internal/ollama"
	"github.com/BaSui01/chatgateway/internal/ratelimit"
	"github.com/BaSui01/chatgateway/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// =============================================================================
// 🔁 对话轮次翻译器
// =============================================================================

// Transport names used for metrics and tracing.
const (
	TransportHTTP = "http"
	TransportSSE  = "sse"
	TransportWS   = "ws"
)

// Turn outcomes reported to the Observer.
const (
	OutcomeDone      = "done"
	OutcomeTruncated = "truncated"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

// Config 翻译器配置
type Config struct {
	// 请求未指定模型时使用
	DefaultModel string `yaml:"default_model" json:"default_model"`

	// 单轮对话最长持续时间
	MaxTurnDuration time.Duration `yaml:"max_turn_duration" json:"max_turn_duration"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		DefaultModel:    "llama3",
		MaxTurnDuration: 5 * time.Minute,
	}
}

// Backend is the inference daemon the translator relays to.
type Backend interface {
	ListModels(ctx context.Context) ([]ollama.Model, error)
	Chat(ctx context.Context, req *ollama.ChatRequest) (*ollama.ChatResponse, error)
	StreamChat(ctx context.Context, req *ollama.ChatRequest) (<-chan ollama.StreamChunk, error)
}

// Admitter decides whether an identity may start a turn.
type Admitter interface {
	Decide(identity string) ratelimit.Decision
}

// Recorder stores one completed-turn sample.
type Recorder interface {
	Record(latencyMs float64, promptTokens, completionTokens int)
}

// Observer receives per-turn telemetry. *metrics.Collector implements it.
type Observer interface {
	RecordChatTurn(transport, model, outcome string, duration time.Duration, promptTokens, completionTokens int)
	RecordAdmission(allowed bool)
}

type nopObserver struct{}

func (nopObserver) RecordChatTurn(string, string, string, time.Duration, int, int) {}
func (nopObserver) RecordAdmission(bool)                                            {}

// DeniedError is the cause attached to a RATE_LIMITED error.
type DeniedError struct {
	RetryAfter time.Duration
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// Request is one chat turn.
type Request struct {
	Identity  string
	Transport string
	Model     string
	Messages  []ollama.Message
	Options   *ollama.Options
}

// Result is the outcome of a non-streaming turn.
type Result struct {
	ID        string `json:"id"`
	Model     string `json:"model"`
	Content   string `json:"content"`
	Usage     Usage  `json:"usage"`
	LatencyMs int64  `json:"latency_ms"`
}

// Option 翻译器选项
type Option func(*Translator)

// WithObserver 设置轮次观察者
func WithObserver(o Observer) Option {
	return func(t *Translator) {
		if o != nil {
			t.observer = o
		}
	}
}

// WithClock 替换计时用的时钟
func WithClock(now func() time.Time) Option {
	return func(t *Translator) {
		if now != nil {
			t.now = now
		}
	}
}

// Translator turns backend chunks into the client event protocol. It is
// transport-agnostic and safe for concurrent use.
type Translator struct {
	backend  Backend
	limiter  Admitter
	samples  Recorder
	observer Observer
	cfg      Config
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewTranslator 创建翻译器
func NewTranslator(backend Backend, limiter Admitter, samples Recorder, cfg Config, logger *zap.Logger, opts ...Option) *Translator {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaults.DefaultModel
	}
	if cfg.MaxTurnDuration <= 0 {
		cfg.MaxTurnDuration = defaults.MaxTurnDuration
	}

	t := &Translator{
		backend:  backend,
		limiter:  limiter,
		samples:  samples,
		observer: nopObserver{},
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "session")),
		tracer:   otel.Tracer("github.com/BaSui01/chatgateway/internal/session"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// DefaultModel returns the model used when a request names none.
func (t *Translator) DefaultModel() string {
	return t.cfg.DefaultModel
}

// Admit consumes one token for identity, or returns a RATE_LIMITED error.
func (t *Translator) Admit(identity string) error {
	decision := t.limiter.Decide(identity)
	t.observer.RecordAdmission(decision.Allowed)
	if decision.Allowed {
		return nil
	}
	return types.NewError(types.ErrRateLimited, "Rate limit exceeded").
		WithCause(&DeniedError{RetryAfter: decision.RetryAfter}).
		WithRetryable(true)
}

// ListModels 透传模型列表
func (t *Translator) ListModels(ctx context.Context) ([]ollama.Model, error) {
	models, err := t.backend.ListModels(ctx)
	if err != nil {
		return nil, mapBackendError(err)
	}
	return models, nil
}

// Stream admits the request and starts a streaming turn. Validation,
// admission and backend connection failures are returned as errors; once the
// channel is returned every outcome arrives as an event and the channel is
// closed after the terminal event. If ctx is cancelled the channel is closed
// without a terminal event. Callers must drain the channel or cancel ctx.
func (t *Translator) Stream(ctx context.Context, req *Request) (<-chan Event, error) {
	if len(req.Messages) == 0 {
		return nil, errEmptyMessages()
	}
	if err := t.Admit(req.Identity); err != nil {
		return nil, err
	}

	model := t.model(req.Model)
	transport := transportOf(req)
	start := t.now()

	turnCtx, cancel := context.WithTimeout(ctx, t.cfg.MaxTurnDuration)
	turnCtx, span := t.startSpan(turnCtx, transport, model, true)

	chunks, err := t.backend.StreamChat(turnCtx, t.chatRequest(req, model))
	if err != nil {
		mapped := mapBackendError(err)
		t.observer.RecordChatTurn(transport, model, OutcomeError, t.now().Sub(start), 0, 0)
		endSpan(span, mapped)
		cancel()
		return nil, mapped
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer cancel()
		t.run(ctx, turnCtx, span, chunks, events, transport, model, start)
	}()
	return events, nil
}

func (t *Translator) run(ctx, turnCtx context.Context, span trace.Span, chunks <-chan ollama.StreamChunk, events chan<- Event, transport, model string, start time.Time) {
	var content strings.Builder

	emit := func(ev Event) bool {
		select {
		case <-ctx.Done():
			return false
		case events <- ev:
			return true
		}
	}
	fail := func(message, code, outcome string) {
		t.observer.RecordChatTurn(transport, model, outcome, t.now().Sub(start), 0, 0)
		span.SetStatus(codes.Error, message)
		span.End()
		emit(errorEvent(message, code))
	}

	for chunk := range chunks {
		if chunk.Err != nil {
			if t.interrupted(ctx, turnCtx, span, transport, model, start, fail) {
				return
			}
			t.logger.Warn("backend stream failed", zap.String("model", model), zap.Error(chunk.Err))
			fail(chunk.Err.Error(), string(types.ErrStreamFailed), OutcomeError)
			return
		}
		if msg := chunk.ErrorMessage(); msg != "" {
			t.logger.Warn("backend reported error mid-stream", zap.String("model", model), zap.String("error", msg))
			fail(msg, string(types.ErrUpstreamError), OutcomeError)
			return
		}

		if token := chunk.Token(); token != "" {
			content.WriteString(token)
			if !emit(tokenEvent(token)) {
				t.observer.RecordChatTurn(transport, model, OutcomeCancelled, t.now().Sub(start), 0, 0)
				span.End()
				return
			}
		}

		if chunk.Done {
			emit(t.complete(span, transport, model, OutcomeDone, start, content.String(), newUsage(chunk.PromptEvalCount, chunk.EvalCount)))
			return
		}
	}

	if t.interrupted(ctx, turnCtx, span, transport, model, start, fail) {
		return
	}

	// Stream ended without done: report what arrived.
	t.logger.Debug("backend stream ended without done", zap.String("model", model))
	emit(t.complete(span, transport, model, OutcomeTruncated, start, content.String(), Usage{}))
}

// interrupted handles a turn whose context ended, reporting true if so.
func (t *Translator) interrupted(ctx, turnCtx context.Context, span trace.Span, transport, model string, start time.Time, fail func(message, code, outcome string)) bool {
	if ctx.Err() != nil {
		t.observer.RecordChatTurn(transport, model, OutcomeCancelled, t.now().Sub(start), 0, 0)
		span.End()
		return true
	}
	if errors.Is(turnCtx.Err(), context.DeadlineExceeded) {
		t.logger.Warn("chat turn timed out", zap.String("model", model), zap.Duration("max", t.cfg.MaxTurnDuration))
		fail(fmt.Sprintf("Chat turn exceeded maximum duration of %s", t.cfg.MaxTurnDuration), string(types.ErrTimeout), OutcomeTimeout)
		return true
	}
	return false
}

// complete records the sample and builds the done event.
func (t *Translator) complete(span trace.Span, transport, model, outcome string, start time.Time, content string, usage Usage) Event {
	elapsed := t.now().Sub(start)
	t.samples.Record(latencyMs(elapsed), usage.PromptTokens, usage.CompletionTokens)
	t.observer.RecordChatTurn(transport, model, outcome, elapsed, usage.PromptTokens, usage.CompletionTokens)

	span.SetAttributes(
		attribute.Int("chat.usage.prompt_tokens", usage.PromptTokens),
		attribute.Int("chat.usage.completion_tokens", usage.CompletionTokens),
		attribute.String("chat.outcome", outcome),
	)
	span.End()

	return doneEvent(content, usage, elapsed.Milliseconds())
}

// Complete runs a non-streaming turn: one blocking backend call.
func (t *Translator) Complete(ctx context.Context, req *Request) (*Result, error) {
	if len(req.Messages) == 0 {
		return nil, errEmptyMessages()
	}
	if err := t.Admit(req.Identity); err != nil {
		return nil, err
	}

	model := t.model(req.Model)
	transport := transportOf(req)
	start := t.now()

	turnCtx, cancel := context.WithTimeout(ctx, t.cfg.MaxTurnDuration)
	defer cancel()
	turnCtx, span := t.startSpan(turnCtx, transport, model, false)

	resp, err := t.backend.Chat(turnCtx, t.chatRequest(req, model))
	if err == nil {
		if msg := resp.ErrorMessage(); msg != "" {
			err = &ollama.ServiceError{StatusCode: http.StatusBadGateway, Message: msg}
		}
	}
	if err != nil {
		mapped := mapBackendError(err)
		t.observer.RecordChatTurn(transport, model, OutcomeError, t.now().Sub(start), 0, 0)
		endSpan(span, mapped)
		return nil, mapped
	}

	usage := newUsage(resp.PromptEvalCount, resp.EvalCount)
	elapsed := t.now().Sub(start)
	t.samples.Record(latencyMs(elapsed), usage.PromptTokens, usage.CompletionTokens)
	t.observer.RecordChatTurn(transport, model, OutcomeDone, elapsed, usage.PromptTokens, usage.CompletionTokens)
	endSpan(span, nil)

	result := &Result{
		ID:        resp.ID,
		Model:     resp.Model,
		Content:   resp.Content(),
		Usage:     usage,
		LatencyMs: elapsed.Milliseconds(),
	}
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.Model == "" {
		result.Model = model
	}
	return result, nil
}

func (t *Translator) model(requested string) string {
	if requested != "" {
		return requested
	}
	return t.cfg.DefaultModel
}

func (t *Translator) chatRequest(req *Request, model string) *ollama.ChatRequest {
	return &ollama.ChatRequest{
		Model:    model,
		Messages: req.Messages,
		Options:  req.Options,
	}
}

func (t *Translator) startSpan(ctx context.Context, transport, model string, stream bool) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "chat.turn",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("chat.transport", transport),
			attribute.String("chat.model", model),
			attribute.Bool("chat.stream", stream),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func transportOf(req *Request) string {
	if req.Transport == "" {
		return TransportHTTP
	}
	return req.Transport
}

func latencyMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func errEmptyMessages() *types.Error {
	return types.NewError(types.ErrInvalidRequest, "messages must contain at least one item")
}

// mapBackendError converts a backend failure to the gateway error taxonomy.
func mapBackendError(err error) *types.Error {
	// 超时与不可达同属上游故障，统一 502；TIMEOUT 只用于流中的轮次超时事件
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrUpstreamError, "Ollama did not respond in time").
			WithCause(err).
			WithRetryable(true)
	}

	if se, ok := ollama.AsServiceError(err); ok {
		if se.StatusCode >= 400 && se.StatusCode < 500 {
			return types.NewError(types.ErrUpstreamRejected, se.Message).
				WithHTTPStatus(se.StatusCode).
				WithCause(err)
		}
		return types.NewError(types.ErrUpstreamError, se.Message).
			WithCause(err).
			WithRetryable(true)
	}

	if errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrServiceUnavailable, "request cancelled").WithCause(err)
	}
	return types.NewError(types.ErrInternalError, "internal error").WithCause(err)
}
