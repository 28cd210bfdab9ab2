package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/chatgateway/internal/tlsutil"
	"go.uber.org/zap"
)

// =============================================================================
// 🦙 Ollama HTTP 客户端
// =============================================================================

// Config 客户端配置
type Config struct {
	// 守护进程地址
	BaseURL string `yaml:"base_url" json:"base_url"`

	// 建立 TCP 连接超时
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`

	// 等待响应头的超时；非流式请求同时作为整体超时
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// DefaultConfig 返回默认客户端配置
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:11434",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 120 * time.Second,
	}
}

// Client talks to an Ollama daemon over its HTTP API.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  *zap.Logger
}

// NewClient 创建 Ollama 客户端
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}

	// No http.Client.Timeout: it would also cap how long a stream may run.
	transport := tlsutil.DaemonTransport(cfg.ConnectTimeout, cfg.RequestTimeout)

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.RequestTimeout,
		http:    &http.Client{Transport: transport},
		logger:  logger.With(zap.String("component", "ollama")),
	}
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + path
}

// ListModels returns the models installed on the daemon.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/tags"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, unreachable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, statusError(resp)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, &ServiceError{
			StatusCode: http.StatusBadGateway,
			Message:    "Ollama returned an unreadable model list",
			Cause:      err,
		}
	}
	return tags.Models, nil
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}

// Chat performs a single-shot chat call.
func (c *Client) Chat(ctx context.Context, chatReq *ChatRequest) (*ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := *chatReq
	body.Stream = false

	resp, err := c.post(ctx, &body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &ServiceError{
			StatusCode: http.StatusBadGateway,
			Message:    "Ollama returned an unreadable chat response",
			Cause:      err,
		}
	}
	return &out, nil
}

// StreamChat starts a streaming chat call. Connection failures and non-2xx
// statuses are returned directly; once the channel is returned every later
// failure arrives as a StreamChunk with Err set. The channel is closed when
// the stream ends or ctx is cancelled.
func (c *Client) StreamChat(ctx context.Context, chatReq *ChatRequest) (<-chan StreamChunk, error) {
	body := *chatReq
	body.Stream = true

	resp, err := c.post(ctx, &body)
	if err != nil {
		return nil, err
	}
	return c.readStream(ctx, resp.Body), nil
}

func (c *Client) post(ctx context.Context, body *ChatRequest) (*http.Response, error) {
	if body.Options.IsZero() {
		body.Options = nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/chat"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, unreachable(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

// readStream decodes the NDJSON body line by line.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser) <-chan StreamChunk {
	ch := make(chan StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)

		reader := bufio.NewReader(body)
		for {
			line, readErr := reader.ReadBytes('\n')
			if chunk, ok := c.decodeLine(line); ok {
				select {
				case <-ctx.Done():
					return
				case ch <- StreamChunk{ChatResponse: chunk}:
				}
			}

			if readErr == nil {
				continue
			}
			if errors.Is(readErr, io.EOF) || ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
			case ch <- StreamChunk{Err: &ServiceError{
				StatusCode: http.StatusBadGateway,
				Message:    fmt.Sprintf("Ollama stream interrupted: %v", readErr),
				Cause:      readErr,
			}}:
			}
			return
		}
	}()
	return ch
}

func (c *Client) decodeLine(line []byte) (ChatResponse, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return ChatResponse{}, false
	}
	var chunk ChatResponse
	if err := json.Unmarshal(line, &chunk); err != nil {
		c.logger.Debug("skipping undecodable stream line", zap.Error(err))
		return ChatResponse{}, false
	}
	return chunk, true
}
