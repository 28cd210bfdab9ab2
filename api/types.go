package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/chatgateway/internal/ollama"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// =============================================================================
// 聊天请求类型
// =============================================================================

// 允许的消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 代表一条带角色的对话消息。
// @Description 对话消息结构
type Message struct {
	// 角色（system、user、assistant）
	Role string `json:"role" example:"user"`
	// 消息内容
	Content string `json:"content" example:"Hello"`

	// 解码时 content 缺失或为 null
	contentMissing bool
}

// UnmarshalJSON records whether content was present; an empty string is a
// valid content, a missing one is not.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string  `json:"role"`
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message{Role: raw.Role, contentMissing: raw.Content == nil}
	if raw.Content != nil {
		m.Content = *raw.Content
	}
	return nil
}

// Validate 校验单条消息
func (m Message) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Role,
			validation.Required,
			validation.In(RoleSystem, RoleUser, RoleAssistant).Error("must be one of system, user, assistant"),
		),
		validation.Field(&m.Content, validation.When(m.contentMissing, validation.Required.Error("is required"))),
	)
}

// ChatRequest 代表聊天请求。
// @Description 聊天请求结构
type ChatRequest struct {
	// 模型名称，为空时使用默认模型
	Model string `json:"model,omitempty" example:"llama3"`
	// 对话消息，至少一条
	Messages []Message `json:"messages"`
	// 是否以 SSE 流式返回
	Stream bool `json:"stream,omitempty"`
	// 采样温度（0-2）
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// 核采样参数（0-1）
	TopP *float64 `json:"top_p,omitempty" example:"0.9"`
	// 随机种子（>= 0）
	Seed *int `json:"seed,omitempty" example:"42"`
}

// Validate 校验聊天请求
func (r ChatRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Messages, validation.Required.Error("messages must contain at least one item")),
		validation.Field(&r.Temperature, validation.Min(0.0), validation.Max(2.0)),
		validation.Field(&r.TopP, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&r.Seed, validation.Min(0)),
	)
}

// Options returns the generation options, or nil when none is set.
func (r *ChatRequest) Options() *ollama.Options {
	opts := &ollama.Options{
		Temperature: r.Temperature,
		TopP:        r.TopP,
		Seed:        r.Seed,
	}
	if opts.IsZero() {
		return nil
	}
	return opts
}

// BackendMessages 转换为后端消息格式
func (r *ChatRequest) BackendMessages() []ollama.Message {
	out := make([]ollama.Message, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// TurnParams 是 WebSocket 轮次中可选的参数覆盖。
type TurnParams struct {
	Model       *string  `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Seed        *int     `json:"seed,omitempty"`
}

// TurnMessage 是 /ws/chat 上的一条入站消息。
// @Description WebSocket 轮次消息
type TurnMessage struct {
	Model       string      `json:"model,omitempty"`
	Messages    []Message   `json:"messages"`
	Temperature *float64    `json:"temperature,omitempty"`
	TopP        *float64    `json:"top_p,omitempty"`
	Seed        *int        `json:"seed,omitempty"`
	Params      *TurnParams `json:"params,omitempty"`
}

// Resolve merges params over the top-level fields. A param that is absent or
// null falls back to the top-level value.
func (m *TurnMessage) Resolve() ChatRequest {
	req := ChatRequest{
		Model:       m.Model,
		Messages:    m.Messages,
		Stream:      true,
		Temperature: m.Temperature,
		TopP:        m.TopP,
		Seed:        m.Seed,
	}
	if p := m.Params; p != nil {
		if p.Model != nil {
			req.Model = *p.Model
		}
		if p.Temperature != nil {
			req.Temperature = p.Temperature
		}
		if p.TopP != nil {
			req.TopP = p.TopP
		}
		if p.Seed != nil {
			req.Seed = p.Seed
		}
	}
	return req
}

// =============================================================================
// 响应类型
// =============================================================================

// Usage 表示 Token 使用情况。
// @Description Token 使用统计
type Usage struct {
	PromptTokens     int `json:"prompt_tokens" example:"5"`
	CompletionTokens int `json:"completion_tokens" example:"2"`
	TotalTokens      int `json:"total_tokens" example:"7"`
}

// ChatResponse 表示非流式聊天响应。
// @Description 聊天响应结构
type ChatResponse struct {
	ID        string `json:"id" example:"3f1c9a52-0c1e-4a57-9d43-7f7d2f0b8a10"`
	Model     string `json:"model" example:"llama3"`
	Content   string `json:"content" example:"hello"`
	Usage     Usage  `json:"usage"`
	LatencyMs int64  `json:"latency_ms" example:"812"`
}

// ModelInfo 表示一个可用模型。
// @Description 模型信息
type ModelInfo struct {
	Name       string     `json:"name" example:"llama3:latest"`
	ModifiedAt *time.Time `json:"modified_at"`
	Size       *int64     `json:"size"`
	Digest     *string    `json:"digest"`
}

// ModelListResponse 表示模型列表响应。
// @Description 模型列表
type ModelListResponse struct {
	Models []ModelInfo `json:"models"`
}

// NewModelList builds the listing from backend entries. An entry without a
// name falls back to its model field; entries with neither are dropped.
func NewModelList(models []ollama.Model) ModelListResponse {
	out := ModelListResponse{Models: make([]ModelInfo, 0, len(models))}
	for _, m := range models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name == "" {
			continue
		}
		out.Models = append(out.Models, ModelInfo{
			Name:       name,
			ModifiedAt: m.ModifiedAt,
			Size:       m.Size,
			Digest:     m.Digest,
		})
	}
	return out
}

// HealthResponse 表示存活探针响应。
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

// =============================================================================
// 校验错误转换
// =============================================================================

// FieldErrors flattens ozzo-validation errors into a path → message map,
// e.g. "messages.0.role". It returns nil for errors of any other kind.
func FieldErrors(err error) map[string]string {
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string)
	flatten("", verrs, out)
	return out
}

// DecodeErrorDetails maps a JSON type mismatch to a field error, for example
// {"messages": "must not be a JSON string"}. Other decode errors return nil.
func DecodeErrorDetails(err error) map[string]string {
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) {
		return nil
	}
	field := typeErr.Field
	if field == "" {
		field = "payload"
	}
	return map[string]string{field: fmt.Sprintf("must not be a JSON %s", typeErr.Value)}
}

func flatten(prefix string, verrs validation.Errors, out map[string]string) {
	keys := make([]string, 0, len(verrs))
	for k := range verrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fieldErr := verrs[k]
		if fieldErr == nil {
			continue
		}
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		var nested validation.Errors
		if errors.As(fieldErr, &nested) {
			flatten(path, nested, out)
			continue
		}
		out[path] = strings.TrimSpace(fieldErr.Error())
	}
}
