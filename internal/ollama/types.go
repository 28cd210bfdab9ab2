package ollama

import (
	"bytes"
	"encoding/json"
	"time"
)

// Message is one role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are the generation parameters forwarded to the daemon. Nil fields
// are omitted from the request.
type Options struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Seed        *int     `json:"seed,omitempty"`
}

// IsZero reports whether no option is set.
func (o *Options) IsZero() bool {
	return o == nil || (o.Temperature == nil && o.TopP == nil && o.Seed == nil)
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  *Options  `json:"options,omitempty"`
}

// ChatResponse is both the single-shot reply and one NDJSON stream chunk.
type ChatResponse struct {
	ID              string          `json:"id,omitempty"`
	Model           string          `json:"model,omitempty"`
	Message         *Message        `json:"message,omitempty"`
	Response        string          `json:"response,omitempty"`
	Done            bool            `json:"done"`
	PromptEvalCount int             `json:"prompt_eval_count,omitempty"`
	EvalCount       int             `json:"eval_count,omitempty"`
	Error           json.RawMessage `json:"error,omitempty"`
}

// Token returns the incremental text of a stream chunk, preferring the
// generate-style "response" field over message.content.
func (r *ChatResponse) Token() string {
	if r.Response != "" {
		return r.Response
	}
	if r.Message != nil {
		return r.Message.Content
	}
	return ""
}

// Content returns the text of a single-shot reply, preferring message.content.
func (r *ChatResponse) Content() string {
	if r.Message != nil && r.Message.Content != "" {
		return r.Message.Content
	}
	return r.Response
}

// ErrorMessage returns the in-band error reported by the daemon, or "" if none.
func (r *ChatResponse) ErrorMessage() string {
	raw := bytes.TrimSpace(r.Error)
	switch string(raw) {
	case "", "null", `""`, "false":
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// StreamChunk is one item of a streaming reply. Err is set when the stream
// broke off at the transport level; no further chunks follow it.
type StreamChunk struct {
	ChatResponse
	Err error
}

// Model is one entry of GET /api/tags.
type Model struct {
	Name       string     `json:"name"`
	Model      string     `json:"model,omitempty"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
	Size       *int64     `json:"size,omitempty"`
	Digest     *string    `json:"digest,omitempty"`
}

type tagsResponse struct {
	Models []Model `json:"models"`
}
