package session

import (
	"encoding/json"
	"fmt"
)

// EventType 事件类型
type EventType string

const (
	EventToken EventType = "token"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Usage Token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func newUsage(prompt, completion int) Usage {
	if prompt < 0 {
		prompt = 0
	}
	if completion < 0 {
		completion = 0
	}
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// Event is one item of a turn's event stream. Exactly one of the terminal
// types (done, error) ends every turn that reaches the client.
type Event struct {
	Type EventType

	// token
	Token string

	// done
	Content   string
	Usage     Usage
	LatencyMs int64

	// error
	Message string
	Code    string
	Details any
}

// Terminal reports whether the event ends the turn.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

func tokenEvent(text string) Event {
	return Event{Type: EventToken, Token: text}
}

func doneEvent(content string, usage Usage, latencyMs int64) Event {
	return Event{Type: EventDone, Content: content, Usage: usage, LatencyMs: latencyMs}
}

func errorEvent(message, code string) Event {
	return Event{Type: EventError, Message: message, Code: code}
}

// ErrorEvent builds a standalone error event, used by transports for
// failures that happen outside a turn.
func ErrorEvent(message string, details any) Event {
	return Event{Type: EventError, Message: message, Details: details}
}

type tokenWire struct {
	Type  EventType `json:"type"`
	Token string    `json:"token"`
}

type doneWire struct {
	Type      EventType `json:"type"`
	Content   string    `json:"content"`
	Usage     Usage     `json:"usage"`
	LatencyMs int64     `json:"latency_ms"`
}

type errorWire struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	Code    string    `json:"code,omitempty"`
}

// MarshalJSON 按事件类型输出对应的线上格式
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventToken:
		return json.Marshal(tokenWire{Type: e.Type, Token: e.Token})
	case EventDone:
		return json.Marshal(doneWire{Type: e.Type, Content: e.Content, Usage: e.Usage, LatencyMs: e.LatencyMs})
	case EventError:
		return json.Marshal(errorWire{Type: e.Type, Message: e.Message, Details: e.Details, Code: e.Code})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}
