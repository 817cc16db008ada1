// Package providers is a uniform complete/stream/supports_tools surface
// over heterogeneous LLM back-ends, hiding provider-specific OAuth
// refresh, message-shape translation, and SSE parsing from the Agent Loop.
package providers

import (
	"context"
	"encoding/json"
)

// ToolCall is `{id, name, arguments}`. Arguments is the
// decoded structured value; RawArguments keeps the provider's own encoding
// (JSON string for most chat-completions-style APIs) for re-serialization.
type ToolCall struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	RawArguments string         `json:"-"`
}

// Usage is the token accounting attached to a CompletionResponse.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Message is the polymorphic wire/history record shared by every provider.
type Message struct {
	Role         string     `json:"role"`
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID   string     `json:"tool_call_id,omitempty"`
	Model        string     `json:"model,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	InputTokens  int        `json:"inputTokens,omitempty"`
	OutputTokens int        `json:"outputTokens,omitempty"`
}

// CompletionResponse is `{text?, tool_calls, usage}`.
type CompletionResponse struct {
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// StreamEventKind discriminates StreamEvent's closed sum.
type StreamEventKind int

const (
	StreamDelta StreamEventKind = iota
	StreamDone
	StreamError
)

// StreamEvent is the tagged variant `{Delta(string) | Done(Usage) | Error(string)}`
// finite, non-restartable.
type StreamEvent struct {
	Kind  StreamEventKind
	Delta string
	Usage Usage
	Err   string
}

// ToolFunctionDefinition is the JSON-Schema-shaped parameter description
// forwarded to providers that support native tool calling.
type ToolFunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolDefinition wraps a ToolFunctionDefinition the way OpenAI-shaped APIs
// expect tool schemas to be framed.
type ToolDefinition struct {
	Type     string                 `json:"type"`
	Function ToolFunctionDefinition `json:"function"`
}

// FailoverReason classifies why a completion call is being retried, so the
// caller's backoff/notify logic can treat rate limits differently from
// plain server errors or timeouts.
type FailoverReason string

const (
	FailoverNone      FailoverReason = ""
	FailoverTimeout   FailoverReason = "timeout"
	FailoverServerErr FailoverReason = "server_error"
	FailoverRateLimit FailoverReason = "rate_limit"
)

// LLMProvider is the capability set every back-end must implement.
type LLMProvider interface {
	Name() string
	ID() string
	SupportsTools() bool
	Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*CompletionResponse, error)
	Stream(ctx context.Context, messages []Message) (<-chan StreamEvent, error)
}

// marshalArguments re-serializes a ToolCall's Arguments to the JSON string
// form most chat-completions-style wire formats expect.
func marshalArguments(args map[string]any) string {
	if args == nil {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}
