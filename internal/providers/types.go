package providers

import (
	"context"
	"time"
)

// Provider is the interface all LLM providers must implement.
type Provider interface {
	// Chat sends messages to the LLM and returns a response. Transport
	// failures are absorbed into an error-shaped response (FinishReason
	// "error"); a non-nil error is reserved for context cancellation.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "openai", "openrouter").
	Name() string
}

// ChatRequest contains the input for a Chat call.
type ChatRequest struct {
	Messages       []Message        `json:"messages"`
	Tools          []ToolDefinition `json:"tools,omitempty"`
	Model          string           `json:"model,omitempty"` // overrides the provider default
	MaxTokens      int              `json:"max_tokens,omitempty"`
	Temperature    float64          `json:"temperature,omitempty"`
	Effort         string           `json:"effort,omitempty"`          // reasoning effort for o-series style models
	Thinking       bool             `json:"thinking,omitempty"`        // enable extended thinking where supported
	ThinkingBudget int              `json:"thinking_budget,omitempty"` // token budget when Thinking is set
}

// ChatResponse is the result from an LLM call.
type ChatResponse struct {
	Content          string     `json:"content"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	FinishReason     string     `json:"finish_reason"` // "stop", "tool_calls", "length", "error"
	Usage            *Usage     `json:"usage,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
}

// HasToolCalls reports whether the model requested tool invocations.
func (r *ChatResponse) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// ImageContent represents a base64-encoded image for vision-capable models.
type ImageContent struct {
	MimeType string `json:"mime_type"` // e.g. "image/jpeg"
	Data     string `json:"data"`      // base64-encoded image bytes
}

// ContentPart is one block of a multi-part user message. The wire format is
// the OpenAI content-array form; Text is set for "text" parts, Image for
// "image_url" parts.
type ContentPart struct {
	Type  string        `json:"type"` // "text" or "image_url"
	Text  string        `json:"text,omitempty"`
	Image *ImageContent `json:"image,omitempty"`
}

// Message is both the session record and the LLM wire record.
type Message struct {
	Role             string        `json:"role"` // "system", "user", "assistant", "tool"
	Content          string        `json:"content"`
	Timestamp        time.Time     `json:"timestamp,omitzero"`
	Images           []ImageContent `json:"images,omitempty"` // vision: base64 images appended after Content
	Parts            []ContentPart `json:"parts,omitempty"`   // when set, supersedes Content+Images on the wire
	ToolCalls        []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID       string        `json:"tool_call_id,omitempty"` // role="tool": id of the call being answered
	Name             string        `json:"name,omitempty"`         // role="tool": tool name
	ToolsUsed        []string      `json:"tools_used,omitempty"`   // assistant summary record: tools run this turn
	ReasoningContent string        `json:"reasoning_content,omitempty"`
}

// ToolCall represents a tool invocation requested by the LLM.
// Arguments holds the decoded JSON object, or {"raw": <text>} when the
// model emitted arguments that do not decode.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a tool available to the LLM.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the schema for a function tool.
type ToolFunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
