// Package providers defines the abstract LlmProvider capability the Agent
// Loop consumes: Chat/ChatStream over a block-based Message model that can
// represent text, image, tool_use and tool_result content — the two block
// kinds the agent loop's tool-use turn needs (spec.md GLOSSARY). Concrete
// vendor wire shapes live in the anthropic/ and openai/ subpackages.
package providers

import (
	"context"
	"encoding/json"
)

// Provider is the interface every LLM backend implements.
type Provider interface {
	// Chat sends messages to the LLM and returns the complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends messages and streams incremental text/thinking
	// deltas via onChunk, returning the final complete response once the
	// stream ends.
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier ("anthropic", "openai", ...).
	Name() string
}

// BlockType tags the kind of content carried by a ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockThinking   BlockType = "thinking"
)

// ContentBlock is one block of a Message's content. Only the fields
// relevant to Type are populated.
type ContentBlock struct {
	Type BlockType `json:"type"`

	Text string `json:"text,omitempty"`

	Image *ImageContent `json:"image,omitempty"`

	ToolUseID   string          `json:"tool_use_id,omitempty"`   // tool_use: call id; tool_result: the call it answers
	ToolName    string          `json:"tool_name,omitempty"`     // tool_use only
	ToolInput   json.RawMessage `json:"tool_input,omitempty"`    // tool_use only, raw JSON arguments
	ToolResult  string          `json:"tool_result,omitempty"`   // tool_result only
	ToolIsError bool            `json:"tool_is_error,omitempty"` // tool_result only

	Thinking string `json:"thinking,omitempty"` // thinking only
}

// ImageContent is a base64-encoded image for vision-capable models.
type ImageContent struct {
	MediaType string `json:"media_type"` // e.g. "image/jpeg", sniffed from magic bytes
	Data      string `json:"data"`       // base64
}

// Message is one turn of the conversation: a role and an ordered content
// block list. Role alternation (no two adjacent messages share a role, the
// conversation starts and ends on "user") is an invariant enforced by the
// Agent Loop's session-resume logic, not by this type.
type Message struct {
	Role    string         `json:"role"` // "user" or "assistant"
	Content []ContentBlock `json:"content"`
}

// Text returns the concatenation of every text block in the message,
// ignoring other block kinds.
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// NewTextMessage builds a single-text-block message.
func NewTextMessage(role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{{Type: BlockText, Text: text}}}
}

// StopReason mirrors the three outcomes the Agent Loop's tool-use loop
// branches on (spec §4.3.5).
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopToolUse   StopReason = "tool_use"
	StopOther     StopReason = "other"
)

// ChatRequest is the input to Chat/ChatStream.
type ChatRequest struct {
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Model       string           `json:"model,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
}

// ChatResponse is the result of a Chat/ChatStream call.
type ChatResponse struct {
	Content    []ContentBlock `json:"content"`
	StopReason StopReason     `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Text concatenates the text blocks of the response.
func (r *ChatResponse) Text() string {
	var out string
	for _, b := range r.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns every tool_use block in the response, in order.
func (r *ChatResponse) ToolUses() []ContentBlock {
	var out []ContentBlock
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// StreamChunk is one incremental piece of a streaming response.
type StreamChunk struct {
	TextDelta     string `json:"text_delta,omitempty"`
	ThinkingDelta string `json:"thinking_delta,omitempty"`
	Done          bool   `json:"done,omitempty"`
}

// ToolDefinition describes a tool available to the LLM in JSON-schema form.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Usage tracks token consumption for one LLM call, the exact shape logged
// to LlmUsageLog (spec §3).
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}
