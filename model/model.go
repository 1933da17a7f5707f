// Package model defines a provider-agnostic message/request/response type
// system so Worker backends, the Compactor, and Cortex can all talk to an
// LLM without depending on a specific vendor SDK. Concrete adapters live
// in model/anthropic and model/openai.
package model

import (
	"context"
	"errors"
)

// ConversationRole identifies who authored a Message.
type ConversationRole string

const (
	ConversationRoleUser      ConversationRole = "user"
	ConversationRoleAssistant ConversationRole = "assistant"
	ConversationRoleSystem    ConversationRole = "system"
)

// Part is the closed set of content fragments a Message can carry. The
// kernel only needs text, tool use/result, and thinking — multimodal
// parts (image/document/citation) that the wider provider abstraction
// supports have no caller in this tree and are left out rather than
// carried as dead weight.
type Part interface {
	isPart()
}

// TextPart carries user- or assistant-visible text.
type TextPart struct {
	Text string
}

// ThinkingPart carries provider reasoning traces, when a provider and
// model class support extended thinking.
type ThinkingPart struct {
	Text      string
	Signature string
	Redacted  []byte
	Index     int
	Final     bool
}

// ToolUsePart declares a tool invocation requested by the assistant.
type ToolUsePart struct {
	ID    string
	Name  string
	Input any
}

// ToolResultPart carries a tool's result back to the model, correlated to
// a prior ToolUsePart by ID.
type ToolResultPart struct {
	ToolUseID string
	Content   any
	IsError   bool
}

func (TextPart) isPart()       {}
func (ThinkingPart) isPart()   {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// Message groups ordered Parts under a role.
type Message struct {
	Role  ConversationRole
	Parts []Part
	Meta  map[string]any
}

// ToolChoiceMode controls whether and how the model must call a tool.
type ToolChoiceMode string

const (
	ToolChoiceAuto ToolChoiceMode = "auto"
	ToolChoiceAny  ToolChoiceMode = "any"
	ToolChoiceNone ToolChoiceMode = "none"
	ToolChoiceTool ToolChoiceMode = "tool"
)

// ToolChoice selects how the model should pick among ToolDefinitions.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// ToolDefinition describes one callable tool and its JSON input schema.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ModelClass selects which tier of model a Request should run against —
// this is how Cortex and Compactor route to a cheap/fast model while
// Channel/Branch/Worker use a stronger one for the same provider.
type ModelClass string

const (
	ModelClassHighReasoning ModelClass = "high_reasoning"
	ModelClassDefault       ModelClass = "default"
	ModelClassSmall         ModelClass = "small"
)

// ThinkingOptions enables and bounds extended reasoning for a Request.
type ThinkingOptions struct {
	Enabled bool
	Budget  int
}

// TokenUsage reports token accounting for a single Response.
type TokenUsage struct {
	InputTokens              int
	OutputTokens             int
	CacheCreationInputTokens int
	CacheReadInputTokens     int
}

// Request is a provider-agnostic chat completion request.
type Request struct {
	Messages    []*Message
	System      string
	Tools       []ToolDefinition
	ToolChoice  ToolChoice
	Class       ModelClass
	MaxTokens   int
	Temperature float64
	Thinking    ThinkingOptions
}

// Response is a completed, non-streamed model turn.
type Response struct {
	Message *Message
	Usage   TokenUsage
	Stop    string
}

// ChunkType identifies the shape of a streamed Chunk.
type ChunkType string

const (
	ChunkTypeTextDelta     ChunkType = "text_delta"
	ChunkTypeThinkingDelta ChunkType = "thinking_delta"
	ChunkTypeToolUseDelta  ChunkType = "tool_use_delta"
	ChunkTypeMessageStop   ChunkType = "message_stop"
)

// Chunk is one piece of a streamed Response.
type Chunk struct {
	Type     ChunkType
	Text     string
	ToolCall *ToolUsePart
	Usage    *TokenUsage
}

// Streamer yields Chunks for a single in-flight streamed request.
type Streamer interface {
	Recv() (Chunk, error)
	Close() error
	Metadata() map[string]any
}

// ErrStreamingUnsupported is returned by Client.Stream when the underlying
// provider/model combination cannot stream.
var ErrStreamingUnsupported = errors.New("model: streaming not supported by this client")

// ErrRateLimited is returned when the provider rejects a request due to
// rate limiting; callers should back off and retry.
var ErrRateLimited = errors.New("model: rate limited")

// Client is the provider-agnostic surface every LLMBackend talks to.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) (Streamer, error)
}
