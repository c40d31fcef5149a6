// Package model defines the provider-agnostic message, part, and streaming
// chunk types shared by the session engine and every provider adapter.
// Messages are modeled as typed parts rather than flattened strings so the
// session state machine can preserve structure (text, reasoning, tool use,
// step boundaries) across providers.
package model

import (
	"encoding/json"
	"time"
)

// ConversationRole identifies the speaker of a Message.
type ConversationRole string

const (
	// RoleUser identifies a user-authored message.
	RoleUser ConversationRole = "user"
	// RoleAssistant identifies a model-authored message.
	RoleAssistant ConversationRole = "assistant"
)

// FinishReason is the neutral set a provider's stop/finish reason maps onto.
// Providers that return an unrecognized value must record it verbatim in a
// diagnostic and report FinishUnknown to the user rather than silently
// picking FinishStop.
type FinishReason string

const (
	FinishStop    FinishReason = "stop"
	FinishLength  FinishReason = "length"
	FinishToolUse FinishReason = "tool-use"
	FinishError   FinishReason = "error"
	FinishUnknown FinishReason = "unknown"
)

// Usage reports token counts for a step. Fields are explicit pointers to
// integers so "unknown" (provider never reported it, not even under a
// metadata envelope) is distinguishable from a genuine zero.
type Usage struct {
	InputTokens      *int64 `json:"input_tokens,omitempty"`
	OutputTokens     *int64 `json:"output_tokens,omitempty"`
	ReasoningTokens  *int64 `json:"reasoning_tokens,omitempty"`
	CacheReadTokens  *int64 `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens *int64 `json:"cache_write_tokens,omitempty"`
}

// Known reports whether v is a populated ("known") usage value.
func (u Usage) Known() bool {
	return u.InputTokens != nil || u.OutputTokens != nil
}

// UsageKnown wraps an int64 as a "known" usage value, the opposite of the
// zero value (nil), which callers must treat as "unknown" rather than zero.
func UsageKnown(v int64) *int64 { return &v }

// Message is a single chat message: a role plus an ordered sequence of parts.
type Message struct {
	Role  ConversationRole
	Parts []Part
	Meta  map[string]any
}

// Part is implemented by every message content block. The interface is
// sealed via the unexported isPart method, mirroring the teacher's
// marker-interface pattern for Part/Event sum types.
type Part interface {
	isPart()
}

// TextPart is plain prose content, either user-authored or model-emitted.
type TextPart struct {
	Text string
}

// ReasoningPart is hidden chain-of-thought content with the same shape as
// TextPart but never shown to the end user by default.
type ReasoningPart struct {
	Text      string
	Signature string
	Redacted  []byte
}

// ToolCallPart declares a tool invocation requested by the assistant.
type ToolCallPart struct {
	ID      string
	Name    string
	Payload json.RawMessage
}

// ToolResultPart carries a tool result fed back to the model.
type ToolResultPart struct {
	ToolCallID string
	Content    any
	IsError    bool
}

func (TextPart) isPart()       {}
func (ReasoningPart) isPart()  {}
func (ToolCallPart) isPart()   {}
func (ToolResultPart) isPart() {}

// ToolDefinition describes a tool exposed to the model in a Request.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Request captures the inputs to a model invocation.
type Request struct {
	RunID       string
	Provider    string
	Model       string
	Messages    []Message
	System      string
	Tools       []ToolDefinition
	Temperature float32
	MaxTokens   int
	Stream      bool
}

// ChunkType classifies a streamed Chunk.
type ChunkType string

const (
	ChunkText          ChunkType = "text-delta"
	ChunkReasoning     ChunkType = "reasoning-delta"
	ChunkToolCallStart ChunkType = "tool-call-start"
	ChunkToolCallDelta ChunkType = "tool-call-delta"
	ChunkToolCallEnd   ChunkType = "tool-call-end"
	ChunkFinish        ChunkType = "finish"
	ChunkError         ChunkType = "error"
)

// Chunk is a single neutral stream event produced by a Provider Adapter,
// exactly the set enumerated in spec §4.4 (Inbound wire -> engine).
type Chunk struct {
	Type ChunkType

	// Text carries incremental content for ChunkText/ChunkReasoning.
	Text string

	// ToolCallID/ToolName/ToolDelta/ToolInput carry tool streaming state.
	ToolCallID string
	ToolName   string
	ToolDelta  string
	ToolInput  json.RawMessage

	// FinishReason/Usage are populated on ChunkFinish.
	FinishReason    FinishReason
	RawFinishReason string
	Usage           Usage
	Cost            *float64

	// Err is populated on ChunkError.
	Err error
	// Retryable reports whether Err is a transient/retryable failure.
	Retryable bool

	ReceivedAt time.Time
}
