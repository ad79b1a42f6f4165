// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package llm provides a unified interface and types for LLM (Large Language Model) providers.
// This package defines the common abstractions used across all model integrations in ModelRelay,
// enabling pluggable provider implementations behind a single generate call.
package llm

// Message roles in a conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reasons reported in GenerateResponse.FinishReason.
const (
	FinishReasonStop      = "stop"
	FinishReasonLength    = "length"
	FinishReasonToolCalls = "tool_calls"
)

// Provider families supported by the built-in adapters.
const (
	FamilyAnthropic = "anthropic"
	FamilyOpenAI    = "openai"
	FamilyGemini    = "gemini"
	FamilyBedrock   = "bedrock"
)

// Message represents a single turn in a conversation.
// The Role determines which of the optional fields are meaningful:
// tool messages carry ToolCallID and Name, assistant messages may
// carry ToolCalls when the model requested tool execution.
type Message struct {
	// Role is one of the Role* constants.
	Role string `json:"role"`

	// Content is the message text. May be empty for assistant
	// messages that only request tool calls.
	Content string `json:"content"`

	// ToolCallID correlates a tool result message with the call
	// that produced it. Only set when Role == RoleTool.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Name is the tool name for tool result messages.
	Name string `json:"name,omitempty"`

	// ToolCalls are the calls requested by an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	// ID uniquely identifies this call within the conversation.
	ID string `json:"id"`

	// Name is the tool to invoke.
	Name string `json:"name"`

	// Arguments are the decoded call arguments.
	Arguments map[string]any `json:"arguments"`
}

// ToolSpec describes a tool that can be offered to the model.
type ToolSpec struct {
	// Name is the tool identifier used in calls.
	Name string `json:"name"`

	// Description tells the model what the tool does.
	Description string `json:"description"`

	// InputSchema is a JSON Schema object describing the arguments.
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// GenerateRequest is a provider-agnostic generation request.
// Adapters translate this into each provider's wire format.
type GenerateRequest struct {
	// Model is the registry identifier of the model to use.
	Model string `json:"model"`

	// Messages is the ordered conversation history.
	// Must contain at least one message.
	Messages []Message `json:"messages"`

	// Temperature controls sampling randomness. Range [0.0, 1.0].
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens is the maximum number of output tokens. Must be positive.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Tools are the tool definitions offered to the model, if any.
	Tools []ToolSpec `json:"tools,omitempty"`

	// Extra carries provider-specific parameters that have no
	// first-class field, passed through to the adapter.
	Extra map[string]any `json:"extra,omitempty"`
}

// GenerateResponse is the provider-agnostic result of a generation.
type GenerateResponse struct {
	// Content is the generated text.
	Content string `json:"content"`

	// Usage reports token consumption for the request.
	Usage UsageStats `json:"usage"`

	// FinishReason indicates why generation stopped.
	// Values: stop, length, tool_calls.
	FinishReason string `json:"finish_reason"`

	// Model is the registry identifier that served the request.
	Model string `json:"model"`

	// ToolCalls are tool invocations requested by the model.
	// Only populated by adapters with native tool support.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// UsageStats reports token usage for a single request.
type UsageStats struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ModelInfo describes a registered model for discovery endpoints.
type ModelInfo struct {
	// Name is the registry identifier.
	Name string `json:"name"`

	// Family is the provider family serving this model.
	Family string `json:"family"`

	// Description is a human-readable summary.
	Description string `json:"description,omitempty"`

	// Capabilities lists supported features (e.g. "chat", "tools").
	Capabilities []string `json:"capabilities,omitempty"`

	// NativeTools indicates structured tool-call support.
	NativeTools bool `json:"native_tools"`
}

// Clone returns a deep copy of the response.
// Used by caches so callers can never mutate a stored entry.
func (r *GenerateResponse) Clone() *GenerateResponse {
	if r == nil {
		return nil
	}
	out := *r
	if len(r.ToolCalls) > 0 {
		out.ToolCalls = make([]ToolCall, len(r.ToolCalls))
		for i, tc := range r.ToolCalls {
			out.ToolCalls[i] = tc.clone()
		}
	}
	return &out
}

func (tc ToolCall) clone() ToolCall {
	out := tc
	if tc.Arguments != nil {
		out.Arguments = make(map[string]any, len(tc.Arguments))
		for k, v := range tc.Arguments {
			out.Arguments[k] = v
		}
	}
	return out
}

// LastMessage returns the final message of the request, or nil if
// the request has no messages.
func (r *GenerateRequest) LastMessage() *Message {
	if len(r.Messages) == 0 {
		return nil
	}
	return &r.Messages[len(r.Messages)-1]
}
