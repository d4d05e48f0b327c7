// Package model defines the provider-agnostic language model boundary: a
// normalized Request (instructions, conversation, tool declarations) goes in,
// a Response (final text and/or tool-call requests) comes out. Provider
// adapters live in the openai and anthropic subpackages; MockModel serves
// tests and examples.
package model

import (
	"context"
	"fmt"
)

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider branching.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON object string
}

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object (minimal subset expected).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Message is one turn of the conversation shown to the model.
//
// Roles follow the usual chat convention: "system", "user", "assistant" and
// "tool". Assistant messages may carry ToolCalls; tool messages answer one
// call identified by ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Text       string     `json:"text,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// SystemMessage builds a system-role message.
func SystemMessage(text string) Message { return Message{Role: "system", Text: text} }

// UserMessage builds a user-role message.
func UserMessage(text string) Message { return Message{Role: "user", Text: text} }

// AssistantMessage builds an assistant-role message carrying plain text.
func AssistantMessage(text string) Message { return Message{Role: "assistant", Text: text} }

// AssistantToolCalls builds an assistant-role message that requests tool executions.
func AssistantToolCalls(calls ...ToolCall) Message {
	return Message{Role: "assistant", ToolCalls: calls}
}

// ToolMessage builds a tool-role message answering the call with the given id.
func ToolMessage(callID, text string) Message {
	return Message{Role: "tool", Text: text, ToolCallID: callID}
}

// Request captures the normalized model input produced by the agent loop.
type Request struct {
	Instructions string           `json:"instructions"` // System prompt
	Messages     []Message        `json:"messages"`     // Conversation so far, oldest first
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the model's reply: final text, tool-call requests, or both.
type Response struct {
	Text         string      `json:"text"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// HasToolCalls reports whether the model asked for tool executions this turn.
func (r *Response) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface the agent loop needs to drive generation.
// Generate blocks; callers wanting timeouts wrap ctx themselves.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// It answers with a canned completion keyed by the latest user text.
type MockModel struct {
	info      Info
	responses map[string]string
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) { m.responses[prompt] = response }

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}
	var inputText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			inputText = req.Messages[i].Text
			break
		}
	}
	full := m.responses[inputText]
	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", inputText)
	}
	return &Response{Text: full, FinishReason: "stop"}, nil
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
