// Package cascade is the model-calling client. It speaks an
// OpenAI-compatible chat-completions subset to a configured set of
// endpoints and walks an ordered list of (endpoint, model, provider-hint)
// entries per intelligence tier, skipping recently failing models and
// falling back to a best-health ordering when the primary pass is
// exhausted.
package cascade

import (
	"github.com/acteon/acteon/internal/schema"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one conversation entry on the wire. Assistant messages may
// carry tool calls; tool messages answer one tool call id with stringified
// content.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Parameters  schema.Schema `json:"parameters"`
}

// NewTool wraps a function shape in the wire envelope.
func NewTool(name, description string, params schema.Schema) Tool {
	if params.Type == "" {
		params.Type = schema.TypeObject
	}
	return Tool{Type: "function", Function: ToolFunction{Name: name, Description: description, Parameters: params}}
}

type providerHint struct {
	Only []string `json:"only"`
}

type chatRequest struct {
	Model      string        `json:"model"`
	Messages   []Message     `json:"messages"`
	Tools      []Tool        `json:"tools,omitempty"`
	ToolChoice string        `json:"tool_choice,omitempty"`
	Provider   *providerHint `json:"provider,omitempty"`
	MaxTokens  int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *wireError   `json:"error,omitempty"`
}

type chatChoice struct {
	Message Message `json:"message"`
}

type wireError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func systemMsg(content string) Message { return Message{Role: RoleSystem, Content: content} }
func userMsg(content string) Message   { return Message{Role: RoleUser, Content: content} }

// SystemMessage and UserMessage build conversation entries for callers.
func SystemMessage(content string) Message { return systemMsg(content) }
func UserMessage(content string) Message   { return userMsg(content) }

// ToolResponse builds the tool message answering one call id.
func ToolResponse(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}
