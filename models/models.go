package models

import (
	"encoding/json"
	"errors"
)

// ErrSessionNotFound is returned when a session id is unknown or expired
var ErrSessionNotFound = errors.New("session not found")

// Role identifies who authored a message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry of a conversation. Messages are append-only:
// once part of a Conversation they are never edited or reordered.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a model request to run a named tool
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is what a dispatched tool hands back to the conversation
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
}

// Message converts the result into the tool-role message appended to history.
func (r ToolResult) Message() Message {
	return Message{
		Role:       RoleTool,
		Content:    r.Content,
		ToolCallID: r.ToolCallID,
		Name:       r.Name,
	}
}

// Tool describes a callable function advertised to the model
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolChoice controls whether the model may, must or must not call tools
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

// Conversation is the ordered history of one session
type Conversation []Message

// Clone returns a copy safe to hand to readers.
func (c Conversation) Clone() Conversation {
	out := make(Conversation, len(c))
	for i, m := range c {
		out[i] = m
		if len(m.ToolCalls) > 0 {
			out[i].ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
	}
	return out
}

// HasPrompt reports whether the conversation holds at least one system or user message.
func (c Conversation) HasPrompt() bool {
	for _, m := range c {
		if m.Role == RoleSystem || m.Role == RoleUser {
			return true
		}
	}
	return false
}

// Transcript drops system and tool plumbing, keeping only what the person and
// the assistant said to each other.
func (c Conversation) Transcript() []Message {
	out := make([]Message, 0, len(c))
	for _, m := range c {
		switch m.Role {
		case RoleUser:
			out = append(out, Message{Role: m.Role, Content: m.Content})
		case RoleAssistant:
			if m.Content == "" {
				continue
			}
			out = append(out, Message{Role: m.Role, Content: m.Content})
		}
	}
	return out
}
