package core

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall describes a model's request to invoke a tool.
//
// Arguments holds the decoded argument object. Providers that hand back a JSON
// string keep it in RawArguments when decoding fails so the dispatcher can
// report the malformed payload instead of silently dropping it.
type ToolCall struct {
	ID           string         `json:"id,omitempty"`
	Name         string         `json:"name"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	RawArguments string         `json:"raw_arguments,omitempty"`
}

// NewToolCall builds a ToolCall from a provider supplied JSON argument string.
// An empty id is replaced with a generated one.
func NewToolCall(id, name, rawArgs string) ToolCall {
	if id == "" {
		id = NewID()
	}
	tc := ToolCall{ID: id, Name: name}
	if rawArgs == "" {
		tc.Arguments = map[string]any{}
		return tc
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil || args == nil {
		tc.RawArguments = rawArgs
		return tc
	}
	tc.Arguments = args
	return tc
}

// ArgumentsJSON returns the arguments encoded as a JSON object string.
func (tc ToolCall) ArgumentsJSON() string {
	if tc.Arguments == nil && tc.RawArguments != "" {
		return tc.RawArguments
	}
	if tc.Arguments == nil {
		return "{}"
	}
	b, err := json.Marshal(tc.Arguments)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Message is one turn of a conversation transcript.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant turns requesting tools
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool turns
	Name       string     `json:"name,omitempty"`         // tool name on tool turns
}

// HasToolCalls reports whether an assistant message requests tool execution.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc
			if tc.Arguments != nil {
				args := make(map[string]any, len(tc.Arguments))
				for k, v := range tc.Arguments {
					args[k] = v
				}
				out.ToolCalls[i].Arguments = args
			}
		}
	}
	return out
}

func (m Message) String() string {
	if m.HasToolCalls() {
		return fmt.Sprintf("%s: %s [%d tool call(s)]", m.Role, m.Content, len(m.ToolCalls))
	}
	return fmt.Sprintf("%s: %s", m.Role, m.Content)
}

// SystemMessage, UserMessage and AssistantMessage are shorthands used by tests
// and examples.
func SystemMessage(text string) Message    { return Message{Role: RoleSystem, Content: text} }
func UserMessage(text string) Message      { return Message{Role: RoleUser, Content: text} }
func AssistantMessage(text string) Message { return Message{Role: RoleAssistant, Content: text} }

// ToolMessage builds the tool turn answering the call with the given id.
func ToolMessage(callID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Name: name}
}

// NewID returns a random unique identifier.
func NewID() string { return uuid.NewString() }
