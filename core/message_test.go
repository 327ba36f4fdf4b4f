package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewToolCall(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		args    map[string]any
		rawKept string
	}{
		{name: "empty arguments", raw: "", args: map[string]any{}},
		{name: "object", raw: `{"city":"Paris","days":3}`, args: map[string]any{"city": "Paris", "days": 3.0}},
		{name: "malformed", raw: `{"city":`, rawKept: `{"city":`},
		{name: "not an object", raw: `[1,2]`, rawKept: `[1,2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := NewToolCall("call-1", "weather", tt.raw)
			assert.Equal(t, "call-1", tc.ID)
			assert.Equal(t, "weather", tc.Name)
			assert.Equal(t, tt.args, tc.Arguments)
			assert.Equal(t, tt.rawKept, tc.RawArguments)
		})
	}
}

func TestNewToolCall_GeneratesID(t *testing.T) {
	a := NewToolCall("", "x", "")
	b := NewToolCall("", "x", "")
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestToolCall_ArgumentsJSON(t *testing.T) {
	assert.Equal(t, "{}", ToolCall{}.ArgumentsJSON())
	assert.Equal(t, `{"a":1}`, ToolCall{Arguments: map[string]any{"a": 1}}.ArgumentsJSON())
	assert.Equal(t, "{oops", ToolCall{RawArguments: "{oops"}.ArgumentsJSON())
}

func TestMessage_Clone(t *testing.T) {
	orig := Message{
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{ID: "1", Name: "sum", Arguments: map[string]any{"a": 1}}},
	}
	cp := orig.Clone()
	cp.ToolCalls[0].Arguments["a"] = 2
	cp.ToolCalls[0].Name = "other"

	require.True(t, orig.HasToolCalls())
	assert.Equal(t, 1, orig.ToolCalls[0].Arguments["a"])
	assert.Equal(t, "sum", orig.ToolCalls[0].Name)
}

func TestMessageConstructors(t *testing.T) {
	assert.Equal(t, RoleSystem, SystemMessage("s").Role)
	assert.Equal(t, RoleUser, UserMessage("u").Role)
	assert.Equal(t, RoleAssistant, AssistantMessage("a").Role)

	tm := ToolMessage("c1", "sum", "3")
	assert.Equal(t, RoleTool, tm.Role)
	assert.Equal(t, "c1", tm.ToolCallID)
	assert.Equal(t, "sum", tm.Name)
	assert.Equal(t, "tool: 3", tm.String())
}
