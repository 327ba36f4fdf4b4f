package anthropic

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GCYYfun/MengLong-sub001/core"
	"github.com/GCYYfun/MengLong-sub001/model"
)

func TestBuildMessagesFoldsToolResults(t *testing.T) {
	msgs := buildMessages([]core.Message{
		core.SystemMessage("sys"),
		core.UserMessage("time and weather?"),
		{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{
			{ID: "t1", Name: "now"},
			{ID: "t2", Name: "weather", Arguments: map[string]any{"city": "Oslo"}},
		}},
		core.ToolMessage("t1", "now", "noon"),
		core.ToolMessage("t2", "weather", "Error: unavailable"),
		core.AssistantMessage("It is noon."),
	})

	require.Len(t, msgs, 4)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	assert.Len(t, msgs[1].Content, 2)
	assert.Equal(t, "user", string(msgs[2].Role))
	require.Len(t, msgs[2].Content, 2)
	require.NotNil(t, msgs[2].Content[0].OfToolResult)
	assert.Equal(t, "t1", msgs[2].Content[0].OfToolResult.ToolUseID)
	assert.Equal(t, "assistant", string(msgs[3].Role))
}

func TestSystemBlocks(t *testing.T) {
	blocks := systemBlocks([]core.Message{core.SystemMessage("be brief"), core.UserMessage("q")})
	require.Len(t, blocks, 1)
	assert.Equal(t, "be brief", blocks[0].Text)
}

func TestBuildTools(t *testing.T) {
	tools := buildTools([]model.ToolDefinition{
		model.NewToolDefinition("add", "adds numbers", map[string]any{
			"type":       "object",
			"properties": map[string]any{"a": map[string]any{"type": "integer"}},
			"required":   []any{"a"},
		}),
	})
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "add", tools[0].OfTool.Name)
	assert.Equal(t, []string{"a"}, tools[0].OfTool.InputSchema.Required)
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-sonnet-20241022",
			"stop_reason": "tool_use",
			"content": [
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "toolu_1", "name": "now", "input": {"tz": "UTC"}}
			],
			"usage": {"input_tokens": 10, "output_tokens": 4}
		}`)
	}))
	defer srv.Close()

	m := NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL + "/"
	})

	resp, err := model.Chat(context.Background(), m, model.Request{Messages: []core.Message{core.UserMessage("time?")}})
	require.NoError(t, err)
	assert.Equal(t, "msg_1", resp.ID)
	assert.Equal(t, "tool_use", resp.FinishReason)
	assert.Equal(t, "Let me check.", resp.Message.Content)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "now", resp.Message.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"tz": "UTC"}, resp.Message.ToolCalls[0].Arguments)
	assert.Equal(t, 14, resp.Usage.TotalTokens)
}
