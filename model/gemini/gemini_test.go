package gemini

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/GCYYfun/MengLong-sub001/core"
	"github.com/GCYYfun/MengLong-sub001/model"
)

func TestBuildContents(t *testing.T) {
	contents := buildContents([]core.Message{
		core.SystemMessage("sys"),
		core.UserMessage("weather?"),
		{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{{ID: "1", Name: "weather", Arguments: map[string]any{"city": "Oslo"}}}},
		core.ToolMessage("1", "weather", "Error: offline"),
		core.AssistantMessage("Sorry."),
	})

	require.Len(t, contents, 4)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	assert.Equal(t, "weather", contents[1].Parts[0].FunctionCall.Name)

	require.NotNil(t, contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, map[string]any{"error": "Error: offline"}, contents[2].Parts[0].FunctionResponse.Response)
	assert.Equal(t, "Sorry.", contents[3].Parts[0].Text)

	sys := systemInstruction([]core.Message{core.SystemMessage("sys")})
	require.NotNil(t, sys)
	assert.Equal(t, "sys", sys.Parts[0].Text)
	assert.Nil(t, systemInstruction(nil))
}

func TestToSchema(t *testing.T) {
	s := toSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"unit": map[string]any{"type": "string", "enum": []any{"c", "f"}},
			"days": map[string]any{"type": "integer", "description": "How many"},
			"tags": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"any":  map[string]any{},
		},
		"required": []any{"days"},
	})

	assert.Equal(t, genai.TypeObject, s.Type)
	assert.Equal(t, []string{"days"}, s.Required)
	assert.Equal(t, []string{"c", "f"}, s.Properties["unit"].Enum)
	assert.Equal(t, "How many", s.Properties["days"].Description)
	assert.Equal(t, genai.TypeArray, s.Properties["tags"].Type)
	assert.Equal(t, genai.TypeString, s.Properties["tags"].Items.Type)
	assert.Equal(t, genai.TypeString, s.Properties["any"].Type)
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"candidates": [{
				"content": {"role": "model", "parts": [{"functionCall": {"name": "now", "args": {"tz": "UTC"}}}]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 3, "candidatesTokenCount": 2, "totalTokenCount": 5}
		}`)
	}))
	defer srv.Close()

	m, err := NewModel(context.Background(), func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL + "/"
	})
	require.NoError(t, err)

	resp, err := model.Chat(context.Background(), m, model.Request{
		Messages: []core.Message{core.UserMessage("time?")},
		Tools:    []model.ToolDefinition{model.NewToolDefinition("now", "current time", map[string]any{"type": "object"})},
	})
	require.NoError(t, err)
	assert.Equal(t, "stop", resp.FinishReason)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "now", resp.Message.ToolCalls[0].Name)
	assert.NotEmpty(t, resp.Message.ToolCalls[0].ID)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.Equal(t, "gemini", m.Info().Provider)
}
