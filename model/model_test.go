package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GCYYfun/MengLong-sub001/core"
)

func userRequest(text string) Request {
	return Request{Messages: []core.Message{core.UserMessage(text)}}
}

func TestChat_CannedAndEcho(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.AddResponse("ping", "pong")

	resp, err := Chat(context.Background(), m, userRequest("ping"))
	require.NoError(t, err)
	assert.Equal(t, core.AssistantMessage("pong"), resp.Message)
	assert.Equal(t, "stop", resp.FinishReason)

	resp, err = Chat(context.Background(), m, userRequest("other"))
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: other", resp.Message.Content)
	assert.Equal(t, 2, m.CallCount())
}

func TestChat_ScriptedQueue(t *testing.T) {
	call := core.ToolCall{ID: "c1", Name: "add", Arguments: map[string]any{"a": 1}}
	m := NewMockModel("mock", "mock").
		Enqueue(core.Message{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{call}}).
		EnqueueText("done").
		EnqueueError(errors.New("rate limited"))

	resp, err := Chat(context.Background(), m, userRequest("x"))
	require.NoError(t, err)
	assert.True(t, resp.Message.HasToolCalls())
	assert.Equal(t, "tool_calls", resp.FinishReason)

	resp, err = Chat(context.Background(), m, userRequest("x"))
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Message.Content)

	_, err = Chat(context.Background(), m, userRequest("x"))
	assert.EqualError(t, err, "rate limited")

	// Queue exhausted, falls back to echo.
	resp, err = Chat(context.Background(), m, userRequest("x"))
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: x", resp.Message.Content)
}

func TestChat_Handler(t *testing.T) {
	m := NewMockModel("mock", "mock").SetHandler(func(ctx context.Context, req Request) (core.Message, error) {
		return core.Message{Content: req.Messages[len(req.Messages)-1].Content + "!"}, nil
	})

	resp, err := Chat(context.Background(), m, userRequest("hey"))
	require.NoError(t, err)
	assert.Equal(t, core.RoleAssistant, resp.Message.Role)
	assert.Equal(t, "hey!", resp.Message.Content)
	require.Len(t, m.Calls(), 1)
	assert.Equal(t, "hey", m.Calls()[0].Messages[0].Content)
}

func TestGenerate_Streaming(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.AddResponse("hi", "abc")

	req := userRequest("hi")
	req.Stream = true
	respCh, errCh := m.Generate(context.Background(), req)

	var partial string
	var final *Response
	for r := range respCh {
		if r.Partial {
			partial += r.Message.Content
			continue
		}
		rr := r
		final = &rr
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, "abc", partial)
	require.NotNil(t, final)
	assert.Equal(t, "abc", final.Message.Content)
}

func TestGenerate_EmptyRequest(t *testing.T) {
	_, err := Chat(context.Background(), NewMockModel("mock", "mock"), Request{})
	assert.Error(t, err)
}

func TestNewToolDefinition(t *testing.T) {
	def := NewToolDefinition("add", "adds", map[string]any{"type": "object"})
	assert.Equal(t, "function", def.Type)
	assert.Equal(t, "add", def.Function.Name)
}
