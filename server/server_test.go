package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GCYYfun/MengLong-sub001/agent"
	"github.com/GCYYfun/MengLong-sub001/core"
	"github.com/GCYYfun/MengLong-sub001/model"
	"github.com/GCYYfun/MengLong-sub001/session"
	"github.com/GCYYfun/MengLong-sub001/tool"
)

func init() { gin.SetMode(gin.TestMode) }

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func Add(args addArgs) int { return args.A + args.B }

func newTestServer(t *testing.T, m *model.MockModel, optFns ...func(o *Options)) *Server {
	t.Helper()
	reg := tool.NewRegistry()
	reg.MustRegister(Add, tool.WithDescription("Adds two integers"))
	a := agent.New(m, reg, func(o *agent.Options) { o.Name = "api" })
	return New(a, optFns...)
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, model.NewMockModel("mock-1", "mock"))

	rec := do(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "api", body["agent"])
	assert.Equal(t, "mock-1", body["model"])
	assert.Equal(t, float64(1), body["tools"])
}

func TestListTools(t *testing.T) {
	s := newTestServer(t, model.NewMockModel("mock", "mock"))

	rec := do(t, s, http.MethodGet, "/v1/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[struct {
		Tools []toolView `json:"tools"`
	}](t, rec)
	require.Len(t, body.Tools, 1)
	assert.Equal(t, "add", body.Tools[0].Name)
	assert.Equal(t, "Adds two integers", body.Tools[0].Description)
	assert.Equal(t, "object", body.Tools[0].Parameters["type"])
}

func TestInvokeTool(t *testing.T) {
	s := newTestServer(t, model.NewMockModel("mock", "mock"))

	rec := do(t, s, http.MethodPost, "/v1/tools/add/invoke", map[string]any{"arguments": map[string]any{"a": 2, "b": 3}})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[tool.Result](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, float64(5), res.Value)
	assert.NotEmpty(t, res.CallID)

	rec = do(t, s, http.MethodPost, "/v1/tools/add/invoke", map[string]any{"arguments": map[string]any{"a": "two"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, tool.CodeValidationError, decode[tool.Result](t, rec).Code)

	rec = do(t, s, http.MethodPost, "/v1/tools/missing/invoke", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown tool: missing", decode[tool.Result](t, rec).Error)
}

func TestRunTask(t *testing.T) {
	m := model.NewMockModel("mock", "mock").
		Enqueue(core.Message{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{{ID: "c1", Name: "add", Arguments: map[string]any{"a": 1, "b": 2}}}}).
		EnqueueText("the sum is 3")
	s := newTestServer(t, m)

	rec := do(t, s, http.MethodPost, "/v1/tasks", map[string]any{"task": "add 1 and 2", "max_iterations": 3})
	require.Equal(t, http.StatusOK, rec.Code)

	view := decode[taskView](t, rec)
	assert.Equal(t, agent.StateComplete, view.Status)
	assert.Equal(t, "the sum is 3", view.FinalAnswer)
	assert.Equal(t, 2, view.IterationsUsed)
	assert.Equal(t, 1, view.ToolCalls)
	assert.Equal(t, 1.0, view.SuccessRate)
	assert.Len(t, view.ExecutionLog, 2)

	rec = do(t, s, http.MethodPost, "/v1/tasks", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunTask_IterationLimit(t *testing.T) {
	m := model.NewMockModel("mock", "mock").SetHandler(func(context.Context, model.Request) (core.Message, error) {
		return core.Message{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{{Name: "add", Arguments: map[string]any{"a": 1, "b": 1}}}}, nil
	})
	s := newTestServer(t, m)

	rec := do(t, s, http.MethodPost, "/v1/tasks", map[string]any{"task": "loop", "max_iterations": 2})
	require.Equal(t, http.StatusOK, rec.Code)

	view := decode[taskView](t, rec)
	assert.Equal(t, agent.StateFailed, view.Status)
	assert.Equal(t, 2, view.IterationsUsed)
	assert.Contains(t, view.Error, "maximum iterations reached")
}

func TestRunTasksBatch(t *testing.T) {
	s := newTestServer(t, model.NewMockModel("mock", "mock"))

	for _, sequential := range []bool{false, true} {
		rec := do(t, s, http.MethodPost, "/v1/tasks/batch", map[string]any{
			"tasks":      []map[string]any{{"prompt": "one"}, {"prompt": "two"}, {"prompt": "three"}},
			"sequential": sequential,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode[struct {
			Results []taskView `json:"results"`
		}](t, rec)
		require.Len(t, body.Results, 3)
		for i, want := range []string{"one", "two", "three"} {
			assert.Equal(t, want, body.Results[i].Task)
			assert.Equal(t, "Mock response to: "+want, body.Results[i].FinalAnswer)
		}
	}

	rec := do(t, s, http.MethodPost, "/v1/tasks/batch", map[string]any{"tasks": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchLimit(t *testing.T) {
	s := newTestServer(t, model.NewMockModel("mock", "mock"), func(o *Options) { o.MaxBatch = 1 })

	rec := do(t, s, http.MethodPost, "/v1/chat/batch", map[string]any{"messages": []string{"a", "b"}})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestChatBatch(t *testing.T) {
	m := model.NewMockModel("mock", "mock").SetHandler(func(_ context.Context, req model.Request) (core.Message, error) {
		last := req.Messages[len(req.Messages)-1].Content
		if last == "bad" {
			return core.Message{}, errors.New("refused")
		}
		return core.AssistantMessage(strings.ToUpper(last)), nil
	})
	s := newTestServer(t, m)

	rec := do(t, s, http.MethodPost, "/v1/chat/batch", map[string]any{"messages": []string{"a", "bad", "c"}})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[struct {
		Replies  []replyView `json:"replies"`
		Contents []string    `json:"contents"`
	}](t, rec)
	assert.Equal(t, []string{"A", "Error in message 2: model call: refused", "C"}, body.Contents)
	assert.True(t, body.Replies[1].Error)

	rec = do(t, s, http.MethodPost, "/v1/chat/batch", map[string]any{"messages": []string{"a", "bad", "c"}, "sequential": true})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode[struct {
		Replies  []replyView `json:"replies"`
		Contents []string    `json:"contents"`
	}](t, rec)
	assert.Equal(t, []string{"A", "Error in message 2: model call: refused"}, body.Contents)
}

func TestSessions(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	store := session.NewInMemoryStore(func(o *session.InMemoryOptions) { o.System = "You are helpful." })
	s := newTestServer(t, m, func(o *Options) { o.Sessions = store })

	rec := do(t, s, http.MethodGet, "/v1/sessions/s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/sessions/s1/messages", map[string]any{"message": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	reply := decode[map[string]any](t, rec)
	assert.Equal(t, "Mock response to: hello", reply["reply"])
	assert.Equal(t, float64(1), reply["turns"])

	rec = do(t, s, http.MethodPost, "/v1/sessions/s1/messages", map[string]any{"message": "again"})
	require.Equal(t, http.StatusOK, rec.Code)

	// The second turn saw the first one.
	calls := m.Calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[1].Messages, 4)

	rec = do(t, s, http.MethodGet, "/v1/sessions/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[session.Snapshot](t, rec)
	assert.Equal(t, 2, snap.Turns)
	require.Len(t, snap.Messages, 5)
	assert.Equal(t, core.SystemMessage("You are helpful."), snap.Messages[0])

	rec = do(t, s, http.MethodPost, "/v1/sessions/s1/messages", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodDelete, "/v1/sessions/s1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, s, http.MethodDelete, "/v1/sessions/s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessions_FailedTurnIsRolledBack(t *testing.T) {
	m := model.NewMockModel("mock", "mock").EnqueueError(errors.New("upstream down"))
	s := newTestServer(t, m)

	rec := do(t, s, http.MethodPost, "/v1/sessions/s2/messages", map[string]any{"message": "hello"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "upstream down")

	rec = do(t, s, http.MethodGet, "/v1/sessions/s2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[session.Snapshot](t, rec)
	assert.Equal(t, 0, snap.Turns)
	assert.Empty(t, snap.Messages)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, model.NewMockModel("mock", "mock"), func(o *Options) {
		o.AllowOrigins = []string{"https://app.example"}
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
