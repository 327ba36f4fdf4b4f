package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GCYYfun/MengLong-sub001/core"
)

// ErrNoResponse is returned by Chat when a generation ends without a final response.
var ErrNoResponse = errors.New("model returned no final response")

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// NewToolDefinition builds a function ToolDefinition.
func NewToolDefinition(name, description string, parameters map[string]any) ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// Request is the provider-neutral model input. A leading system message in
// Messages carries the instructions.
type Request struct {
	Messages []core.Message   `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Stream   bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model. Partial chunks
// carry deltas; the final chunk carries the complete assistant message.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Message      core.Message `json:"message"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "azure", "anthropic", "gemini", "mock"
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by agents to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Chat runs a generation to completion and returns its final response.
func Chat(ctx context.Context, m Model, req Request) (*Response, error) {
	respCh, errCh := m.Generate(ctx, req)

	var final *Response
	for resp := range respCh {
		if resp.Partial {
			continue
		}
		r := resp
		final = &r
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if final == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoResponse
	}
	if final.Message.Role == "" {
		final.Message.Role = core.RoleAssistant
	}
	return final, nil
}

// HandlerFunc computes a MockModel reply.
type HandlerFunc func(ctx context.Context, req Request) (core.Message, error)

// MockModel is a lightweight in-memory Model useful for tests and examples.
// Replies are resolved in order: the handler, queued replies, canned
// responses keyed by the last user prompt, then an echo.
type MockModel struct {
	info Info

	mu        sync.Mutex
	handler   HandlerFunc
	queue     []scripted
	responses map[string]string
	calls     []Request
}

type scripted struct {
	msg core.Message
	err error
}

// NewMockModel constructs a MockModel with tool support enabled.
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

// AddResponse registers a canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Enqueue appends scripted replies returned by subsequent calls, one per call.
func (m *MockModel) Enqueue(msgs ...core.Message) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.queue = append(m.queue, scripted{msg: msg})
	}
	return m
}

// EnqueueText is Enqueue for plain assistant replies.
func (m *MockModel) EnqueueText(texts ...string) *MockModel {
	for _, t := range texts {
		m.Enqueue(core.AssistantMessage(t))
	}
	return m
}

// EnqueueError makes the next unscripted call fail with err.
func (m *MockModel) EnqueueError(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, scripted{err: err})
	return m
}

// SetHandler installs a function computing every reply.
func (m *MockModel) SetHandler(fn HandlerFunc) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
	return m
}

// Calls returns copies of the requests received so far.
func (m *MockModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// CallCount returns the number of Generate calls.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *MockModel) next(ctx context.Context, req Request) (core.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	handler := m.handler
	if handler == nil && len(m.queue) > 0 {
		s := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return s.msg, s.err
	}
	m.mu.Unlock()

	if handler != nil {
		return handler(ctx, req)
	}

	var prompt string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == core.RoleUser {
			prompt = req.Messages[i].Content
			break
		}
	}

	m.mu.Lock()
	full := m.responses[prompt]
	m.mu.Unlock()
	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", prompt)
	}
	return core.AssistantMessage(full), nil
}

// Generate implements Model; emits optional streaming char chunks then the final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if len(req.Messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}

		msg, err := m.next(ctx, req)
		if err != nil {
			errCh <- err
			return
		}
		if msg.Role == "" {
			msg.Role = core.RoleAssistant
		}

		if req.Stream {
			for _, r := range msg.Content {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Message: core.AssistantMessage(string(r))}:
				}
			}
		}

		finish := "stop"
		if msg.HasToolCalls() {
			finish = "tool_calls"
		}
		respCh <- Response{
			ID:           core.NewID(),
			Message:      msg,
			FinishReason: finish,
		}
	}()
	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
