// Package gemini provides a model wrapper for the Google Gemini API using
// the google.golang.org/genai client.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/GCYYfun/MengLong-sub001/core"
	"github.com/GCYYfun/MengLong-sub001/model"
)

// Options configure the Gemini model adapter.
type Options struct {
	Model       string
	Temperature float32
	APIKey      string
	BaseURL     string
}

// Model wraps genai's GenerateContent behind the generic model.Model interface.
type Model struct {
	client *genai.Client
	opts   Options
}

// NewModel creates a Gemini API model. An empty APIKey lets the client fall
// back to GOOGLE_API_KEY / GEMINI_API_KEY.
func NewModel(ctx context.Context, optFns ...func(o *Options)) (*Model, error) {
	opts := Options{
		Model:       "gemini-2.0-flash",
		Temperature: 0.7,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Model{client: client, opts: opts}, nil
}

// Generate implements model.Model. Streaming requests are served with a
// single final response.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		temperature := m.opts.Temperature
		config := &genai.GenerateContentConfig{Temperature: &temperature}
		if system := systemInstruction(req.Messages); system != nil {
			config.SystemInstruction = system
		}
		if len(req.Tools) > 0 {
			config.Tools = buildTools(req.Tools)
		}

		result, err := m.client.Models.GenerateContent(ctx, m.opts.Model, buildContents(req.Messages), config)
		if err != nil {
			errCh <- fmt.Errorf("gemini api error: %w", err)
			return
		}
		if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
			errCh <- fmt.Errorf("no candidates returned")
			return
		}

		cand := result.Candidates[0]
		msg := core.AssistantMessage("")
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				msg.Content += part.Text
			}
			if fc := part.FunctionCall; fc != nil {
				args := fc.Args
				if args == nil {
					args = map[string]any{}
				}
				id := fc.ID
				if id == "" {
					id = core.NewID()
				}
				msg.ToolCalls = append(msg.ToolCalls, core.ToolCall{ID: id, Name: fc.Name, Arguments: args})
			}
		}

		resp := model.Response{
			Message:      msg,
			FinishReason: strings.ToLower(string(cand.FinishReason)),
		}
		if u := result.UsageMetadata; u != nil {
			resp.Usage = &model.TokenUsage{
				PromptTokens:     int(u.PromptTokenCount),
				CompletionTokens: int(u.CandidatesTokenCount),
				TotalTokens:      int(u.TotalTokenCount),
			}
		}
		out <- resp
	}()

	return out, errCh
}

func systemInstruction(msgs []core.Message) *genai.Content {
	var parts []*genai.Part
	for _, msg := range msgs {
		if msg.Role == core.RoleSystem && msg.Content != "" {
			parts = append(parts, &genai.Part{Text: msg.Content})
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return &genai.Content{Parts: parts}
}

// buildContents converts the transcript to genai contents. Assistant turns
// use the "model" role; consecutive tool turns become one user content of
// function responses.
func buildContents(msgs []core.Message) []*genai.Content {
	var (
		contents  []*genai.Content
		responses []*genai.Part
	)
	flush := func() {
		if len(responses) > 0 {
			contents = append(contents, &genai.Content{Role: "user", Parts: responses})
			responses = nil
		}
	}

	for _, msg := range msgs {
		switch msg.Role {
		case core.RoleSystem:
			continue
		case core.RoleTool:
			key := "result"
			if strings.HasPrefix(msg.Content, "Error: ") {
				key = "error"
			}
			responses = append(responses, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       msg.ToolCallID,
				Name:     msg.Name,
				Response: map[string]any{key: msg.Content},
			}})
			continue
		}

		flush()

		switch msg.Role {
		case core.RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Arguments}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}
	flush()

	return contents
}

func buildTools(tools []model.ToolDefinition) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		decls[i] = &genai.FunctionDeclaration{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  toSchema(t.Function.Parameters),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// toSchema converts a JSON schema map into genai's OpenAPI subset. Untyped
// properties become strings, the closest representation genai accepts.
func toSchema(js map[string]any) *genai.Schema {
	if js == nil {
		return nil
	}

	s := &genai.Schema{}
	switch js["type"] {
	case "string":
		s.Type = genai.TypeString
	case "integer":
		s.Type = genai.TypeInteger
	case "number":
		s.Type = genai.TypeNumber
	case "boolean":
		s.Type = genai.TypeBoolean
	case "array":
		s.Type = genai.TypeArray
	case "object":
		s.Type = genai.TypeObject
	default:
		s.Type = genai.TypeString
	}

	if d, ok := js["description"].(string); ok {
		s.Description = d
	}
	if enum, ok := js["enum"].([]any); ok {
		for _, e := range enum {
			s.Enum = append(s.Enum, fmt.Sprint(e))
		}
	}
	if items, ok := js["items"].(map[string]any); ok {
		s.Items = toSchema(items)
	}
	if props, ok := js["properties"].(map[string]any); ok && len(props) > 0 {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			pm, _ := p.(map[string]any)
			if pm == nil {
				pm = map[string]any{}
			}
			s.Properties[name] = toSchema(pm)
		}
	}
	switch req := js["required"].(type) {
	case []string:
		s.Required = req
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	return s
}

// Info returns metadata describing this Gemini model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "gemini",
		SupportsTools: true,
	}
}
