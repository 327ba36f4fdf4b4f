package agent

import "context"

// Provider computes the system prompt when a conversation starts, e.g. from
// a user profile loaded per request.
type Provider interface {
	SystemPrompt(ctx context.Context) (string, error)
}

// PromptFunc lets a plain function act as a Provider.
type PromptFunc func(ctx context.Context) (string, error)

// SystemPrompt calls f.
func (f PromptFunc) SystemPrompt(ctx context.Context) (string, error) { return f(ctx) }

// Instruction is the agent's system prompt: fixed text, or a Provider
// consulted once per new conversation. The zero value is an empty prompt.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText uses text verbatim as the system prompt.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider defers the system prompt to p.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc is NewInstructionFromProvider for a bare function.
func NewInstructionFromFunc(f func(ctx context.Context) (string, error)) Instruction {
	return Instruction{provider: PromptFunc(f)}
}

// IsStatic reports whether the prompt is fixed text.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the system prompt text. Provider errors abort the run
// before the model is called.
func (i Instruction) Resolve(ctx context.Context) (string, error) {
	if i.provider != nil {
		return i.provider.SystemPrompt(ctx)
	}
	return i.text, nil
}
