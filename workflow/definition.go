package workflow

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GCYYfun/MengLong-sub001/conversation"
	"github.com/GCYYfun/MengLong-sub001/core"
	internalutil "github.com/GCYYfun/MengLong-sub001/internal/util"
)

// Chatter sends a message on a conversation and returns the reply.
// *agent.Agent satisfies it.
type Chatter interface {
	ChatWith(ctx context.Context, conv *conversation.Manager, message string) (string, error)
}

// Definition is the YAML form of a workflow.
//
//	name: research
//	timeout: 2m
//	steps:
//	  - name: outline
//	    prompt: "Outline an article about {{.input}}"
//	  - name: draft
//	    prompt: "Write the article following this outline: {{.steps.outline}}"
//	    requires: [outline]
//	    timeout: 30s
type Definition struct {
	Name        string           `yaml:"name" json:"name"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Timeout     time.Duration    `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Steps       []StepDefinition `yaml:"steps" json:"steps"`
}

// StepDefinition describes one prompt step.
type StepDefinition struct {
	Name   string `yaml:"name" json:"name"`
	Prompt string `yaml:"prompt" json:"prompt"`
	// Requires names earlier steps that must have produced a non-empty result.
	Requires []string `yaml:"requires,omitempty" json:"requires,omitempty"`
	// Timeout overrides the share of the workflow timeout given to the step.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Load reads a workflow definition from a YAML file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML workflow definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks names, prompts and step references.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %q must have at least one step", d.Name)
	}
	seen := make(map[string]bool, len(d.Steps))
	for i, s := range d.Steps {
		if s.Name == "" {
			return fmt.Errorf("step %d: name is required", i+1)
		}
		if seen[s.Name] {
			return fmt.Errorf("step %d: duplicate name %q", i+1, s.Name)
		}
		if s.Prompt == "" {
			return fmt.Errorf("step %q: prompt is required", s.Name)
		}
		if s.Timeout < 0 {
			return fmt.Errorf("step %q: negative timeout", s.Name)
		}
		for _, r := range s.Requires {
			if !seen[r] {
				return fmt.Errorf("step %q: requires unknown or later step %q", s.Name, r)
			}
		}
		seen[s.Name] = true
	}
	return nil
}

// Save writes the definition as YAML.
func (d *Definition) Save(path string) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write workflow file: %w", err)
	}
	return nil
}

// Build turns the definition into a Workflow whose steps send their rendered
// prompts through chat. Without a step timeout, a workflow timeout is split
// evenly between the steps.
func (d *Definition) Build(chat Chatter, optFns ...func(o *Options)) (*Workflow, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	w := New(d.Name, optFns...)
	for _, sd := range d.Steps {
		timeout := sd.Timeout
		if timeout == 0 && d.Timeout > 0 {
			timeout = d.Timeout / time.Duration(len(d.Steps))
		}
		w.Add(&Step{
			Name:      sd.Name,
			Action:    PromptAction(chat, sd.Prompt),
			Condition: Requires(sd.Requires...),
			Timeout:   timeout,
		})
	}
	return w, nil
}

// PromptAction renders prompt against the step input and sends it through
// chat on the shared conversation. The template sees .input, .steps (results
// by step name) and .previous (the most recent result).
func PromptAction(chat Chatter, prompt string) Action {
	return func(ctx context.Context, in Input) (string, error) {
		text, err := internalutil.RenderTemplate(prompt, templateData(in))
		if err != nil {
			return "", err
		}
		return chat.ChatWith(ctx, in.Conversation, text)
	}
}

func templateData(in Input) map[string]any {
	steps := make(map[string]any, len(in.Results))
	previous := ""
	for k, v := range in.Results {
		steps[k] = v
	}
	if in.Conversation != nil {
		if last, ok := in.Conversation.Last(); ok && last.Role == core.RoleAssistant {
			previous = last.Content
		}
	}
	return map[string]any{"input": in.Text, "steps": steps, "previous": previous}
}

// Requires returns a condition satisfied once every named step has a
// non-empty result. With no names it returns nil.
func Requires(names ...string) Condition {
	if len(names) == 0 {
		return nil
	}
	return func(_ context.Context, in Input) bool {
		for _, n := range names {
			if in.Results[n] == "" {
				return false
			}
		}
		return true
	}
}
