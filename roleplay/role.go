// Package roleplay provides persona-driven agents and a two-agent
// conversation in which the speakers alternate until both have signalled the
// end of the exchange.
package roleplay

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/GCYYfun/MengLong-sub001/agent"
	"github.com/GCYYfun/MengLong-sub001/conversation"
	internalutil "github.com/GCYYfun/MengLong-sub001/internal/util"
	"github.com/GCYYfun/MengLong-sub001/model"
	"github.com/GCYYfun/MengLong-sub001/tool"
)

// Role describes a character. Persona is a text/template rendered with Vars,
// Info and .name; Info entries win over Vars.
type Role struct {
	ID      string         `yaml:"id" json:"id"`
	Name    string         `yaml:"name" json:"name"`
	Persona string         `yaml:"persona" json:"persona"`
	Info    map[string]any `yaml:"info,omitempty" json:"info,omitempty"`
	Vars    map[string]any `yaml:"vars,omitempty" json:"vars,omitempty"`
}

// Validate checks the required fields.
func (r Role) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("role name is required")
	}
	if r.Persona == "" {
		return fmt.Errorf("role %q: persona is required", r.Name)
	}
	return nil
}

// Describe renders Info as sorted "key: value" lines.
func (r Role) Describe() string {
	keys := slices.Sorted(maps.Keys(r.Info))
	lines := make([]string, 0, len(keys)+1)
	lines = append(lines, "name: "+r.Name)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", k, r.Info[k]))
	}
	return strings.Join(lines, "\n")
}

// Scenario is the YAML form of a two-role conversation.
//
//	topic: "You are {{.name}}. You meet {{.peer_name}} at the market."
//	max_turns: 6
//	active:
//	  name: Lin
//	  persona: "You are {{.name}}, a {{.job}}. {{.topic}}"
//	  info: {job: blacksmith}
//	passive:
//	  name: Mei
//	  persona: "You are {{.name}}. {{.topic}}"
type Scenario struct {
	Topic    string `yaml:"topic" json:"topic"`
	MaxTurns int    `yaml:"max_turns,omitempty" json:"max_turns,omitempty"`
	Active   Role   `yaml:"active" json:"active"`
	Passive  Role   `yaml:"passive" json:"passive"`
}

// LoadScenario reads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scenario: %w", err)
	}
	if s.Topic == "" {
		return nil, fmt.Errorf("scenario topic is required")
	}
	if err := s.Active.Validate(); err != nil {
		return nil, fmt.Errorf("active: %w", err)
	}
	if err := s.Passive.Validate(); err != nil {
		return nil, fmt.Errorf("passive: %w", err)
	}
	return &s, nil
}

// RoleAgent is an agent speaking as a Role. Its system prompt is rendered
// from the persona and re-rendered whenever variables change.
type RoleAgent struct {
	role  Role
	agent *agent.Agent

	mu     sync.Mutex
	vars   map[string]any
	system string
	conv   *conversation.Manager
}

// NewRoleAgent creates a RoleAgent speaking through m. reg may be nil.
func NewRoleAgent(m model.Model, reg *tool.Registry, role Role, optFns ...func(o *agent.Options)) (*RoleAgent, error) {
	if err := role.Validate(); err != nil {
		return nil, err
	}

	ra := &RoleAgent{role: role, vars: baseVars(role)}
	system, err := internalutil.RenderTemplate(role.Persona, ra.vars)
	if err != nil {
		return nil, fmt.Errorf("role %q: %w", role.Name, err)
	}
	ra.system = system
	ra.conv = conversation.NewManager(system)

	ra.agent = agent.New(m, reg, append([]func(o *agent.Options){func(o *agent.Options) {
		o.Name = role.Name
		o.Instruction = agent.NewInstructionFromFunc(func(context.Context) (string, error) {
			return ra.SystemPrompt(), nil
		})
	}}, optFns...)...)

	return ra, nil
}

func baseVars(role Role) map[string]any {
	vars := make(map[string]any, len(role.Vars)+len(role.Info)+1)
	maps.Copy(vars, role.Vars)
	maps.Copy(vars, role.Info)
	vars["name"] = role.Name
	return vars
}

// Role returns the role definition.
func (ra *RoleAgent) Role() Role { return ra.role }

// Name returns the role name.
func (ra *RoleAgent) Name() string { return ra.role.Name }

// Agent returns the underlying agent.
func (ra *RoleAgent) Agent() *agent.Agent { return ra.agent }

// Conversation returns the history used by Chat.
func (ra *RoleAgent) Conversation() *conversation.Manager { return ra.conv }

// SystemPrompt returns the rendered persona.
func (ra *RoleAgent) SystemPrompt() string {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	return ra.system
}

// UpdateSystemPrompt merges vars into the template variables and re-renders
// the persona. The Chat history picks up the new system message.
func (ra *RoleAgent) UpdateSystemPrompt(vars map[string]any) error {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	next := maps.Clone(ra.vars)
	maps.Copy(next, vars)
	system, err := internalutil.RenderTemplate(ra.role.Persona, next)
	if err != nil {
		return fmt.Errorf("role %q: %w", ra.role.Name, err)
	}
	ra.vars = next
	ra.system = system
	ra.conv.SetSystem(system)
	return nil
}

// Chat sends message in character on the agent's own history.
func (ra *RoleAgent) Chat(ctx context.Context, message string) (string, error) {
	return ra.agent.ChatWith(ctx, ra.conv, message)
}

// Respond answers the user turn ending history in character.
func (ra *RoleAgent) Respond(ctx context.Context, history *conversation.Manager) (string, error) {
	res, err := ra.agent.Respond(ctx, history)
	if err != nil {
		return "", err
	}
	return res.FinalAnswer, nil
}

// Reset restores the original persona and clears the Chat history.
func (ra *RoleAgent) Reset() {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	ra.vars = baseVars(ra.role)
	if system, err := internalutil.RenderTemplate(ra.role.Persona, ra.vars); err == nil {
		ra.system = system
	}
	ra.conv.Reset()
	ra.conv.SetSystem(ra.system)
}
