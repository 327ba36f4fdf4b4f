package conversation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/GCYYfun/MengLong-sub001/core"
)

// ErrTurnOrder is matched by every *TurnOrderError.
var ErrTurnOrder = errors.New("invalid turn order")

// TurnOrderError reports an append that would break turn alternation.
type TurnOrderError struct {
	Role   core.Role // role of the rejected message
	After  core.Role // role of the last message, empty for an empty history
	Reason string
}

func (e *TurnOrderError) Error() string {
	after := string(e.After)
	if after == "" {
		after = "empty context"
	}
	msg := fmt.Sprintf("invalid turn order: %s message cannot follow %s", e.Role, after)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is makes errors.Is(err, ErrTurnOrder) succeed.
func (e *TurnOrderError) Is(target error) bool { return target == ErrTurnOrder }

// Manager holds one conversation history. Readers may snapshot concurrently
// with a writer, but a Manager is meant to be driven by a single loop.
type Manager struct {
	mu       sync.RWMutex
	messages []core.Message
}

// NewManager returns a history seeded with a system message, or an empty one
// when system is "".
func NewManager(system string) *Manager {
	m := &Manager{}
	if system != "" {
		m.messages = append(m.messages, core.SystemMessage(system))
	}
	return m
}

// FromMessages rebuilds a Manager from a transcript, validating turn order.
func FromMessages(msgs []core.Message) (*Manager, error) {
	m := &Manager{}
	for _, msg := range msgs {
		if err := m.Append(msg); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Append adds msg after checking it may follow the current last message.
// System messages are routed through SetSystem.
func (m *Manager) Append(msg core.Message) error {
	if msg.Role == core.RoleSystem {
		m.SetSystem(msg.Content)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(msg); err != nil {
		return err
	}
	m.messages = append(m.messages, msg.Clone())
	return nil
}

// AppendUser adds a user turn.
func (m *Manager) AppendUser(text string) error {
	return m.Append(core.UserMessage(text))
}

// AppendAssistant adds a plain assistant reply.
func (m *Manager) AppendAssistant(text string) error {
	return m.Append(core.AssistantMessage(text))
}

// AppendToolCalls adds an assistant turn requesting the given tool calls.
func (m *Manager) AppendToolCalls(text string, calls []core.ToolCall) error {
	return m.Append(core.Message{Role: core.RoleAssistant, Content: text, ToolCalls: calls})
}

// AppendToolResult adds the tool turn answering call callID.
func (m *Manager) AppendToolResult(callID, name, content string) error {
	return m.Append(core.ToolMessage(callID, name, content))
}

func (m *Manager) check(msg core.Message) error {
	var last *core.Message
	if n := len(m.messages); n > 0 {
		last = &m.messages[n-1]
	}
	reject := func(reason string) error {
		e := &TurnOrderError{Role: msg.Role, Reason: reason}
		if last != nil {
			e.After = last.Role
		}
		return e
	}

	switch msg.Role {
	case core.RoleUser:
		if last == nil || last.Role == core.RoleSystem || last.Role == core.RoleAssistant {
			if last != nil && last.HasToolCalls() {
				return reject("tool calls are still unanswered")
			}
			return nil
		}
		return reject("")
	case core.RoleAssistant:
		if last != nil && (last.Role == core.RoleUser || last.Role == core.RoleTool) {
			return nil
		}
		return reject("")
	case core.RoleTool:
		req := m.pendingRequest()
		if req == nil {
			return reject("no assistant turn requested tools")
		}
		if msg.ToolCallID == "" {
			return nil
		}
		for _, tc := range req.ToolCalls {
			if tc.ID == msg.ToolCallID {
				return nil
			}
		}
		return reject(fmt.Sprintf("unknown tool call id %q", msg.ToolCallID))
	default:
		return reject(fmt.Sprintf("unknown role %q", msg.Role))
	}
}

// pendingRequest returns the assistant turn the trailing tool messages answer.
func (m *Manager) pendingRequest() *core.Message {
	for i := len(m.messages) - 1; i >= 0; i-- {
		switch m.messages[i].Role {
		case core.RoleTool:
			continue
		case core.RoleAssistant:
			if m.messages[i].HasToolCalls() {
				return &m.messages[i]
			}
		}
		return nil
	}
	return nil
}

// SetSystem sets the leading system message, replacing an existing one.
func (m *Manager) SetSystem(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.messages) > 0 && m.messages[0].Role == core.RoleSystem {
		m.messages[0].Content = text
		return
	}
	m.messages = append([]core.Message{core.SystemMessage(text)}, m.messages...)
}

// System returns the system message text and whether one is set.
func (m *Manager) System() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.messages) > 0 && m.messages[0].Role == core.RoleSystem {
		return m.messages[0].Content, true
	}
	return "", false
}

// Reset empties the history, including the system message.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}

// Clear empties the history but keeps a leading system message.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.messages) > 0 && m.messages[0].Role == core.RoleSystem {
		m.messages = m.messages[:1]
		return
	}
	m.messages = nil
}

// Snapshot returns a deep copy of the history in order.
func (m *Manager) Snapshot() []core.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.Message, len(m.messages))
	for i, msg := range m.messages {
		out[i] = msg.Clone()
	}
	return out
}

// Last returns the most recent message.
func (m *Manager) Last() (core.Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.messages) == 0 {
		return core.Message{}, false
	}
	return m.messages[len(m.messages)-1].Clone(), true
}

// Len returns the number of messages.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

// Pop removes and returns the most recent message.
func (m *Manager) Pop() (core.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.messages)
	if n == 0 {
		return core.Message{}, false
	}
	last := m.messages[n-1]
	m.messages = m.messages[:n-1]
	return last, true
}

// Fork returns an independent copy of the history.
func (m *Manager) Fork() *Manager {
	return &Manager{messages: m.Snapshot()}
}

// Transcript renders the history one message per line.
func (m *Manager) Transcript() string {
	var out []byte
	for _, msg := range m.Snapshot() {
		out = append(out, msg.String()...)
		out = append(out, '\n')
	}
	return string(out)
}
