package conversation

// Dialogue holds the histories of a two-agent conversation. Each speaker
// sees its own turns as assistant messages and the other's as user messages;
// Topic records the exchange from a neutral point of view.
type Dialogue struct {
	Active  *Manager
	Passive *Manager
	Topic   *Manager
}

// NewDialogue creates a Dialogue with the given system prompts.
func NewDialogue(activeSystem, passiveSystem, topicSystem string) *Dialogue {
	return &Dialogue{
		Active:  NewManager(activeSystem),
		Passive: NewManager(passiveSystem),
		Topic:   NewManager(topicSystem),
	}
}

// Open gives the active agent the prompt that starts the conversation.
func (d *Dialogue) Open(prompt string) error {
	return d.Active.AppendUser(prompt)
}

// ActiveSays records a turn spoken by the active agent.
func (d *Dialogue) ActiveSays(text string) error {
	return record(
		turnAppend{d.Active, (*Manager).AppendAssistant},
		turnAppend{d.Passive, (*Manager).AppendUser},
		turnAppend{d.Topic, (*Manager).AppendUser},
	)(text)
}

// PassiveSays records a turn spoken by the passive agent.
func (d *Dialogue) PassiveSays(text string) error {
	return record(
		turnAppend{d.Passive, (*Manager).AppendAssistant},
		turnAppend{d.Active, (*Manager).AppendUser},
		turnAppend{d.Topic, (*Manager).AppendAssistant},
	)(text)
}

type turnAppend struct {
	m  *Manager
	fn func(*Manager, string) error
}

// record applies the appends in order, undoing the earlier ones if a later
// one is rejected.
func record(steps ...turnAppend) func(text string) error {
	return func(text string) error {
		for i, s := range steps {
			if err := s.fn(s.m, text); err != nil {
				for _, prev := range steps[:i] {
					prev.m.Pop()
				}
				return err
			}
		}
		return nil
	}
}

// Reset empties all three histories.
func (d *Dialogue) Reset() {
	d.Active.Reset()
	d.Passive.Reset()
	d.Topic.Reset()
}

// Clear empties all three histories, keeping their system messages.
func (d *Dialogue) Clear() {
	d.Active.Clear()
	d.Passive.Clear()
	d.Topic.Clear()
}
