package roleplay

import (
	"context"
	"fmt"
	"strings"

	"github.com/GCYYfun/MengLong-sub001/conversation"
	"github.com/GCYYfun/MengLong-sub001/core"
	internalutil "github.com/GCYYfun/MengLong-sub001/internal/util"
	"github.com/GCYYfun/MengLong-sub001/logging"
)

// EndMarker signals that a speaker wants to end the conversation.
const EndMarker = "[END]"

// BackgroundSpeaker labels transcript lines that no role spoke.
const BackgroundSpeaker = "background"

// ConversationOptions configures a Conversation.
type ConversationOptions struct {
	// MaxTurns bounds the number of rounds (one line from each speaker).
	MaxTurns int
	// EndMarker overrides the default end marker.
	EndMarker string
	// OnLine is called for every spoken line.
	OnLine func(Line)
	Logger logging.Logger
}

// Line is one entry of a transcript.
type Line struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Transcript is the outcome of Conversation.Run.
type Transcript struct {
	Lines []Line `json:"lines"`
	// Rounds counts the rounds started, including a final round cut short by
	// the end marker.
	Rounds int `json:"rounds"`
	// Ended is true when both speakers emitted the end marker.
	Ended bool `json:"ended"`
}

func (t *Transcript) String() string {
	var b strings.Builder
	for _, l := range t.Lines {
		fmt.Fprintf(&b, "%s: %s\n", l.Speaker, l.Text)
	}
	return b.String()
}

// Conversation alternates an active and a passive RoleAgent. The active
// speaker opens with its view of the topic; the exchange ends once both
// speakers have emitted the end marker, not necessarily in the same round.
type Conversation struct {
	active  *RoleAgent
	passive *RoleAgent

	activeTopic  string
	passiveTopic string

	maxTurns int
	marker   string
	onLine   func(Line)
	logger   logging.Logger

	dialogue *conversation.Dialogue
}

// NewConversation renders topic for each speaker and prepares the dialogue.
// The topic template sees .name, .peer_name and .peer_info; the passive
// speaker's persona receives its rendering as .topic.
func NewConversation(topic string, active, passive *RoleAgent, optFns ...func(o *ConversationOptions)) (*Conversation, error) {
	opts := ConversationOptions{MaxTurns: 20, EndMarker: EndMarker}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxTurns <= 0 {
		return nil, fmt.Errorf("max turns must be positive, got %d", opts.MaxTurns)
	}

	activeTopic, err := renderTopic(topic, active, passive)
	if err != nil {
		return nil, err
	}
	passiveTopic, err := renderTopic(topic, passive, active)
	if err != nil {
		return nil, err
	}
	if err := passive.UpdateSystemPrompt(map[string]any{"topic": passiveTopic}); err != nil {
		return nil, err
	}

	return &Conversation{
		active:       active,
		passive:      passive,
		activeTopic:  activeTopic,
		passiveTopic: passiveTopic,
		maxTurns:     opts.MaxTurns,
		marker:       opts.EndMarker,
		onLine:       opts.OnLine,
		logger:       logging.OrNoOp(opts.Logger),
		dialogue:     conversation.NewDialogue(active.SystemPrompt(), passive.SystemPrompt(), activeTopic),
	}, nil
}

func renderTopic(topic string, self, peer *RoleAgent) (string, error) {
	out, err := internalutil.RenderTemplate(topic, map[string]any{
		"name":      self.Name(),
		"peer_name": peer.Name(),
		"peer_info": peer.Role().Describe(),
	})
	if err != nil {
		return "", fmt.Errorf("topic for %q: %w", self.Name(), err)
	}
	return out, nil
}

// ActiveTopic returns the topic as rendered for the active speaker.
func (c *Conversation) ActiveTopic() string { return c.activeTopic }

// PassiveTopic returns the topic as rendered for the passive speaker.
func (c *Conversation) PassiveTopic() string { return c.passiveTopic }

// Dialogue exposes the three histories of the exchange.
func (c *Conversation) Dialogue() *conversation.Dialogue { return c.dialogue }

// Run plays the conversation from the start. A model failure or
// cancellation stops it; the transcript so far is returned with the error.
func (c *Conversation) Run(ctx context.Context) (*Transcript, error) {
	c.dialogue.Reset()
	c.dialogue.Active.SetSystem(c.active.SystemPrompt())
	c.dialogue.Passive.SetSystem(c.passive.SystemPrompt())
	c.dialogue.Topic.SetSystem(c.activeTopic)

	if err := c.dialogue.Open(c.activeTopic); err != nil {
		return nil, err
	}

	var activeEnded, passiveEnded bool
	out := &Transcript{}

	for out.Rounds < c.maxTurns {
		out.Rounds++

		text, err := c.active.Respond(ctx, c.dialogue.Active)
		if err != nil {
			return c.transcript(out), fmt.Errorf("%s: %w", c.active.Name(), err)
		}
		if err := c.dialogue.ActiveSays(text); err != nil {
			return c.transcript(out), err
		}
		c.emit(c.active.Name(), text)
		activeEnded = activeEnded || strings.Contains(text, c.marker)
		if activeEnded && passiveEnded {
			out.Ended = true
			break
		}

		text, err = c.passive.Respond(ctx, c.dialogue.Passive)
		if err != nil {
			return c.transcript(out), fmt.Errorf("%s: %w", c.passive.Name(), err)
		}
		if err := c.dialogue.PassiveSays(text); err != nil {
			return c.transcript(out), err
		}
		c.emit(c.passive.Name(), text)
		passiveEnded = passiveEnded || strings.Contains(text, c.marker)
		if activeEnded && passiveEnded {
			out.Ended = true
			break
		}
	}

	if !out.Ended {
		c.logger.Warn("roleplay.max_turns", "active", c.active.Name(), "passive", c.passive.Name(), "rounds", out.Rounds)
	}
	return c.transcript(out), nil
}

func (c *Conversation) emit(speaker, text string) {
	c.logger.Debug("roleplay.line", "speaker", speaker, "chars", len(text))
	if c.onLine != nil {
		c.onLine(Line{Speaker: speaker, Text: text})
	}
}

// transcript relabels the neutral history with the speaker names.
func (c *Conversation) transcript(out *Transcript) *Transcript {
	msgs := c.dialogue.Topic.Snapshot()
	out.Lines = make([]Line, 0, len(msgs))
	for _, m := range msgs {
		speaker := BackgroundSpeaker
		switch m.Role {
		case core.RoleUser:
			speaker = c.active.Name()
		case core.RoleAssistant:
			speaker = c.passive.Name()
		}
		out.Lines = append(out.Lines, Line{Speaker: speaker, Text: m.Content})
	}
	return out
}
