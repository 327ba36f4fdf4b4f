package conversation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GCYYfun/MengLong-sub001/core"
)

func TestManager_StrictAlternation(t *testing.T) {
	m := NewManager("")
	require.NoError(t, m.AppendUser("q1"))
	require.NoError(t, m.AppendAssistant("a1"))
	require.NoError(t, m.AppendUser("q2"))
	require.NoError(t, m.AppendAssistant("a2"))
	assert.Equal(t, 4, m.Len())
}

func TestManager_UserAfterUserFails(t *testing.T) {
	m := NewManager("be brief")
	require.NoError(t, m.AppendUser("q1"))

	err := m.AppendUser("q2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTurnOrder))

	var toe *TurnOrderError
	require.ErrorAs(t, err, &toe)
	assert.Equal(t, core.RoleUser, toe.Role)
	assert.Equal(t, core.RoleUser, toe.After)
	assert.Equal(t, 2, m.Len(), "rejected message must not be stored")
}

func TestManager_AssistantRules(t *testing.T) {
	m := NewManager("")
	assert.ErrorIs(t, m.AppendAssistant("hi"), ErrTurnOrder)

	m.SetSystem("sys")
	assert.ErrorIs(t, m.AppendAssistant("hi"), ErrTurnOrder)

	require.NoError(t, m.AppendUser("q"))
	require.NoError(t, m.AppendAssistant("a"))
	assert.ErrorIs(t, m.AppendAssistant("again"), ErrTurnOrder)
}

func TestManager_ToolTurns(t *testing.T) {
	m := NewManager("")
	require.NoError(t, m.AppendUser("add 1 and 2"))

	assert.ErrorIs(t, m.AppendToolResult("c1", "add", "3"), ErrTurnOrder)

	calls := []core.ToolCall{
		{ID: "c1", Name: "add", Arguments: map[string]any{"a": 1, "b": 2}},
		{ID: "c2", Name: "now"},
	}
	require.NoError(t, m.AppendToolCalls("", calls))

	// A user turn cannot interrupt pending tool calls.
	assert.ErrorIs(t, m.AppendUser("hello?"), ErrTurnOrder)

	require.NoError(t, m.AppendToolResult("c1", "add", "3"))
	require.NoError(t, m.AppendToolResult("c2", "now", "noon"))
	assert.ErrorIs(t, m.AppendToolResult("c9", "x", "?"), ErrTurnOrder)

	require.NoError(t, m.AppendAssistant("3, at noon"))
	assert.Equal(t, 5, m.Len())
}

func TestManager_SetSystemIsIdempotent(t *testing.T) {
	m := NewManager("")
	require.NoError(t, m.AppendUser("q"))

	m.SetSystem("first")
	m.SetSystem("second")

	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, core.SystemMessage("second"), snap[0])

	sys, ok := m.System()
	assert.True(t, ok)
	assert.Equal(t, "second", sys)

	// Append routes system messages through SetSystem.
	require.NoError(t, m.Append(core.SystemMessage("third")))
	assert.Equal(t, 2, m.Len())
}

func TestManager_ClearAndReset(t *testing.T) {
	m := NewManager("sys")
	require.NoError(t, m.AppendUser("q"))
	require.NoError(t, m.AppendAssistant("a"))

	m.Clear()
	assert.Equal(t, []core.Message{core.SystemMessage("sys")}, m.Snapshot())

	m.Reset()
	assert.Zero(t, m.Len())
	_, ok := m.System()
	assert.False(t, ok)

	m2 := NewManager("")
	require.NoError(t, m2.AppendUser("q"))
	m2.Clear()
	assert.Zero(t, m2.Len())
}

func TestManager_SnapshotIsIsolated(t *testing.T) {
	m := NewManager("")
	require.NoError(t, m.AppendUser("q"))
	require.NoError(t, m.AppendToolCalls("", []core.ToolCall{{ID: "1", Name: "t", Arguments: map[string]any{"k": "v"}}}))

	snap := m.Snapshot()
	snap[0].Content = "changed"
	snap[1].ToolCalls[0].Arguments["k"] = "changed"

	again := m.Snapshot()
	assert.Equal(t, "q", again[0].Content)
	assert.Equal(t, "v", again[1].ToolCalls[0].Arguments["k"])
}

func TestManager_PopLastFork(t *testing.T) {
	m := NewManager("sys")
	require.NoError(t, m.AppendUser("q"))

	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, "q", last.Content)

	fork := m.Fork()
	require.NoError(t, fork.AppendAssistant("a"))
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 3, fork.Len())

	popped, ok := m.Pop()
	require.True(t, ok)
	assert.Equal(t, core.RoleUser, popped.Role)
	m.Pop()
	_, ok = m.Pop()
	assert.False(t, ok)
	_, ok = m.Last()
	assert.False(t, ok)
}

func TestFromMessages(t *testing.T) {
	m, err := FromMessages([]core.Message{
		core.SystemMessage("s"),
		core.UserMessage("q"),
		core.AssistantMessage("a"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, "system: s\nuser: q\nassistant: a\n", m.Transcript())

	_, err = FromMessages([]core.Message{core.AssistantMessage("a")})
	assert.ErrorIs(t, err, ErrTurnOrder)
}

func TestDialogue(t *testing.T) {
	d := NewDialogue("you are A", "you are B", "")
	require.NoError(t, d.Open("Start talking about tea."))

	require.NoError(t, d.ActiveSays("I like green tea."))
	require.NoError(t, d.PassiveSays("I prefer black tea."))
	require.NoError(t, d.ActiveSays("Fair enough."))

	active := d.Active.Snapshot()
	require.Len(t, active, 5)
	assert.Equal(t, core.RoleAssistant, active[2].Role)
	assert.Equal(t, core.UserMessage("I prefer black tea."), active[3])

	passive := d.Passive.Snapshot()
	require.Len(t, passive, 4)
	assert.Equal(t, core.UserMessage("I like green tea."), passive[1])
	assert.Equal(t, core.AssistantMessage("I prefer black tea."), passive[2])

	assert.Equal(t, 3, d.Topic.Len())

	// Two active turns in a row are rejected and leave every history untouched.
	err := d.ActiveSays("Another one.")
	assert.ErrorIs(t, err, ErrTurnOrder)
	assert.Equal(t, 5, d.Active.Len())
	assert.Equal(t, 4, d.Passive.Len())
	assert.Equal(t, 3, d.Topic.Len())

	d.Clear()
	assert.Equal(t, 1, d.Active.Len())
	assert.Zero(t, d.Topic.Len())
}
