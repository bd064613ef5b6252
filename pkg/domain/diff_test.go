package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func diffState() *SessionState {
	state := NewSessionState("encounter-1", 10, 10)
	state.Status = StatusActive
	state.InitiativeOrder = []InitiativeEntry{
		{EntityID: "hero", EntityType: EntityPlayer, InitiativeRoll: 18},
		{EntityID: "goblin", EntityType: EntityMonster, InitiativeRoll: 12},
	}
	state.Participants = map[string]*Participant{
		"hero":   {EntityID: "hero", EntityType: EntityPlayer, CurrentHP: 20, MaxHP: 30, Position: Position{X: 2, Y: 2}},
		"goblin": {EntityID: "goblin", EntityType: EntityMonster, CurrentHP: 7, MaxHP: 7, Position: Position{X: 3, Y: 2}},
	}
	state.MapState.EntityPositions["hero"] = Placement{X: 2, Y: 2}
	state.MapState.EntityPositions["goblin"] = Placement{X: 3, Y: 2}
	return state
}

func TestDiff_NoChanges(t *testing.T) {
	state := diffState()
	delta := Diff(state, state.Clone())
	assert.True(t, delta.IsEmpty())
}

func TestDiff_NilOldIsFullState(t *testing.T) {
	state := diffState()
	delta := Diff(nil, state)
	require.False(t, delta.IsEmpty())
	require.NotNil(t, delta.Status)
	assert.Equal(t, StatusActive, *delta.Status)
	require.NotNil(t, delta.CurrentTurnIndex)
	require.NotNil(t, delta.RoundNumber)
	assert.Len(t, delta.Participants, 2)
	require.NotNil(t, delta.MapState)
}

func TestDiff_ChangedParticipantOnly(t *testing.T) {
	old := diffState()
	updated := old.Clone()
	updated.Participants["goblin"].CurrentHP = 2

	delta := Diff(old, updated)
	require.False(t, delta.IsEmpty())
	assert.Nil(t, delta.Status)
	assert.Nil(t, delta.CurrentTurnIndex)
	assert.Nil(t, delta.MapState)
	require.Len(t, delta.Participants, 1)
	assert.Equal(t, 2, delta.Participants["goblin"].CurrentHP)
}

func TestDiff_RemovedParticipantIsNilEntry(t *testing.T) {
	old := diffState()
	updated := old.Clone()
	delete(updated.Participants, "goblin")
	delete(updated.MapState.EntityPositions, "goblin")

	delta := Diff(old, updated)
	require.Contains(t, delta.Participants, "goblin")
	assert.Nil(t, delta.Participants["goblin"])
	require.NotNil(t, delta.MapState)
}

func TestDiff_TurnAdvance(t *testing.T) {
	old := diffState()
	updated := old.Clone()
	updated.CurrentTurnIndex = 1
	end := updated.Timestamp
	updated.TurnHistory = append(updated.TurnHistory, TurnRecord{
		EntityID: "hero", TurnNumber: 0, RoundNumber: 1,
		EndTime: &end, Status: RecordCompleted,
	})

	delta := Diff(old, updated)
	require.NotNil(t, delta.CurrentTurnIndex)
	assert.Equal(t, 1, *delta.CurrentTurnIndex)
	require.Len(t, delta.TurnRecords, 1)
	assert.Equal(t, "hero", delta.TurnRecords[0].EntityID)
	assert.Nil(t, delta.TurnHistoryTruncated)
}

func TestDiff_BacktrackTruncation(t *testing.T) {
	old := diffState()
	for i := 0; i < 4; i++ {
		old.TurnHistory = append(old.TurnHistory, TurnRecord{EntityID: "hero", TurnNumber: i % 2})
	}
	updated := old.Clone()
	updated.TurnHistory = updated.TurnHistory[:1]

	delta := Diff(old, updated)
	require.NotNil(t, delta.TurnHistoryTruncated)
	assert.Equal(t, 1, *delta.TurnHistoryTruncated)
	assert.Empty(t, delta.TurnRecords)
}

func TestDiff_AppendedChat(t *testing.T) {
	old := diffState()
	old.ChatLog = []ChatMessage{{ID: "m1", SenderID: "hero", Content: "hello"}}
	updated := old.Clone()
	updated.ChatLog = append(updated.ChatLog, ChatMessage{ID: "m2", SenderID: "goblin", Content: "grr"})

	delta := Diff(old, updated)
	require.Len(t, delta.ChatMessages, 1)
	assert.Equal(t, "m2", delta.ChatMessages[0].ID)
}

func TestDiff_InitiativeReplacedWhole(t *testing.T) {
	old := diffState()
	updated := old.Clone()
	updated.InitiativeOrder = []InitiativeEntry{
		{EntityID: "goblin", EntityType: EntityMonster, InitiativeRoll: 20},
		{EntityID: "hero", EntityType: EntityPlayer, InitiativeRoll: 18},
	}

	delta := Diff(old, updated)
	require.Len(t, delta.InitiativeOrder, 2)
	assert.Equal(t, "goblin", delta.InitiativeOrder[0].EntityID)
}

func TestClone_Isolation(t *testing.T) {
	state := diffState()
	state.Participants["hero"].Inventory.Items = []ItemStack{{ID: "potion-1", ItemRef: "healing_potion", Quantity: 2}}
	state.Participants["hero"].Conditions = []Condition{{ID: "c1", Name: "poisoned", DurationRounds: 2}}
	state.MapState.Obstacles = []Position{{X: 5, Y: 5}}

	clone := state.Clone()
	clone.Participants["hero"].CurrentHP = 1
	clone.Participants["hero"].Inventory.Items[0].Quantity = 0
	clone.Participants["hero"].Conditions[0].DurationRounds = 9
	clone.MapState.EntityPositions["hero"] = Placement{X: 9, Y: 9}
	clone.MapState.Obstacles[0] = Position{X: 0, Y: 0}
	clone.InitiativeOrder[0].InitiativeRoll = 1

	assert.Equal(t, 20, state.Participants["hero"].CurrentHP)
	assert.Equal(t, 2, state.Participants["hero"].Inventory.Items[0].Quantity)
	assert.Equal(t, 2, state.Participants["hero"].Conditions[0].DurationRounds)
	assert.Equal(t, Placement{X: 2, Y: 2}, state.MapState.EntityPositions["hero"])
	assert.Equal(t, Position{X: 5, Y: 5}, state.MapState.Obstacles[0])
	assert.Equal(t, 18, state.InitiativeOrder[0].InitiativeRoll)
}

func TestValidateState(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, ValidateState(diffState()))
	})

	t.Run("nil state", func(t *testing.T) {
		assert.Error(t, ValidateState(nil))
	})

	tests := []struct {
		name    string
		mutate  func(*SessionState)
		wantErr string
	}{
		{"empty id", func(s *SessionState) { s.InteractionID = "" }, "interactionId is empty"},
		{"unknown status", func(s *SessionState) { s.Status = "archived" }, `unknown status "archived"`},
		{"index out of range", func(s *SessionState) { s.CurrentTurnIndex = 5 }, "currentTurnIndex 5 out of range"},
		{"round below one", func(s *SessionState) { s.RoundNumber = 0 }, "roundNumber 0 < 1"},
		{"negative hp", func(s *SessionState) { s.Participants["hero"].CurrentHP = -1 }, `participant "hero" hp -1`},
		{"hp above max", func(s *SessionState) { s.Participants["hero"].CurrentHP = 99 }, `participant "hero" hp 99`},
		{"nil participant", func(s *SessionState) { s.Participants["ghost"] = nil }, `participant "ghost" is nil`},
		{"negative quantity", func(s *SessionState) {
			s.Participants["hero"].Inventory.Items = []ItemStack{{ID: "potion-1", Quantity: -1}}
		}, `quantity -1 < 0`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := diffState()
			tt.mutate(state)
			err := ValidateState(state)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDiff_DeltaOwnsItsData(t *testing.T) {
	// Deltas are delivered to subscribers and serialized on other
	// goroutines; mutations after the diff must not bleed into them.
	old := diffState()
	updated := old.Clone()
	updated.Participants["hero"].Position = Position{X: 2, Y: 3}
	updated.MapState.EntityPositions["hero"] = Placement{X: 2, Y: 3}
	updated.TurnHistory = append(updated.TurnHistory, TurnRecord{
		TurnNumber: 0,
		EntityID:   "hero",
		Actions:    []TurnAction{{Kind: ActionMove, EntityID: "hero"}},
	})

	delta := Diff(old, updated)
	require.False(t, delta.IsEmpty())

	updated.Participants["hero"].Position = Position{X: 2, Y: 4}
	updated.MapState.EntityPositions["hero"] = Placement{X: 2, Y: 4}
	updated.TurnHistory[0].Actions[0].Kind = ActionEnd
	updated.InitiativeOrder[0].InitiativeRoll = 1

	assert.Equal(t, Position{X: 2, Y: 3}, delta.Participants["hero"].Position)
	assert.Equal(t, Placement{X: 2, Y: 3}, delta.MapState.EntityPositions["hero"])
	require.Len(t, delta.TurnRecords, 1)
	assert.Equal(t, ActionMove, delta.TurnRecords[0].Actions[0].Kind)
}
