package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletoplab/skirmish/pkg/domain"
)

func testState() *domain.SessionState {
	state := domain.NewSessionState("encounter-1", 10, 10)
	state.InitiativeOrder = []domain.InitiativeEntry{
		{EntityID: "hero", EntityType: domain.EntityPlayer, InitiativeRoll: 18},
		{EntityID: "goblin", EntityType: domain.EntityMonster, InitiativeRoll: 12},
	}
	state.Participants = map[string]*domain.Participant{
		"hero": {
			EntityID: "hero", EntityType: domain.EntityPlayer,
			CurrentHP: 20, MaxHP: 30, Position: domain.Position{X: 2, Y: 2},
			Connected: true,
			Inventory: domain.Inventory{Items: []domain.ItemStack{
				{ID: "potion-1", ItemRef: "healing_potion", Quantity: 1},
			}},
		},
		"goblin": {
			EntityID: "goblin", EntityType: domain.EntityMonster,
			CurrentHP: 7, MaxHP: 7, Position: domain.Position{X: 3, Y: 2},
			Connected: true,
		},
	}
	state.MapState.EntityPositions["hero"] = domain.Placement{X: 2, Y: 2}
	state.MapState.EntityPositions["goblin"] = domain.Placement{X: 3, Y: 2}
	return state
}

// recorder collects delivered events. Safe for concurrent delivery from
// the queue drain goroutine.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) HandleEvent(event domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Type)
	}
	return out
}

func (r *recorder) last(eventType domain.EventType) (domain.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == eventType {
			return r.events[i], true
		}
	}
	return domain.Event{}, false
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) (*Engine, *recorder) {
	t.Helper()
	eng := New(testState(), cfg, opts...)
	t.Cleanup(eng.Close)
	rec := &recorder{}
	eng.Subscribe(rec)
	eng.Start()
	return eng, rec
}

func manualConfig() Config {
	cfg := DefaultConfig()
	cfg.AutoAdvance = false
	return cfg
}

func TestEngine_EndTurnAdvances(t *testing.T) {
	eng, rec := newTestEngine(t, manualConfig())
	rec.reset()

	result := eng.SubmitAction(domain.TurnAction{EntityID: "hero", Kind: domain.ActionEnd})
	require.True(t, result.Valid)

	state := eng.State()
	require.Len(t, state.TurnHistory, 1)
	record := state.TurnHistory[0]
	assert.Equal(t, "hero", record.EntityID)
	assert.Equal(t, 0, record.TurnNumber)
	assert.Equal(t, 1, record.RoundNumber)
	assert.Equal(t, domain.RecordCompleted, record.Status)
	require.NotNil(t, record.EndTime)

	assert.Equal(t, 1, state.CurrentTurnIndex)
	assert.Equal(t, 1, state.RoundNumber)
	assert.Equal(t, domain.TurnActive, state.Participants["goblin"].TurnStatus)
	assert.Equal(t, domain.TurnWaiting, state.Participants["hero"].TurnStatus)

	assert.Equal(t, []domain.EventType{
		domain.EventTurnCompleted,
		domain.EventTurnStarted,
		domain.EventStateDelta,
	}, rec.types())
}

func TestEngine_TimeoutSkipWrapsToNewRound(t *testing.T) {
	eng, rec := newTestEngine(t, manualConfig())
	require.True(t, eng.SubmitAction(domain.TurnAction{EntityID: "hero", Kind: domain.ActionEnd}).Valid)
	rec.reset()

	eng.SkipTurn("timeout")

	state := eng.State()
	require.Len(t, state.TurnHistory, 2)
	record := state.TurnHistory[1]
	assert.Equal(t, "goblin", record.EntityID)
	assert.Equal(t, domain.RecordTimeout, record.Status)
	assert.Empty(t, record.Actions)

	assert.Equal(t, 0, state.CurrentTurnIndex)
	assert.Equal(t, 2, state.RoundNumber)
	assert.Equal(t, domain.TurnActive, state.Participants["hero"].TurnStatus)

	skipped, ok := rec.last(domain.EventTurnSkipped)
	require.True(t, ok)
	assert.Equal(t, "timeout", skipped.Payload.(domain.TurnSkippedPayload).Reason)

	round, ok := rec.last(domain.EventNewRound)
	require.True(t, ok)
	assert.Equal(t, 2, round.Payload.(domain.NewRoundPayload).RoundNumber)
}

func TestEngine_OutOfRangeAttackRejected(t *testing.T) {
	eng, rec := newTestEngine(t, manualConfig())
	rec.reset()

	// Move the defender out of melee reach first.
	require.True(t, eng.SubmitAction(domain.TurnAction{
		EntityID: "hero",
		Kind:     domain.ActionMove,
		Position: &domain.Position{X: 0, Y: 0},
	}).Valid)
	before := eng.State()
	rec.reset()

	result := eng.SubmitAction(domain.TurnAction{
		EntityID: "hero",
		Kind:     domain.ActionAttack,
		TargetID: "goblin",
	})
	require.False(t, result.Valid)
	assert.Contains(t, result.Errors, "Target is out of range")

	state := eng.State()
	assert.Equal(t, before.Participants["goblin"].CurrentHP, state.Participants["goblin"].CurrentHP)
	assert.Empty(t, state.TurnHistory)
	assert.Equal(t, 0, state.CurrentTurnIndex)
	assert.Zero(t, rec.count(), "rejected actions must not emit events")
}

func TestEngine_MoveKeepsTurnOpen(t *testing.T) {
	eng, _ := newTestEngine(t, manualConfig())

	require.True(t, eng.SubmitAction(domain.TurnAction{
		EntityID: "hero",
		Kind:     domain.ActionMove,
		Position: &domain.Position{X: 3, Y: 3},
	}).Valid)

	state := eng.State()
	assert.Equal(t, 0, state.CurrentTurnIndex)
	assert.Empty(t, state.TurnHistory)
	assert.Equal(t, domain.TurnActive, state.Participants["hero"].TurnStatus)
	assert.Equal(t, domain.Position{X: 3, Y: 3}, state.Participants["hero"].Position)
	assert.Equal(t, domain.Placement{X: 3, Y: 3}, state.MapState.EntityPositions["hero"])

	// An attack consumes the turn and folds the earlier move into the record.
	require.True(t, eng.SubmitAction(domain.TurnAction{
		EntityID: "hero",
		Kind:     domain.ActionAttack,
		TargetID: "goblin",
	}).Valid)

	state = eng.State()
	require.Len(t, state.TurnHistory, 1)
	require.Len(t, state.TurnHistory[0].Actions, 2)
	assert.Equal(t, domain.ActionMove, state.TurnHistory[0].Actions[0].Kind)
	assert.Equal(t, domain.ActionAttack, state.TurnHistory[0].Actions[1].Kind)
	assert.Equal(t, 2, state.Participants["goblin"].CurrentHP)
	assert.Equal(t, 1, state.CurrentTurnIndex)
}

func TestEngine_BacktrackToTurn(t *testing.T) {
	eng, rec := newTestEngine(t, manualConfig())

	for i := 0; i < 5; i++ {
		eng.SkipTurn("dm skip")
	}
	state := eng.State()
	require.Len(t, state.TurnHistory, 5)
	require.Equal(t, 3, state.RoundNumber)

	// A queued action for the off-turn entity must not survive the rewind.
	_, err := eng.QueueAction(domain.TurnAction{EntityID: "goblin", Kind: domain.ActionEnd})
	require.NoError(t, err)
	require.Equal(t, 1, eng.PendingQueueLength("goblin"))

	rec.reset()
	require.NoError(t, eng.BacktrackToTurn(0, 1, "dm-1"))

	state = eng.State()
	require.Len(t, state.TurnHistory, 1)
	assert.Equal(t, 0, state.TurnHistory[0].TurnNumber)
	assert.Equal(t, 1, state.TurnHistory[0].RoundNumber)
	assert.Equal(t, 0, state.CurrentTurnIndex)
	assert.Equal(t, 1, state.RoundNumber)
	assert.Equal(t, domain.TurnActive, state.Participants["hero"].TurnStatus)
	assert.Equal(t, domain.TurnWaiting, state.Participants["goblin"].TurnStatus)
	assert.Zero(t, eng.PendingQueueLength("goblin"))

	event, ok := rec.last(domain.EventBacktracked)
	require.True(t, ok)
	payload := event.Payload.(domain.BacktrackedPayload)
	assert.Equal(t, 0, payload.TargetTurn)
	assert.Equal(t, 1, payload.TargetRound)
	assert.Equal(t, 4, payload.RemovedTurns)
	assert.Equal(t, "dm-1", payload.ActorID)
}

func TestEngine_BacktrackUnknownTurn(t *testing.T) {
	eng, _ := newTestEngine(t, manualConfig())
	err := eng.BacktrackToTurn(7, 4, "dm-1")
	assert.ErrorIs(t, err, domain.ErrTurnNotFound)
}

func TestEngine_RedoTurn(t *testing.T) {
	eng, _ := newTestEngine(t, manualConfig())

	_, err := eng.RedoTurn("goblin", []domain.TurnAction{{EntityID: "goblin", Kind: domain.ActionEnd}}, "dm-1")
	assert.ErrorIs(t, err, domain.ErrNotCurrentTurn)

	// Replay aborts on the first invalid action and leaves the turn open.
	result, err := eng.RedoTurn("hero", []domain.TurnAction{
		{EntityID: "hero", Kind: domain.ActionMove, Position: &domain.Position{X: -1, Y: 0}},
		{EntityID: "hero", Kind: domain.ActionEnd},
	}, "dm-1")
	require.NoError(t, err)
	require.False(t, result.Valid)
	assert.Empty(t, eng.State().TurnHistory)

	result, err = eng.RedoTurn("hero", []domain.TurnAction{
		{EntityID: "hero", Kind: domain.ActionMove, Position: &domain.Position{X: 2, Y: 3}},
		{EntityID: "hero", Kind: domain.ActionEnd},
	}, "dm-1")
	require.NoError(t, err)
	require.True(t, result.Valid)

	state := eng.State()
	require.Len(t, state.TurnHistory, 1)
	assert.Equal(t, 1, state.CurrentTurnIndex)
}

func TestEngine_Lifecycle(t *testing.T) {
	eng, rec := newTestEngine(t, manualConfig())

	eng.Pause()
	assert.Equal(t, domain.StatusPaused, eng.State().Status)
	_, ok := rec.last(domain.EventPaused)
	assert.True(t, ok)

	result := eng.SubmitAction(domain.TurnAction{EntityID: "hero", Kind: domain.ActionEnd})
	require.False(t, result.Valid)
	assert.Contains(t, result.Errors, "session is not active (status: paused)")

	eng.Resume()
	assert.Equal(t, domain.StatusActive, eng.State().Status)
	_, ok = rec.last(domain.EventResumed)
	assert.True(t, ok)

	eng.Complete()
	assert.Equal(t, domain.StatusCompleted, eng.State().Status)
	result = eng.SubmitAction(domain.TurnAction{EntityID: "hero", Kind: domain.ActionEnd})
	assert.False(t, result.Valid)
}

func TestEngine_UpdateInitiativeOrderResetsIndex(t *testing.T) {
	eng, _ := newTestEngine(t, manualConfig())
	require.True(t, eng.SubmitAction(domain.TurnAction{EntityID: "hero", Kind: domain.ActionEnd}).Valid)
	require.Equal(t, 1, eng.State().CurrentTurnIndex)

	eng.UpdateInitiativeOrder([]domain.InitiativeEntry{
		{EntityID: "goblin", EntityType: domain.EntityMonster, InitiativeRoll: 20},
	})

	state := eng.State()
	require.Len(t, state.InitiativeOrder, 1)
	assert.Equal(t, 0, state.CurrentTurnIndex)
}

func TestEngine_AddParticipantAndConnection(t *testing.T) {
	eng, _ := newTestEngine(t, manualConfig())

	eng.AddParticipant(&domain.Participant{
		EntityID:   "orc",
		EntityType: domain.EntityMonster,
		CurrentHP:  12, MaxHP: 12,
		Position: domain.Position{X: 6, Y: 6},
	})

	state := eng.State()
	require.Contains(t, state.Participants, "orc")
	assert.Equal(t, domain.TurnWaiting, state.Participants["orc"].TurnStatus)
	assert.Equal(t, domain.Placement{X: 6, Y: 6}, state.MapState.EntityPositions["orc"])

	require.NoError(t, eng.SetConnected("orc", false))
	assert.False(t, eng.State().Participants["orc"].Connected)

	assert.ErrorIs(t, eng.SetConnected("nobody", true), domain.ErrParticipantNotFound)
}

func TestEngine_AppendChat(t *testing.T) {
	eng, rec := newTestEngine(t, manualConfig())
	rec.reset()

	eng.AppendChat(domain.ChatMessage{SenderID: "hero", Content: "onward"})

	state := eng.State()
	require.Len(t, state.ChatLog, 1)
	assert.False(t, state.ChatLog[0].Timestamp.IsZero())

	event, ok := rec.last(domain.EventChatMessage)
	require.True(t, ok)
	assert.Equal(t, "onward", event.Payload.(domain.ChatMessage).Content)
}

func TestEngine_TurnTimerAutoAdvances(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TurnTimeout = 20 * time.Millisecond
	eng, rec := newTestEngine(t, cfg)

	require.Eventually(t, func() bool {
		return len(eng.State().TurnHistory) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	state := eng.State()
	assert.Equal(t, "hero", state.TurnHistory[0].EntityID)
	assert.Equal(t, domain.RecordTimeout, state.TurnHistory[0].Status)

	skipped, ok := rec.last(domain.EventTurnSkipped)
	require.True(t, ok)
	assert.Equal(t, "timeout", skipped.Payload.(domain.TurnSkippedPayload).Reason)
}

func TestEngine_TimerInvalidatedByAction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TurnTimeout = 50 * time.Millisecond
	eng, _ := newTestEngine(t, cfg)

	// Ending the turn before the deadline must not produce a timeout record
	// for the next entity when the stale timer fires.
	require.True(t, eng.SubmitAction(domain.TurnAction{EntityID: "hero", Kind: domain.ActionEnd}).Valid)
	eng.Pause()

	time.Sleep(120 * time.Millisecond)

	state := eng.State()
	require.Len(t, state.TurnHistory, 1)
	assert.Equal(t, domain.RecordCompleted, state.TurnHistory[0].Status)
	assert.Equal(t, domain.StatusPaused, state.Status)
}

func TestEngine_DeliveredDeltaIsStable(t *testing.T) {
	// A subscriber may hold a delta payload long after delivery (the SSE
	// bridge marshals on its own goroutine); later actions must not reach
	// back into it.
	eng, rec := newTestEngine(t, manualConfig())

	require.True(t, eng.SubmitAction(domain.TurnAction{
		EntityID: "hero",
		Kind:     domain.ActionMove,
		Position: &domain.Position{X: 2, Y: 3},
	}).Valid)

	event, ok := rec.last(domain.EventStateDelta)
	require.True(t, ok)
	delta, ok := event.Payload.(*domain.StateDelta)
	require.True(t, ok)
	require.Equal(t, domain.Position{X: 2, Y: 3}, delta.Participants["hero"].Position)

	require.True(t, eng.SubmitAction(domain.TurnAction{
		EntityID: "hero",
		Kind:     domain.ActionMove,
		Position: &domain.Position{X: 2, Y: 4},
	}).Valid)

	assert.Equal(t, domain.Position{X: 2, Y: 3}, delta.Participants["hero"].Position)
	assert.Equal(t, domain.Placement{X: 2, Y: 3}, delta.MapState.EntityPositions["hero"])
}

func TestEngine_RemoveParticipantUnknown(t *testing.T) {
	eng, _ := newTestEngine(t, manualConfig())
	assert.ErrorIs(t, eng.RemoveParticipant("ghost"), domain.ErrParticipantNotFound)
}

func TestEngine_RemoveCurrentParticipantAdvancesTurn(t *testing.T) {
	eng, rec := newTestEngine(t, manualConfig())
	rec.reset()

	require.NoError(t, eng.RemoveParticipant("hero"))

	state := eng.State()
	assert.Nil(t, state.Participant("hero"))
	assert.NotContains(t, state.MapState.EntityPositions, "hero")
	require.Len(t, state.InitiativeOrder, 1)
	assert.Equal(t, "goblin", state.InitiativeOrder[0].EntityID)

	assert.Equal(t, 0, state.CurrentTurnIndex)
	assert.Equal(t, domain.TurnActive, state.Participants["goblin"].TurnStatus)

	assert.Equal(t, []domain.EventType{
		domain.EventTurnStarted,
		domain.EventStateDelta,
	}, rec.types())
}

func TestEngine_RemoveLastInOrderWrapsRound(t *testing.T) {
	eng, rec := newTestEngine(t, manualConfig())
	require.True(t, eng.SubmitAction(domain.TurnAction{EntityID: "hero", Kind: domain.ActionEnd}).Valid)
	rec.reset()

	require.NoError(t, eng.RemoveParticipant("goblin"))

	state := eng.State()
	assert.Equal(t, 0, state.CurrentTurnIndex)
	assert.Equal(t, 2, state.RoundNumber)
	assert.Equal(t, domain.TurnActive, state.Participants["hero"].TurnStatus)

	assert.Equal(t, []domain.EventType{
		domain.EventNewRound,
		domain.EventTurnStarted,
		domain.EventStateDelta,
	}, rec.types())
}

func TestEngine_RemoveBeforeCursorKeepsCurrentEntity(t *testing.T) {
	eng, _ := newTestEngine(t, manualConfig())
	require.True(t, eng.SubmitAction(domain.TurnAction{EntityID: "hero", Kind: domain.ActionEnd}).Valid)

	require.NoError(t, eng.RemoveParticipant("hero"))

	state := eng.State()
	assert.Equal(t, 0, state.CurrentTurnIndex)
	require.NotNil(t, state.CurrentEntity())
	assert.Equal(t, "goblin", state.CurrentEntity().EntityID)
	assert.Equal(t, domain.TurnActive, state.Participants["goblin"].TurnStatus)
	assert.Equal(t, 1, state.RoundNumber)
}
