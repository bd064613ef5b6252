package persist

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletoplab/skirmish/pkg/adapters/memory"
	"github.com/tabletoplab/skirmish/pkg/domain"
	"github.com/tabletoplab/skirmish/pkg/ports"
)

func testState(t *testing.T) *domain.SessionState {
	t.Helper()

	state := domain.NewSessionState("encounter-1", 10, 10)
	state.Status = domain.StatusActive
	state.InitiativeOrder = []domain.InitiativeEntry{
		{EntityID: "hero", EntityType: domain.EntityPlayer, InitiativeRoll: 18, OwnerID: "user-1"},
		{EntityID: "goblin", EntityType: domain.EntityMonster, InitiativeRoll: 12},
	}
	state.Participants = map[string]*domain.Participant{
		"hero": {
			EntityID:   "hero",
			EntityType: domain.EntityPlayer,
			OwnerID:    "user-1",
			CurrentHP:  25,
			MaxHP:      30,
			Position:   domain.Position{X: 2, Y: 3},
			TurnStatus: domain.TurnActive,
			Connected:  true,
		},
		"goblin": {
			EntityID:   "goblin",
			EntityType: domain.EntityMonster,
			CurrentHP:  7,
			MaxHP:      7,
			Position:   domain.Position{X: 4, Y: 3},
			TurnStatus: domain.TurnWaiting,
		},
	}
	state.MapState.EntityPositions["hero"] = domain.Placement{X: 2, Y: 3}
	state.MapState.EntityPositions["goblin"] = domain.Placement{X: 4, Y: 3}
	return state
}

func newTestPersister(t *testing.T, store ports.SnapshotStore, mutate func(*Config)) *Persister {
	t.Helper()

	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	return New(store, cfg)
}

func TestShouldPersist(t *testing.T) {
	assert.True(t, ShouldPersist(domain.TriggerPause))
	assert.True(t, ShouldPersist(domain.TriggerRoundEnd))
	assert.True(t, ShouldPersist(domain.TriggerManualSave))
	assert.False(t, ShouldPersist(domain.Trigger("turn-completed")))
	assert.False(t, ShouldPersist(domain.Trigger("")))
}

func TestSaveSnapshot_RoundTrip(t *testing.T) {
	store := memory.NewStore()
	p := newTestPersister(t, store, nil)

	state := testState(t)
	state.TurnHistory = append(state.TurnHistory, domain.TurnRecord{
		EntityID:    "hero",
		RoundNumber: 1,
		Status:      domain.RecordCompleted,
	})

	err := p.SaveSnapshot(context.Background(), state.Clone(), []string{"user-1"}, domain.TriggerPause)
	require.NoError(t, err)

	recovered, snapshot, err := p.Recover(context.Background(), "encounter-1")
	require.NoError(t, err)

	assert.Equal(t, domain.TriggerPause, snapshot.Trigger)
	assert.Equal(t, []string{"user-1"}, snapshot.ConnectedParticipantIDs)
	assert.Equal(t, 2, snapshot.ParticipantCount)

	assert.Equal(t, state.InteractionID, recovered.InteractionID)
	// Live sessions come back paused, awaiting an explicit resume.
	assert.Equal(t, domain.StatusPaused, recovered.Status)
	assert.False(t, recovered.Participants["hero"].Connected)
	assert.Equal(t, state.CurrentTurnIndex, recovered.CurrentTurnIndex)
	assert.Equal(t, state.RoundNumber, recovered.RoundNumber)
	require.Contains(t, recovered.Participants, "hero")
	assert.Equal(t, 25, recovered.Participants["hero"].CurrentHP)
	assert.Equal(t, domain.Position{X: 4, Y: 3}, recovered.Participants["goblin"].Position)
	require.Len(t, recovered.TurnHistory, 1)
	assert.Equal(t, domain.RecordCompleted, recovered.TurnHistory[0].Status)
}

func TestSaveSnapshot_CompressesLargeStates(t *testing.T) {
	store := memory.NewStore()
	p := newTestPersister(t, store, nil)

	state := testState(t)
	for i := 0; i < 200; i++ {
		state.ChatLog = append(state.ChatLog, domain.ChatMessage{
			ID:       fmt.Sprintf("msg-%d", i),
			SenderID: "user-1",
			Content:  "the goblin snarls and raises its rusty blade once more",
		})
	}

	require.NoError(t, p.SaveSnapshot(context.Background(), state, nil, domain.TriggerRoundEnd))

	snapshot, err := store.GetLatestStateSnapshot(context.Background(), "encounter-1")
	require.NoError(t, err)
	assert.True(t, snapshot.Compressed)
	assert.Greater(t, snapshot.OriginalSize, snapshot.CompressedSize)

	recovered, _, err := p.Recover(context.Background(), "encounter-1")
	require.NoError(t, err)
	// Chat tail is bounded at the configured limit.
	assert.Len(t, recovered.ChatLog, DefaultConfig().ChatTailLimit)
	assert.Equal(t, "msg-199", recovered.ChatLog[len(recovered.ChatLog)-1].ID)
}

func TestSaveSnapshot_SkipsUnlistedTrigger(t *testing.T) {
	store := memory.NewStore()
	p := newTestPersister(t, store, nil)

	require.NoError(t, p.SaveSnapshot(context.Background(), testState(t), nil, domain.Trigger("every-action")))

	_, err := store.GetLatestStateSnapshot(context.Background(), "encounter-1")
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
}

func TestSaveSnapshot_RefusesInvalidState(t *testing.T) {
	store := memory.NewStore()
	p := newTestPersister(t, store, nil)

	state := testState(t)
	state.Participants["hero"].CurrentHP = -3

	err := p.SaveSnapshot(context.Background(), state, nil, domain.TriggerPause)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to snapshot")
}

func TestSaveSnapshot_RetriesTransientFailures(t *testing.T) {
	store := memory.NewStore()
	p := newTestPersister(t, store, nil)

	store.FailNextSaves(2, errors.New("connection reset"))

	require.NoError(t, p.SaveSnapshot(context.Background(), testState(t), nil, domain.TriggerPause))

	_, _, err := p.Recover(context.Background(), "encounter-1")
	assert.NoError(t, err)
}

func TestSaveSnapshot_ExhaustsRetries(t *testing.T) {
	store := memory.NewStore()
	p := newTestPersister(t, store, nil)

	store.FailNextSaves(DefaultConfig().RetryAttempts, errors.New("connection reset"))

	err := p.SaveSnapshot(context.Background(), testState(t), nil, domain.TriggerPause)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
}

func TestRecover_RejectsCorruptedSnapshot(t *testing.T) {
	store := memory.NewStore()
	p := newTestPersister(t, store, nil)

	require.NoError(t, p.SaveSnapshot(context.Background(), testState(t), nil, domain.TriggerPause))

	snapshot, err := store.GetLatestStateSnapshot(context.Background(), "encounter-1")
	require.NoError(t, err)

	// Flip one byte of the payload and write it back.
	snapshot.GameState[len(snapshot.GameState)/2] ^= 0x01
	require.NoError(t, store.SaveStateSnapshot(context.Background(), snapshot))

	_, _, err = p.Recover(context.Background(), "encounter-1")
	assert.ErrorIs(t, err, domain.ErrSnapshotCorrupted)
	assert.ErrorIs(t, err, domain.ErrNotRecoverable)
}

func TestRecover_RejectsStaleSnapshot(t *testing.T) {
	store := memory.NewStore()
	now := time.Now()
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	p := New(store, cfg, WithClock(func() time.Time { return now }))

	require.NoError(t, p.SaveSnapshot(context.Background(), testState(t), nil, domain.TriggerPause))

	now = now.Add(25 * time.Hour)

	_, _, err := p.Recover(context.Background(), "encounter-1")
	assert.ErrorIs(t, err, domain.ErrSnapshotStale)
}

func TestRecover_NotFound(t *testing.T) {
	p := newTestPersister(t, memory.NewStore(), nil)

	_, _, err := p.Recover(context.Background(), "no-such-encounter")
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
}

func TestRecover_Disabled(t *testing.T) {
	p := newTestPersister(t, memory.NewStore(), func(cfg *Config) {
		cfg.RecoveryEnabled = false
	})

	_, _, err := p.Recover(context.Background(), "encounter-1")
	assert.ErrorIs(t, err, domain.ErrNotRecoverable)
}

func TestAppendEvent_FillsTimestamp(t *testing.T) {
	store := memory.NewStore()
	p := newTestPersister(t, store, nil)

	err := p.AppendEvent(context.Background(), ports.EventLogEntry{
		InteractionID: "encounter-1",
		EventType:     "turn_completed",
		EntityID:      "hero",
	})
	require.NoError(t, err)

	events := store.Events("encounter-1")
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestCompressRoundTrip(t *testing.T) {
	original := []byte(`{"interactionId":"encounter-1","roundNumber":3}`)

	compressed, err := Compress(original)
	require.NoError(t, err)

	restored, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, restored)

	_, err = Decompress(compressed[:2])
	assert.Error(t, err)
}

func TestPeek_PreservesStoredStatus(t *testing.T) {
	store := memory.NewStore()
	p := newTestPersister(t, store, nil)

	state := testState(t)
	require.NoError(t, p.SaveSnapshot(context.Background(), state, []string{"hero"}, domain.TriggerManualSave))

	peeked, snapshot, err := p.Peek(context.Background(), "encounter-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, peeked.Status)
	assert.True(t, peeked.Participants["hero"].Connected)
	assert.Equal(t, domain.TriggerManualSave, snapshot.Trigger)
}

func TestAppendEvent_BatchesUntilFull(t *testing.T) {
	store := memory.NewStore()
	p := newTestPersister(t, store, func(cfg *Config) {
		cfg.EventBatchSize = 3
	})

	for i := 0; i < 2; i++ {
		require.NoError(t, p.AppendEvent(context.Background(), ports.EventLogEntry{
			InteractionID: "encounter-1",
			EventType:     "turn_completed",
		}))
	}
	assert.Empty(t, store.Events("encounter-1"))

	require.NoError(t, p.AppendEvent(context.Background(), ports.EventLogEntry{
		InteractionID: "encounter-1",
		EventType:     "turn_started",
	}))
	assert.Len(t, store.Events("encounter-1"), 3)
}

func TestFlush_DrainsPartialBatch(t *testing.T) {
	store := memory.NewStore()
	p := newTestPersister(t, store, func(cfg *Config) {
		cfg.EventBatchSize = 10
	})

	require.NoError(t, p.AppendEvent(context.Background(), ports.EventLogEntry{
		InteractionID: "encounter-1",
		EventType:     "turn_completed",
	}))
	assert.Empty(t, store.Events("encounter-1"))

	require.NoError(t, p.Flush(context.Background()))
	assert.Len(t, store.Events("encounter-1"), 1)

	// Nothing buffered; a second flush is a no-op.
	require.NoError(t, p.Flush(context.Background()))
	assert.Len(t, store.Events("encounter-1"), 1)
}

func TestSaveSnapshot_FlushesBufferedEvents(t *testing.T) {
	store := memory.NewStore()
	p := newTestPersister(t, store, func(cfg *Config) {
		cfg.EventBatchSize = 10
	})

	require.NoError(t, p.AppendEvent(context.Background(), ports.EventLogEntry{
		InteractionID: "encounter-1",
		EventType:     "turn_completed",
	}))

	state := testState(t)
	require.NoError(t, p.SaveSnapshot(context.Background(), state, nil, domain.TriggerManualSave))
	assert.Len(t, store.Events("encounter-1"), 1)
}
