package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tabletoplab/skirmish/pkg/adapters/memory"
	"github.com/tabletoplab/skirmish/pkg/domain"
	"github.com/tabletoplab/skirmish/pkg/ports/tests"
)

func TestMemoryStore_Contract(t *testing.T) {
	tests.SnapshotStoreContractTest(t, memory.NewStore())
}

func TestMemoryStore_FailureInjection(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	boom := errors.New("store unavailable")

	store.FailNextSaves(2, boom)

	snapshot := domain.Snapshot{InteractionID: "i1", GameState: []byte("{}")}
	assert.ErrorIs(t, store.SaveStateSnapshot(ctx, snapshot), boom)
	assert.ErrorIs(t, store.SaveStateSnapshot(ctx, snapshot), boom)
	// Third attempt succeeds.
	assert.NoError(t, store.SaveStateSnapshot(ctx, snapshot))

	got, err := store.GetLatestStateSnapshot(ctx, "i1")
	assert.NoError(t, err)
	assert.Equal(t, "i1", got.InteractionID)
}

func TestMemoryStore_SnapshotIsolation(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	payload := []byte(`{"round":1}`)
	err := store.SaveStateSnapshot(ctx, domain.Snapshot{InteractionID: "i1", GameState: payload})
	assert.NoError(t, err)

	// Mutating the caller's slice must not change the stored copy.
	payload[2] = 'X'

	got, err := store.GetLatestStateSnapshot(ctx, "i1")
	assert.NoError(t, err)
	assert.Equal(t, `{"round":1}`, string(got.GameState))
}
