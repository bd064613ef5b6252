package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	adapter "github.com/tabletoplab/skirmish/pkg/adapters/redis"
	"github.com/tabletoplab/skirmish/pkg/domain"
	"github.com/tabletoplab/skirmish/pkg/ports"
	"github.com/tabletoplab/skirmish/pkg/ports/tests"
)

func newTestStore(t *testing.T, opts ...adapter.Option) (*adapter.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	return adapter.NewFromClient(client, opts...), mr
}

func TestRedisStore_Contract(t *testing.T) {
	store, _ := newTestStore(t)
	tests.SnapshotStoreContractTest(t, store)
}

func TestRedisStore_EventLogRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := store.SaveEventLog(ctx, ports.EventLogEntry{
			InteractionID: "enc-1",
			EventType:     string(domain.EventTurnCompleted),
			EntityID:      "hero",
			Timestamp:     time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	entries, err := store.EventLog(ctx, "enc-1")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, "hero", entries[0].EntityID)
}

func TestRedisStore_TurnRecordsPreserveOrder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		err := store.SaveTurnRecord(ctx, "enc-1", domain.TurnRecord{
			EntityID:    "hero",
			TurnNumber:  i % 2,
			RoundNumber: 1 + i/2,
			StartTime:   time.Now().UTC(),
			Status:      domain.RecordCompleted,
		})
		require.NoError(t, err)
	}

	records, err := store.TurnRecords(ctx, "enc-1")
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, 1, records[0].RoundNumber)
	assert.Equal(t, 2, records[3].RoundNumber)
}

func TestRedisStore_TTLExpiration(t *testing.T) {
	store, mr := newTestStore(t, adapter.WithTTL(time.Second))
	ctx := context.Background()

	err := store.SaveStateSnapshot(ctx, domain.Snapshot{
		InteractionID: "enc-ttl",
		GameState:     []byte("{}"),
		Timestamp:     time.Now().UTC(),
	})
	require.NoError(t, err)

	_, err = store.GetLatestStateSnapshot(ctx, "enc-ttl")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = store.GetLatestStateSnapshot(ctx, "enc-ttl")
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
}
