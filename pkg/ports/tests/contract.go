package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tabletoplab/skirmish/pkg/domain"
	"github.com/tabletoplab/skirmish/pkg/ports"
)

// SnapshotStoreContractTest is a reusable suite verifying that an adapter
// complies with ports.SnapshotStore semantics.
func SnapshotStoreContractTest(t *testing.T, store ports.SnapshotStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetLatest_NotFound", func(t *testing.T) {
		_, err := store.GetLatestStateSnapshot(ctx, "missing-interaction")
		if !errors.Is(err, domain.ErrSnapshotNotFound) {
			t.Errorf("expected ErrSnapshotNotFound, got %v", err)
		}
	})

	t.Run("Save_Then_GetLatest", func(t *testing.T) {
		first := domain.Snapshot{
			InteractionID: "interaction-1",
			GameState:     []byte(`{"round":1}`),
			Timestamp:     time.Now().UTC().Add(-time.Minute),
			Trigger:       domain.TriggerPause,
			Checksum:      "aaa",
		}
		second := domain.Snapshot{
			InteractionID: "interaction-1",
			GameState:     []byte(`{"round":2}`),
			Timestamp:     time.Now().UTC(),
			Trigger:       domain.TriggerRoundEnd,
			Checksum:      "bbb",
		}

		if err := store.SaveStateSnapshot(ctx, first); err != nil {
			t.Fatalf("save first: %v", err)
		}
		if err := store.SaveStateSnapshot(ctx, second); err != nil {
			t.Fatalf("save second: %v", err)
		}

		got, err := store.GetLatestStateSnapshot(ctx, "interaction-1")
		if err != nil {
			t.Fatalf("get latest: %v", err)
		}
		if got.Checksum != "bbb" {
			t.Errorf("expected latest snapshot, got checksum %q", got.Checksum)
		}
		if string(got.GameState) != `{"round":2}` {
			t.Errorf("game state mismatch: %s", got.GameState)
		}
	})

	t.Run("SaveEventLog_And_TurnRecord", func(t *testing.T) {
		entry := ports.EventLogEntry{
			InteractionID: "interaction-1",
			EventType:     string(domain.EventTurnCompleted),
			EventData:     map[string]any{"entityId": "hero"},
			EntityID:      "hero",
			Timestamp:     time.Now().UTC(),
		}
		if err := store.SaveEventLog(ctx, entry); err != nil {
			t.Fatalf("save event log: %v", err)
		}

		record := domain.TurnRecord{
			EntityID:    "hero",
			TurnNumber:  0,
			RoundNumber: 1,
			StartTime:   time.Now().UTC(),
			Status:      domain.RecordCompleted,
		}
		if err := store.SaveTurnRecord(ctx, "interaction-1", record); err != nil {
			t.Fatalf("save turn record: %v", err)
		}
	})

	t.Run("UpdateInteractionStatus", func(t *testing.T) {
		err := store.UpdateInteractionStatus(ctx, "interaction-1", domain.StatusPaused, map[string]any{"reason": "break"})
		if err != nil {
			t.Fatalf("update status: %v", err)
		}
		// Idempotent-safe to retry.
		if err := store.UpdateInteractionStatus(ctx, "interaction-1", domain.StatusPaused, nil); err != nil {
			t.Fatalf("repeat update status: %v", err)
		}
	})

	t.Run("ListInteractions", func(t *testing.T) {
		ids, err := store.ListInteractions(ctx)
		if err != nil {
			t.Fatalf("list interactions: %v", err)
		}
		found := false
		for _, id := range ids {
			if id == "interaction-1" {
				found = true
			}
		}
		if !found {
			t.Errorf("interaction-1 missing from list: %v", ids)
		}
	})
}
