package memory

import (
	"context"
	"sync"

	"github.com/tabletoplab/skirmish/pkg/domain"
	"github.com/tabletoplab/skirmish/pkg/ports"
)

// Store implements ports.SnapshotStore in memory. Safe for concurrent use.
// It doubles as the test stand-in for a real durable store: failure
// injection lets persistence retry paths be exercised deterministically.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]domain.Snapshot
	events    map[string][]ports.EventLogEntry
	turns     map[string][]domain.TurnRecord
	statuses  map[string]domain.Status

	failNextSaves int
	saveErr       error
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		snapshots: make(map[string]domain.Snapshot),
		events:    make(map[string][]ports.EventLogEntry),
		turns:     make(map[string][]domain.TurnRecord),
		statuses:  make(map[string]domain.Status),
	}
}

// FailNextSaves makes the next n write calls return err. Used by tests to
// exercise bounded-retry behavior.
func (s *Store) FailNextSaves(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNextSaves = n
	s.saveErr = err
}

// consumeFailure must be called with the write lock held.
func (s *Store) consumeFailure() error {
	if s.failNextSaves > 0 {
		s.failNextSaves--
		return s.saveErr
	}
	return nil
}

// SaveStateSnapshot stores the snapshot as the latest for its interaction.
func (s *Store) SaveStateSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.consumeFailure(); err != nil {
		return err
	}

	// Copy the payload so the caller can't mutate stored bytes.
	copied := snapshot
	copied.GameState = append([]byte(nil), snapshot.GameState...)
	copied.ConnectedParticipantIDs = append([]string(nil), snapshot.ConnectedParticipantIDs...)

	s.snapshots[snapshot.InteractionID] = copied
	return nil
}

// GetLatestStateSnapshot returns the stored snapshot.
func (s *Store) GetLatestStateSnapshot(ctx context.Context, interactionID string) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[interactionID]
	if !ok {
		return domain.Snapshot{}, domain.ErrSnapshotNotFound
	}

	copied := snapshot
	copied.GameState = append([]byte(nil), snapshot.GameState...)
	copied.ConnectedParticipantIDs = append([]string(nil), snapshot.ConnectedParticipantIDs...)
	return copied, nil
}

// SaveEventLog appends the entry to the interaction's journal.
func (s *Store) SaveEventLog(ctx context.Context, entry ports.EventLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.consumeFailure(); err != nil {
		return err
	}
	s.events[entry.InteractionID] = append(s.events[entry.InteractionID], entry)
	return nil
}

// SaveTurnRecord appends the record to the interaction's turn log.
func (s *Store) SaveTurnRecord(ctx context.Context, interactionID string, record domain.TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.consumeFailure(); err != nil {
		return err
	}
	s.turns[interactionID] = append(s.turns[interactionID], record.Clone())
	return nil
}

// UpdateInteractionStatus records the lifecycle status.
func (s *Store) UpdateInteractionStatus(ctx context.Context, interactionID string, status domain.Status, extra map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.consumeFailure(); err != nil {
		return err
	}
	s.statuses[interactionID] = status
	return nil
}

// ListInteractions returns ids with stored snapshots.
func (s *Store) ListInteractions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.snapshots))
	for id := range s.snapshots {
		ids = append(ids, id)
	}
	return ids, nil
}

// Events returns the journal for an interaction. Test helper.
func (s *Store) Events(interactionID string) []ports.EventLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ports.EventLogEntry(nil), s.events[interactionID]...)
}

// TurnRecords returns the turn log for an interaction. Test helper.
func (s *Store) TurnRecords(interactionID string) []domain.TurnRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.TurnRecord(nil), s.turns[interactionID]...)
}

// Status returns the recorded lifecycle status for an interaction. Test helper.
func (s *Store) Status(interactionID string) domain.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statuses[interactionID]
}
