package ports

import (
	"context"
	"time"

	"github.com/tabletoplab/skirmish/pkg/domain"
)

// EventLogEntry is one appended entry in the durable event journal.
type EventLogEntry struct {
	InteractionID string    `json:"interactionId"`
	EventType     string    `json:"eventType"`
	EventData     any       `json:"eventData,omitempty"`
	UserID        string    `json:"userId,omitempty"`
	EntityID      string    `json:"entityId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// SnapshotStore is the durable-storage collaborator contract. All calls are
// idempotent-safe to retry; snapshot checksums guard against corrupted
// reads. Implementations must not assume they are called from a single
// goroutine.
type SnapshotStore interface {
	// SaveStateSnapshot persists a snapshot as the latest for its interaction.
	SaveStateSnapshot(ctx context.Context, snapshot domain.Snapshot) error

	// GetLatestStateSnapshot returns the most recent snapshot for the
	// interaction. Returns domain.ErrSnapshotNotFound if none exists.
	GetLatestStateSnapshot(ctx context.Context, interactionID string) (domain.Snapshot, error)

	// SaveEventLog appends an entry to the interaction's event journal.
	SaveEventLog(ctx context.Context, entry EventLogEntry) error

	// SaveTurnRecord appends a turn record to the interaction's turn log.
	SaveTurnRecord(ctx context.Context, interactionID string, record domain.TurnRecord) error

	// UpdateInteractionStatus records the session lifecycle status, with
	// optional extra fields (e.g. completion reason).
	UpdateInteractionStatus(ctx context.Context, interactionID string, status domain.Status, extra map[string]any) error

	// ListInteractions returns the ids of interactions with stored snapshots.
	ListInteractions(ctx context.Context) ([]string, error)
}
