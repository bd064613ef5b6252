package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tabletoplab/skirmish/internal/logging"
	"github.com/tabletoplab/skirmish/pkg/domain"
	"github.com/tabletoplab/skirmish/pkg/ports"
)

// Config holds the durability options.
type Config struct {
	// RetryAttempts bounds how many times a failed store call is retried.
	RetryAttempts int
	// RetryDelay is the base delay; backoff is linear (delay * attempt).
	RetryDelay time.Duration
	// CompressionEnabled gates snapshot compression.
	CompressionEnabled bool
	// CompressionThreshold is the serialized size above which compression
	// is applied.
	CompressionThreshold int
	// MaxSnapshotAge rejects snapshots older than this on recovery.
	MaxSnapshotAge time.Duration
	// ChatTailLimit bounds the chat log kept inside a snapshot.
	ChatTailLimit int
	// TurnTailLimit bounds the turn history kept inside a snapshot.
	TurnTailLimit int
	// RecoveryEnabled gates crash recovery entirely.
	RecoveryEnabled bool
	// EventBatchSize buffers event log entries and writes them in groups
	// of this size. 1 writes every entry through immediately.
	EventBatchSize int
}

// DefaultConfig returns the standard durability options.
func DefaultConfig() Config {
	return Config{
		RetryAttempts:        3,
		RetryDelay:           200 * time.Millisecond,
		CompressionEnabled:   true,
		CompressionThreshold: 1024,
		MaxSnapshotAge:       24 * time.Hour,
		ChatTailLimit:        100,
		TurnTailLimit:        50,
		RecoveryEnabled:      true,
		EventBatchSize:       1,
	}
}

// persistTriggers is the fixed allow-list of snapshot triggers. Anything
// outside this list is not persisted, bounding write volume.
var persistTriggers = map[domain.Trigger]struct{}{
	domain.TriggerPause:          {},
	domain.TriggerComplete:       {},
	domain.TriggerInactivity:     {},
	domain.TriggerRoundEnd:       {},
	domain.TriggerDisconnect:     {},
	domain.TriggerDMDisconnect:   {},
	domain.TriggerEntityDefeated: {},
	domain.TriggerServerRestart:  {},
	domain.TriggerCriticalError:  {},
	domain.TriggerManualSave:     {},
}

// ShouldPersist reports whether the trigger qualifies for a snapshot write.
func ShouldPersist(trigger domain.Trigger) bool {
	_, ok := persistTriggers[trigger]
	return ok
}

// Observer receives durability health signals. Implemented by the metrics
// set; a nil observer is replaced with a no-op.
type Observer interface {
	SnapshotSaved(trigger domain.Trigger, bytes int)
	PersistRetried()
	PersistFailed()
}

type nopObserver struct{}

func (nopObserver) SnapshotSaved(domain.Trigger, int) {}
func (nopObserver) PersistRetried()                   {}
func (nopObserver) PersistFailed()                    {}

// Persister implements the durability layer: checksummed, optionally
// compressed snapshots with bounded retry, plus event/turn log appends
// under the same retry discipline. It always operates on deep copies, so
// slow or retried I/O never observes concurrent state mutation.
type Persister struct {
	store    ports.SnapshotStore
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	observer Observer

	batchMu sync.Mutex
	batch   []ports.EventLogEntry
}

// Option configures the Persister.
type Option func(*Persister)

// WithLogger sets the persister logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Persister) {
		p.logger = logger
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(p *Persister) {
		p.now = now
	}
}

// WithObserver attaches durability health reporting.
func WithObserver(observer Observer) Option {
	return func(p *Persister) {
		if observer != nil {
			p.observer = observer
		}
	}
}

// New creates a Persister backed by the given store.
func New(store ports.SnapshotStore, cfg Config, opts ...Option) *Persister {
	p := &Persister{
		store:    store,
		cfg:      cfg,
		logger:   logging.NewNop(),
		now:      time.Now,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SaveSnapshot validates, serializes, optionally compresses, checksums and
// persists the state. The state must already be a copy owned by the caller;
// its tail windows are truncated in place before serialization. Triggers
// outside the allow-list are skipped silently.
func (p *Persister) SaveSnapshot(ctx context.Context, state *domain.SessionState, connectedIDs []string, trigger domain.Trigger) error {
	if !ShouldPersist(trigger) {
		return nil
	}

	// The journal must not trail the snapshot it accompanies.
	if err := p.Flush(ctx); err != nil {
		p.logger.Warn("event log flush before snapshot failed",
			"interaction_id", state.InteractionID, "err", err)
	}

	if err := domain.ValidateState(state); err != nil {
		return fmt.Errorf("refusing to snapshot invalid state: %w", err)
	}

	truncateTails(state, p.cfg.ChatTailLimit, p.cfg.TurnTailLimit)

	payload, err := marshalState(state)
	if err != nil {
		return fmt.Errorf("serialize state: %w", err)
	}

	snapshot := domain.Snapshot{
		InteractionID:           state.InteractionID,
		GameState:               payload,
		ParticipantCount:        len(state.Participants),
		ConnectedParticipantIDs: connectedIDs,
		Timestamp:               p.now().UTC(),
		Trigger:                 trigger,
	}

	if p.cfg.CompressionEnabled && len(payload) > p.cfg.CompressionThreshold {
		compressed, err := Compress(payload)
		if err != nil {
			return fmt.Errorf("compress snapshot: %w", err)
		}
		snapshot.GameState = compressed
		snapshot.Compressed = true
		snapshot.OriginalSize = len(payload)
		snapshot.CompressedSize = len(compressed)
	}

	snapshot.Checksum = snapshot.ComputeChecksum()

	err = p.withRetry(ctx, "save snapshot", func() error {
		return p.store.SaveStateSnapshot(ctx, snapshot)
	})
	if err != nil {
		return fmt.Errorf("save snapshot for %s (trigger %s): %w", state.InteractionID, trigger, err)
	}
	p.observer.SnapshotSaved(trigger, len(snapshot.GameState))

	p.logger.Debug("snapshot saved",
		"interaction_id", state.InteractionID,
		"trigger", trigger,
		"compressed", snapshot.Compressed,
		"bytes", len(snapshot.GameState),
	)
	return nil
}

// AppendEvent appends an event log entry with the standard retry
// discipline. With EventBatchSize above 1 the entry is buffered and the
// whole batch is written once it fills; use Flush to drain early. Batched
// appends are at-least-once: a retried batch may duplicate entries already
// written.
func (p *Persister) AppendEvent(ctx context.Context, entry ports.EventLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = p.now().UTC()
	}

	if p.cfg.EventBatchSize <= 1 {
		return p.withRetry(ctx, "append event log", func() error {
			return p.store.SaveEventLog(ctx, entry)
		})
	}

	p.batchMu.Lock()
	p.batch = append(p.batch, entry)
	if len(p.batch) < p.cfg.EventBatchSize {
		p.batchMu.Unlock()
		return nil
	}
	pending := p.batch
	p.batch = nil
	p.batchMu.Unlock()

	return p.writeEntries(ctx, pending)
}

// Flush writes any buffered event log entries immediately.
func (p *Persister) Flush(ctx context.Context) error {
	p.batchMu.Lock()
	pending := p.batch
	p.batch = nil
	p.batchMu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	return p.writeEntries(ctx, pending)
}

func (p *Persister) writeEntries(ctx context.Context, entries []ports.EventLogEntry) error {
	return p.withRetry(ctx, "append event log", func() error {
		for _, entry := range entries {
			if err := p.store.SaveEventLog(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendTurnRecord appends a turn record with the standard retry discipline.
func (p *Persister) AppendTurnRecord(ctx context.Context, interactionID string, record domain.TurnRecord) error {
	return p.withRetry(ctx, "append turn record", func() error {
		return p.store.SaveTurnRecord(ctx, interactionID, record)
	})
}

// UpdateStatus records the interaction lifecycle status.
func (p *Persister) UpdateStatus(ctx context.Context, interactionID string, status domain.Status, extra map[string]any) error {
	return p.withRetry(ctx, "update interaction status", func() error {
		return p.store.UpdateInteractionStatus(ctx, interactionID, status, extra)
	})
}

// withRetry runs fn up to RetryAttempts times with linearly increasing
// delay. Gameplay continues in memory regardless of persistence failure;
// exhausting retries surfaces an explicit error to the caller.
func (p *Persister) withRetry(ctx context.Context, op string, fn func() error) error {
	attempts := p.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		p.logger.Warn("persistence attempt failed",
			"op", op,
			"attempt", attempt,
			"attempts", attempts,
			"err", lastErr,
		)

		if attempt < attempts {
			p.observer.PersistRetried()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.RetryDelay * time.Duration(attempt)):
			}
		}
	}
	p.observer.PersistFailed()
	return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}

// truncateTails bounds the chat log and turn history kept in a snapshot so
// its size does not grow unbounded over a long session.
func truncateTails(state *domain.SessionState, chatLimit, turnLimit int) {
	if chatLimit > 0 && len(state.ChatLog) > chatLimit {
		state.ChatLog = append([]domain.ChatMessage(nil), state.ChatLog[len(state.ChatLog)-chatLimit:]...)
	}
	if turnLimit > 0 && len(state.TurnHistory) > turnLimit {
		state.TurnHistory = append([]domain.TurnRecord(nil), state.TurnHistory[len(state.TurnHistory)-turnLimit:]...)
	}
}
