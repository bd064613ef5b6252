package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
	"github.com/tabletoplab/skirmish/pkg/domain"
	"github.com/tabletoplab/skirmish/pkg/ports"
)

// Store implements ports.SnapshotStore using Redis. The latest snapshot per
// interaction is a plain key; event and turn logs are append-only lists; an
// index ZSET tracks known interactions by last-write time.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for snapshot keys. Zero means no expiration.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Redis store with its own client.
func New(address, password string, db int, opts ...Option) *Store {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(client, opts...)
}

// NewFromClient creates a Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "skirmish:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) snapshotKey(interactionID string) string {
	return s.prefix + "snapshot:" + interactionID
}

func (s *Store) eventsKey(interactionID string) string {
	return s.prefix + "events:" + interactionID
}

func (s *Store) turnsKey(interactionID string) string {
	return s.prefix + "turns:" + interactionID
}

func (s *Store) statusKey(interactionID string) string {
	return s.prefix + "status:" + interactionID
}

func (s *Store) indexKey() string {
	return s.prefix + "interactions"
}

// SaveStateSnapshot persists the snapshot and refreshes the interaction index.
func (s *Store) SaveStateSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.snapshotKey(snapshot.InteractionID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  float64(snapshot.Timestamp.Unix()),
		Member: snapshot.InteractionID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot to redis: %w", err)
	}
	return nil
}

// GetLatestStateSnapshot loads the stored snapshot for the interaction.
func (s *Store) GetLatestStateSnapshot(ctx context.Context, interactionID string) (domain.Snapshot, error) {
	val, err := s.client.Get(ctx, s.snapshotKey(interactionID)).Result()
	if err != nil {
		if err == backend.Nil {
			return domain.Snapshot{}, domain.ErrSnapshotNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("get snapshot from redis: %w", err)
	}

	var snapshot domain.Snapshot
	if err := json.Unmarshal([]byte(val), &snapshot); err != nil {
		return domain.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snapshot, nil
}

// SaveEventLog appends the entry to the interaction's journal list.
func (s *Store) SaveEventLog(ctx context.Context, entry ports.EventLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal event log entry: %w", err)
	}
	if err := s.client.RPush(ctx, s.eventsKey(entry.InteractionID), data).Err(); err != nil {
		return fmt.Errorf("append event log: %w", err)
	}
	return nil
}

// SaveTurnRecord appends the record to the interaction's turn list.
func (s *Store) SaveTurnRecord(ctx context.Context, interactionID string, record domain.TurnRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal turn record: %w", err)
	}
	if err := s.client.RPush(ctx, s.turnsKey(interactionID), data).Err(); err != nil {
		return fmt.Errorf("append turn record: %w", err)
	}
	return nil
}

// UpdateInteractionStatus stores the lifecycle status as a hash.
func (s *Store) UpdateInteractionStatus(ctx context.Context, interactionID string, status domain.Status, extra map[string]any) error {
	fields := map[string]any{
		"status":    string(status),
		"updatedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if len(extra) > 0 {
		data, err := json.Marshal(extra)
		if err != nil {
			return fmt.Errorf("marshal status extra: %w", err)
		}
		fields["extra"] = string(data)
	}
	if err := s.client.HSet(ctx, s.statusKey(interactionID), fields).Err(); err != nil {
		return fmt.Errorf("update interaction status: %w", err)
	}
	return nil
}

// ListInteractions returns known interaction ids, most recent last.
func (s *Store) ListInteractions(ctx context.Context) ([]string, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	return ids, nil
}

// EventLog returns the full journal for an interaction.
func (s *Store) EventLog(ctx context.Context, interactionID string) ([]ports.EventLogEntry, error) {
	raw, err := s.client.LRange(ctx, s.eventsKey(interactionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	entries := make([]ports.EventLogEntry, 0, len(raw))
	for _, item := range raw {
		var entry ports.EventLogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal event log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// TurnRecords returns the full turn log for an interaction.
func (s *Store) TurnRecords(ctx context.Context, interactionID string) ([]domain.TurnRecord, error) {
	raw, err := s.client.LRange(ctx, s.turnsKey(interactionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read turn records: %w", err)
	}
	records := make([]domain.TurnRecord, 0, len(raw))
	for _, item := range raw {
		var record domain.TurnRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			return nil, fmt.Errorf("unmarshal turn record: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
