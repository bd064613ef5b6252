package middleware

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/tabletoplab/skirmish/pkg/domain"
	"github.com/tabletoplab/skirmish/pkg/ports"
)

const redactedPlaceholder = "[REDACTED]"

type redactionMiddleware struct {
	next     ports.SnapshotStore
	patterns []*regexp.Regexp
}

// NewRedactionMiddleware creates a middleware that masks substrings
// matching the patterns (emails, phone numbers, whatever the operator
// configures) in chat content before it reaches durable storage. The live
// session is untouched; only the stored copy is masked.
func NewRedactionMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.SnapshotStore) ports.SnapshotStore {
		return &redactionMiddleware{next: next, patterns: patterns}
	}
}

func (m *redactionMiddleware) SaveEventLog(ctx context.Context, entry ports.EventLogEntry) error {
	if entry.EventType == string(domain.EventChatMessage) {
		if message, ok := entry.EventData.(domain.ChatMessage); ok {
			message.Content = m.mask(message.Content)
			entry.EventData = message
		}
	}
	return m.next.SaveEventLog(ctx, entry)
}

func (m *redactionMiddleware) SaveStateSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	// The chat log travels inside the serialized game state; masking it
	// means decoding, masking and re-encoding. Compressed payloads are
	// left alone, their chat tail was already masked in the event journal.
	if snapshot.Compressed {
		return m.next.SaveStateSnapshot(ctx, snapshot)
	}

	var state domain.SessionState
	if err := json.Unmarshal(snapshot.GameState, &state); err != nil {
		return m.next.SaveStateSnapshot(ctx, snapshot)
	}

	changed := false
	for i := range state.ChatLog {
		masked := m.mask(state.ChatLog[i].Content)
		if masked != state.ChatLog[i].Content {
			state.ChatLog[i].Content = masked
			changed = true
		}
	}
	if changed {
		if payload, err := json.Marshal(&state); err == nil {
			snapshot.GameState = payload
			snapshot.Checksum = snapshot.ComputeChecksum()
		}
	}
	return m.next.SaveStateSnapshot(ctx, snapshot)
}

func (m *redactionMiddleware) mask(content string) string {
	for _, pattern := range m.patterns {
		content = pattern.ReplaceAllString(content, redactedPlaceholder)
	}
	return content
}

func (m *redactionMiddleware) GetLatestStateSnapshot(ctx context.Context, interactionID string) (domain.Snapshot, error) {
	return m.next.GetLatestStateSnapshot(ctx, interactionID)
}

func (m *redactionMiddleware) SaveTurnRecord(ctx context.Context, interactionID string, record domain.TurnRecord) error {
	return m.next.SaveTurnRecord(ctx, interactionID, record)
}

func (m *redactionMiddleware) UpdateInteractionStatus(ctx context.Context, interactionID string, status domain.Status, extra map[string]any) error {
	return m.next.UpdateInteractionStatus(ctx, interactionID, status, extra)
}

func (m *redactionMiddleware) ListInteractions(ctx context.Context) ([]string, error) {
	return m.next.ListInteractions(ctx)
}
