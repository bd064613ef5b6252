package domain

import (
	"reflect"
	"time"
)

// StateDelta represents the changes between two session states. It is
// designed to be serialized to JSON for partial updates on connected
// clients: only changed top-level fields, changed participants, and newly
// appended records are present.
type StateDelta struct {
	InteractionID string `json:"interactionId"`

	Status           *Status `json:"status,omitempty"`
	CurrentTurnIndex *int    `json:"currentTurnIndex,omitempty"`
	RoundNumber      *int    `json:"roundNumber,omitempty"`

	// InitiativeOrder is sent whole when it changed; order replacement is
	// rare and not worth a positional diff.
	InitiativeOrder []InitiativeEntry `json:"initiativeOrder,omitempty"`

	// Participants holds full records for every participant that changed,
	// was added, or reconnected. Removed participants appear with a nil value.
	Participants map[string]*Participant `json:"participants,omitempty"`

	// MapState is sent whole when any placement, obstacle or terrain changed.
	MapState *MapState `json:"mapState,omitempty"`

	// TurnRecords and ChatMessages contain items appended since the old
	// state. A backtrack truncates history instead; TurnHistoryTruncated
	// carries the new length so clients drop their tail.
	TurnRecords          []TurnRecord  `json:"turnRecords,omitempty"`
	ChatMessages         []ChatMessage `json:"chatMessages,omitempty"`
	TurnHistoryTruncated *int          `json:"turnHistoryTruncated,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Diff calculates the delta between old and new. If old is nil the delta
// represents the entire new state (initial load). Returns nil when nothing
// changed.
//
// The delta owns deep copies of everything it carries. Deltas are handed to
// subscribers and serialized on other goroutines after the producing call
// returns; sharing structure with the live state would let later mutations
// bleed into already-delivered payloads.
func Diff(old, new *SessionState) *StateDelta {
	if new == nil {
		return nil
	}

	delta := &StateDelta{
		InteractionID: new.InteractionID,
		Timestamp:     new.Timestamp,
	}

	if old == nil || old.Status != new.Status {
		delta.Status = &new.Status
	}
	if old == nil || old.CurrentTurnIndex != new.CurrentTurnIndex {
		delta.CurrentTurnIndex = &new.CurrentTurnIndex
	}
	if old == nil || old.RoundNumber != new.RoundNumber {
		delta.RoundNumber = &new.RoundNumber
	}
	if old == nil || !reflect.DeepEqual(old.InitiativeOrder, new.InitiativeOrder) {
		delta.InitiativeOrder = append([]InitiativeEntry(nil), new.InitiativeOrder...)
	}
	if old == nil || !reflect.DeepEqual(&old.MapState, &new.MapState) {
		delta.MapState = new.MapState.Clone()
	}

	delta.Participants = diffParticipants(old, new)
	diffHistory(old, new, delta)

	if delta.isZero() {
		return nil
	}
	return delta
}

func diffParticipants(old, new *SessionState) map[string]*Participant {
	changed := make(map[string]*Participant)

	for id, p := range new.Participants {
		if old == nil {
			changed[id] = p.Clone()
			continue
		}
		prev, exists := old.Participants[id]
		if !exists || !reflect.DeepEqual(prev, p) {
			changed[id] = p.Clone()
		}
	}

	if old != nil {
		for id := range old.Participants {
			if _, exists := new.Participants[id]; !exists {
				changed[id] = nil
			}
		}
	}

	if len(changed) == 0 {
		return nil
	}
	return changed
}

func diffHistory(old, new *SessionState, delta *StateDelta) {
	oldTurns := 0
	oldChat := 0
	if old != nil {
		oldTurns = len(old.TurnHistory)
		oldChat = len(old.ChatLog)
	}

	switch {
	case len(new.TurnHistory) > oldTurns:
		tail := new.TurnHistory[oldTurns:]
		delta.TurnRecords = make([]TurnRecord, 0, len(tail))
		for _, record := range tail {
			delta.TurnRecords = append(delta.TurnRecords, record.Clone())
		}
	case len(new.TurnHistory) < oldTurns:
		// Backtrack truncated the tail.
		n := len(new.TurnHistory)
		delta.TurnHistoryTruncated = &n
	}

	if len(new.ChatLog) > oldChat {
		delta.ChatMessages = append([]ChatMessage(nil), new.ChatLog[oldChat:]...)
	}
}

func (d *StateDelta) isZero() bool {
	return d.Status == nil &&
		d.CurrentTurnIndex == nil &&
		d.RoundNumber == nil &&
		d.InitiativeOrder == nil &&
		d.MapState == nil &&
		len(d.Participants) == 0 &&
		len(d.TurnRecords) == 0 &&
		len(d.ChatMessages) == 0 &&
		d.TurnHistoryTruncated == nil
}

// IsEmpty reports whether the delta contains any actionable changes.
func (d *StateDelta) IsEmpty() bool {
	return d == nil || d.isZero()
}
