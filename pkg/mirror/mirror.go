// Package mirror implements optimistic client-side prediction. A Mirror
// applies actions locally through the same pure rules the authoritative
// engine runs, keeps a bounded rollback history, and reconciles its
// speculative state against confirmed server updates. The authoritative
// state always wins; reconciliation replaces, it never merges.
package mirror

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tabletoplab/skirmish/pkg/domain"
	"github.com/tabletoplab/skirmish/pkg/rules"
)

// ErrPredictionNotFound is returned when a rollback or reconcile references
// an unknown prediction id.
var ErrPredictionNotFound = fmt.Errorf("prediction not found")

// DefaultHistoryLimit bounds how many speculative predictions are retained.
const DefaultHistoryLimit = 10

// Prediction is one speculative action recorded for rollback.
type Prediction struct {
	ID            string
	Action        domain.TurnAction
	OriginalState *domain.SessionState
	Timestamp     time.Time
}

// Mirror holds a client's local view of a session and its outstanding
// predictions.
type Mirror struct {
	mu      sync.Mutex
	state   *domain.SessionState
	history []Prediction
	limit   int
	rules   rules.Config
	now     func() time.Time
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithHistoryLimit overrides the bounded prediction history size.
func WithHistoryLimit(limit int) Option {
	return func(m *Mirror) {
		if limit > 0 {
			m.limit = limit
		}
	}
}

// WithRules overrides the combat numbers used for local prediction. They
// must match the server's, or every prediction will be rolled back.
func WithRules(cfg rules.Config) Option {
	return func(m *Mirror) {
		m.rules = cfg
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Mirror) {
		m.now = now
	}
}

// New creates a mirror seeded with the given authoritative state. The
// mirror takes a deep copy; the caller keeps ownership of its argument.
func New(state *domain.SessionState, opts ...Option) *Mirror {
	m := &Mirror{
		state: state.Clone(),
		limit: DefaultHistoryLimit,
		rules: rules.DefaultConfig(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns a deep copy of the current (possibly speculative) state.
func (m *Mirror) State() *domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// PendingPredictions returns the number of unconfirmed predictions.
func (m *Mirror) PendingPredictions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// PredictAction validates and applies an action against the local state.
// On success it records a rollback entry and returns its id with a deep
// copy of the predicted state. An invalid action changes nothing.
func (m *Mirror) PredictAction(action domain.TurnAction) (string, *domain.SessionState, domain.ValidationResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if result := rules.Validate(m.state, action, m.rules); !result.Valid {
		return "", nil, result
	}

	original := m.state.Clone()
	if _, err := rules.Apply(m.state, action, m.rules); err != nil {
		// Apply failed after validation passed; restore and report.
		m.state = original
		return "", nil, domain.Invalid(fmt.Sprintf("prediction failed: %v", err))
	}

	p := Prediction{
		ID:            uuid.NewString(),
		Action:        action.Clone(),
		OriginalState: original,
		Timestamp:     m.now().UTC(),
	}
	m.history = append(m.history, p)
	if len(m.history) > m.limit {
		m.history = m.history[len(m.history)-m.limit:]
	}

	return p.ID, m.state.Clone(), domain.OK()
}

// ReconcileWithServer accepts an authoritative state. When predictionID is
// non-empty the matching prediction is discarded first. If the local state
// is equivalent to the authoritative one the mirror keeps running as-is;
// otherwise the authoritative state replaces the local state and every
// outstanding prediction is dropped. Returns true when the local state
// survived.
func (m *Mirror) ReconcileWithServer(authoritative *domain.SessionState, predictionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if predictionID != "" {
		m.dropPredictionLocked(predictionID)
	}

	if Equivalent(m.state, authoritative) {
		// Confirmed: adopt the authoritative copy anyway so fields outside
		// the comparison (timestamps, chat, history) stay in sync.
		m.state = authoritative.Clone()
		return true
	}

	m.state = authoritative.Clone()
	m.history = nil
	return false
}

// RollbackPrediction restores the state recorded before the most recent
// prediction and discards it.
func (m *Mirror) RollbackPrediction() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return fmt.Errorf("rollback: %w", ErrPredictionNotFound)
	}
	last := m.history[len(m.history)-1]
	m.history = m.history[:len(m.history)-1]
	m.state = last.OriginalState
	return nil
}

// RollbackPredictionByID restores the state recorded before the identified
// prediction. Later predictions built on top of it are discarded too.
func (m *Mirror) RollbackPredictionByID(predictionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.history {
		if m.history[i].ID == predictionID {
			m.state = m.history[i].OriginalState
			m.history = m.history[:i]
			return nil
		}
	}
	return fmt.Errorf("rollback %s: %w", predictionID, ErrPredictionNotFound)
}

func (m *Mirror) dropPredictionLocked(predictionID string) {
	for i := range m.history {
		if m.history[i].ID == predictionID {
			m.history = append(m.history[:i], m.history[i+1:]...)
			return
		}
	}
}

// Equivalent reports whether two states agree on the fields a client can
// observe diverging: turn index, round, status, and per-participant
// HP/position/turn status.
func Equivalent(a, b *domain.SessionState) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.CurrentTurnIndex != b.CurrentTurnIndex ||
		a.RoundNumber != b.RoundNumber ||
		a.Status != b.Status {
		return false
	}
	if len(a.Participants) != len(b.Participants) {
		return false
	}
	for id, pa := range a.Participants {
		pb, ok := b.Participants[id]
		if !ok || pa == nil || pb == nil {
			return false
		}
		if pa.CurrentHP != pb.CurrentHP ||
			pa.Position != pb.Position ||
			pa.TurnStatus != pb.TurnStatus {
			return false
		}
	}
	return true
}
