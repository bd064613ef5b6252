package engine

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tabletoplab/skirmish/pkg/domain"
)

// ErrQueueDisabled is returned when actions are queued against an engine
// configured without a turn queue.
var ErrQueueDisabled = errors.New("action queue disabled")

// drainYield is the pause between drained queue items, so a long queue
// never monopolizes the scheduler.
const drainYield = 10 * time.Millisecond

type queuedAction struct {
	ID     string
	Action domain.TurnAction
}

// actionQueue is a per-entity FIFO of pending actions. Items are drained
// sequentially once the owning entity's turn is current.
type actionQueue struct {
	items    []queuedAction
	draining bool
}

// QueueAction appends the action to its entity's FIFO and returns the queue
// entry id. Draining begins immediately when the entity already holds the
// turn; otherwise the queue waits for its owner's turn to become current.
func (e *Engine) QueueAction(action domain.TurnAction) (string, error) {
	if !e.cfg.QueueEnabled {
		return "", ErrQueueDisabled
	}

	id := uuid.NewString()

	e.mu.Lock()
	q := e.queues[action.EntityID]
	if q == nil {
		q = &actionQueue{}
		e.queues[action.EntityID] = q
	}
	q.items = append(q.items, queuedAction{ID: id, Action: action})
	e.scheduleDrainLocked(action.EntityID)
	e.mu.Unlock()

	return id, nil
}

// CancelQueuedAction removes a pending queue entry by id. An entry already
// being processed cannot be cancelled mid-step.
func (e *Engine) CancelQueuedAction(entityID, queueID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	q := e.queues[entityID]
	if q == nil {
		return false
	}
	for i := range q.items {
		if q.items[i].ID == queueID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// ClearQueue drops every pending action for the entity.
func (e *Engine) ClearQueue(entityID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if q := e.queues[entityID]; q != nil {
		q.items = nil
	}
}

// PendingQueueLength reports how many actions are waiting for the entity.
func (e *Engine) PendingQueueLength(entityID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if q := e.queues[entityID]; q != nil {
		return len(q.items)
	}
	return 0
}

// scheduleDrainLocked starts the drain goroutine for the entity's queue if
// it has pending work, its owner holds the turn, and no drain is running.
func (e *Engine) scheduleDrainLocked(entityID string) {
	if !e.cfg.QueueEnabled {
		return
	}
	q := e.queues[entityID]
	if q == nil || q.draining || len(q.items) == 0 {
		return
	}
	if e.state.Status != domain.StatusActive {
		return
	}
	current := e.state.CurrentEntity()
	if current == nil || current.EntityID != entityID {
		return
	}

	q.draining = true
	go e.drain(entityID)
}

// drain processes queued actions sequentially with a small yield between
// items. It stops at the first invalid result, at an end action, or when
// the owner no longer holds the turn.
func (e *Engine) drain(entityID string) {
	for {
		e.mu.Lock()
		q := e.queues[entityID]
		if q == nil {
			e.mu.Unlock()
			return
		}

		current := e.state.CurrentEntity()
		stillCurrent := e.state.Status == domain.StatusActive &&
			current != nil && current.EntityID == entityID
		if len(q.items) == 0 || !stillCurrent {
			q.draining = false
			e.mu.Unlock()
			return
		}

		item := q.items[0]
		q.items = q.items[1:]

		result, events := e.submitLocked(item.Action)
		if !result.Valid || item.Action.Kind == domain.ActionEnd {
			q.draining = false
			e.mu.Unlock()
			e.deliver(events)
			return
		}
		e.mu.Unlock()
		e.deliver(events)

		time.Sleep(drainYield)
	}
}
