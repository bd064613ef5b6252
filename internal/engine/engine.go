package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tabletoplab/skirmish/internal/logging"
	"github.com/tabletoplab/skirmish/pkg/domain"
	"github.com/tabletoplab/skirmish/pkg/rules"
)

// Config holds the turn-engine options.
type Config struct {
	// TurnTimeout is how long an entity may hold its turn before it is
	// skipped. Only enforced when AutoAdvance is set.
	TurnTimeout time.Duration
	// AutoAdvance enables the turn timer.
	AutoAdvance bool
	// ValidationEnabled gates rule validation. Disabled only in trusted
	// tooling paths; actions are still executed through the shared rules.
	ValidationEnabled bool
	// QueueEnabled gates the per-entity action queue.
	QueueEnabled bool
	// Rules carries the placeholder combat numbers.
	Rules rules.Config
}

// DefaultConfig returns the standard engine options.
func DefaultConfig() Config {
	return Config{
		TurnTimeout:       90 * time.Second,
		AutoAdvance:       true,
		ValidationEnabled: true,
		QueueEnabled:      true,
		Rules:             rules.DefaultConfig(),
	}
}

// Engine owns one SessionState and is its only writer. All mutation is
// synchronous under a single mutex, so an action can never be observed
// half-applied. Events are delivered to subscribers after the mutex is
// released, in emission order.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	state *domain.SessionState

	subscribers []domain.Subscriber
	queues      map[string]*actionQueue

	// Single-shot turn timer. The generation counter invalidates callbacks
	// from timers that were cleared after firing was already scheduled.
	timer    *time.Timer
	timerGen uint64

	turnStartedAt time.Time
	turnActions   []domain.TurnAction

	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine owning the given state. The state must not be
// touched by the caller afterwards.
func New(state *domain.SessionState, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		state:  state,
		queues: make(map[string]*actionQueue),
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.turnStartedAt = e.now().UTC()
	return e
}

// Subscribe registers a subscriber. Delivery is synchronous and FIFO.
func (e *Engine) Subscribe(sub domain.Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, sub)
}

// State returns a deep copy of the current session state.
func (e *Engine) State() *domain.SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// InteractionID returns the id of the owned session.
func (e *Engine) InteractionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.InteractionID
}

// emit queues an event for delivery once the mutex is released.
func (e *Engine) emit(pending *[]domain.Event, eventType domain.EventType, payload any) {
	*pending = append(*pending, domain.Event{
		Type:          eventType,
		InteractionID: e.state.InteractionID,
		Timestamp:     e.now().UTC(),
		Payload:       payload,
	})
}

// deliver sends events to subscribers. Must be called without the mutex.
func (e *Engine) deliver(events []domain.Event) {
	if len(events) == 0 {
		return
	}
	e.mu.Lock()
	subs := append([]domain.Subscriber(nil), e.subscribers...)
	e.mu.Unlock()

	for _, event := range events {
		for _, sub := range subs {
			sub.HandleEvent(event)
		}
	}
}

// emitDelta computes the delta against the pre-mutation state and appends a
// state_delta event when anything changed.
func (e *Engine) emitDelta(pending *[]domain.Event, before *domain.SessionState) {
	e.state.Timestamp = e.now().UTC()
	if delta := domain.Diff(before, e.state); !delta.IsEmpty() {
		e.emit(pending, domain.EventStateDelta, delta)
	}
}

// SubmitAction validates, executes and records an action, advancing the
// turn when the action consumes it. Validation failures are returned as
// data; the room keeps running.
func (e *Engine) SubmitAction(action domain.TurnAction) domain.ValidationResult {
	e.mu.Lock()
	result, events := e.submitLocked(action)
	e.mu.Unlock()

	e.deliver(events)
	return result
}

func (e *Engine) submitLocked(action domain.TurnAction) (domain.ValidationResult, []domain.Event) {
	var pending []domain.Event

	if e.cfg.ValidationEnabled {
		if result := rules.Validate(e.state, action, e.cfg.Rules); !result.Valid {
			return result, pending
		}
	}

	before := e.state.Clone()

	outcome, err := rules.Apply(e.state, action, e.cfg.Rules)
	if err != nil {
		// Execution failure on a validated action: the action is treated
		// as failed and the turn is not advanced.
		e.logger.Error("action execution failed",
			"interaction_id", e.state.InteractionID,
			"entity_id", action.EntityID,
			"kind", action.Kind,
			"err", err,
		)
		e.emit(&pending, domain.EventError, domain.ErrorPayload{
			Code:    "execution_failed",
			Message: "failed to apply action",
			Details: err.Error(),
		})
		return domain.Invalid(fmt.Sprintf("execution failed: %v", err)), pending
	}

	e.turnActions = append(e.turnActions, action.Clone())

	if outcome.DefeatedEntityID != "" {
		if p := e.state.Participant(outcome.DefeatedEntityID); p != nil {
			p.TurnStatus = domain.TurnSkipped
		}
	}

	if action.Kind.ConsumesTurn() {
		e.finishTurnLocked(domain.RecordCompleted, "", &pending)
		e.advanceLocked(&pending)
	}

	e.emitDelta(&pending, before)
	return domain.OK(), pending
}

// finishTurnLocked appends the turn record for the current entity and emits
// the matching event. It does not advance the index.
func (e *Engine) finishTurnLocked(status domain.RecordStatus, reason string, pending *[]domain.Event) {
	current := e.state.CurrentEntity()
	if current == nil {
		return
	}

	end := e.now().UTC()
	record := domain.TurnRecord{
		EntityID:    current.EntityID,
		TurnNumber:  e.state.CurrentTurnIndex,
		RoundNumber: e.state.RoundNumber,
		Actions:     e.turnActions,
		StartTime:   e.turnStartedAt,
		EndTime:     &end,
		Status:      status,
	}
	e.state.TurnHistory = append(e.state.TurnHistory, record)
	e.turnActions = nil

	if p := e.state.Participant(current.EntityID); p != nil {
		if status == domain.RecordCompleted {
			p.TurnStatus = domain.TurnCompleted
		} else {
			p.TurnStatus = domain.TurnSkipped
		}
	}

	switch status {
	case domain.RecordCompleted:
		e.emit(pending, domain.EventTurnCompleted, domain.TurnCompletedPayload{
			EntityID: current.EntityID,
			Actions:  record.Actions,
		})
	default:
		e.emit(pending, domain.EventTurnSkipped, domain.TurnSkippedPayload{
			EntityID: current.EntityID,
			Reason:   reason,
		})
	}
}

// AdvanceTurn moves to the next entity in initiative order, wrapping to a
// new round at the end of the order.
func (e *Engine) AdvanceTurn() {
	e.mu.Lock()
	before := e.state.Clone()
	var pending []domain.Event
	e.advanceLocked(&pending)
	e.emitDelta(&pending, before)
	e.mu.Unlock()

	e.deliver(pending)
}

func (e *Engine) advanceLocked(pending *[]domain.Event) {
	e.clearTimerLocked()

	if len(e.state.InitiativeOrder) == 0 {
		return
	}

	e.state.CurrentTurnIndex++
	if e.state.CurrentTurnIndex >= len(e.state.InitiativeOrder) {
		e.state.CurrentTurnIndex = 0
		e.state.RoundNumber++
		e.emit(pending, domain.EventNewRound, domain.NewRoundPayload{
			RoundNumber: e.state.RoundNumber,
		})
	}

	e.beginTurnLocked(pending)
}

// beginTurnLocked marks the current entity active, resets everyone else to
// waiting, restarts the timer and emits turn_started.
func (e *Engine) beginTurnLocked(pending *[]domain.Event) {
	current := e.state.CurrentEntity()
	if current == nil {
		return
	}

	for id, p := range e.state.Participants {
		if id == current.EntityID {
			p.TurnStatus = domain.TurnActive
		} else {
			p.TurnStatus = domain.TurnWaiting
		}
	}

	e.turnStartedAt = e.now().UTC()
	e.turnActions = nil
	e.startTimerLocked()

	e.emit(pending, domain.EventTurnStarted, domain.TurnStartedPayload{
		EntityID:  current.EntityID,
		TimeLimit: e.cfg.TurnTimeout,
	})

	e.scheduleDrainLocked(current.EntityID)
}

// SkipTurn records a skipped or timed-out turn for the current entity and
// advances. Used for manual DM skips and automatic timeouts.
func (e *Engine) SkipTurn(reason string) {
	e.mu.Lock()
	before := e.state.Clone()
	var pending []domain.Event

	status := domain.RecordSkipped
	if reason == "timeout" {
		status = domain.RecordTimeout
	}
	e.finishTurnLocked(status, reason, &pending)
	e.advanceLocked(&pending)
	e.emitDelta(&pending, before)
	e.mu.Unlock()

	e.deliver(pending)
}

// Start transitions a waiting session to active and begins the first turn.
func (e *Engine) Start() {
	e.mu.Lock()
	before := e.state.Clone()
	var pending []domain.Event

	if e.state.Status == domain.StatusWaiting || e.state.Status == domain.StatusPaused {
		e.state.Status = domain.StatusActive
		e.beginTurnLocked(&pending)
	}
	e.emitDelta(&pending, before)
	e.mu.Unlock()

	e.deliver(pending)
}

// Pause freezes the session and stops the turn timer.
func (e *Engine) Pause() {
	e.mu.Lock()
	before := e.state.Clone()
	var pending []domain.Event

	if e.state.Status == domain.StatusActive || e.state.Status == domain.StatusWaiting {
		e.state.Status = domain.StatusPaused
		e.clearTimerLocked()
		e.emit(&pending, domain.EventPaused, nil)
	}
	e.emitDelta(&pending, before)
	e.mu.Unlock()

	e.deliver(pending)
}

// Resume unfreezes a paused session and restarts the turn timer.
func (e *Engine) Resume() {
	e.mu.Lock()
	before := e.state.Clone()
	var pending []domain.Event

	if e.state.Status == domain.StatusPaused {
		e.state.Status = domain.StatusActive
		e.startTimerLocked()
		e.emit(&pending, domain.EventResumed, nil)
		if current := e.state.CurrentEntity(); current != nil {
			e.scheduleDrainLocked(current.EntityID)
		}
	}
	e.emitDelta(&pending, before)
	e.mu.Unlock()

	e.deliver(pending)
}

// Complete moves the session to its terminal state.
func (e *Engine) Complete() {
	e.mu.Lock()
	before := e.state.Clone()
	var pending []domain.Event

	if e.state.Status != domain.StatusCompleted {
		e.state.Status = domain.StatusCompleted
		e.clearTimerLocked()
	}
	e.emitDelta(&pending, before)
	e.mu.Unlock()

	e.deliver(pending)
}

// UpdateInitiativeOrder replaces the turn sequence. An out-of-bounds
// current index resets to 0.
func (e *Engine) UpdateInitiativeOrder(order []domain.InitiativeEntry) {
	e.mu.Lock()
	before := e.state.Clone()
	var pending []domain.Event

	e.state.InitiativeOrder = append([]domain.InitiativeEntry(nil), order...)
	if e.state.CurrentTurnIndex >= len(e.state.InitiativeOrder) {
		e.state.CurrentTurnIndex = 0
	}
	e.emitDelta(&pending, before)
	e.mu.Unlock()

	e.deliver(pending)
}

// AddParticipant registers a combatant and its map placement.
func (e *Engine) AddParticipant(p *domain.Participant) {
	e.mu.Lock()
	before := e.state.Clone()
	var pending []domain.Event

	if p.TurnStatus == "" {
		p.TurnStatus = domain.TurnWaiting
	}
	e.state.Participants[p.EntityID] = p
	e.state.MapState.EntityPositions[p.EntityID] = domain.Placement{
		X: p.Position.X,
		Y: p.Position.Y,
	}
	e.emitDelta(&pending, before)
	e.mu.Unlock()

	e.deliver(pending)
}

// SetConnected flips a participant's connection flag. Leaving a room marks
// the participant disconnected without removing it.
func (e *Engine) SetConnected(entityID string, connected bool) error {
	e.mu.Lock()
	p := e.state.Participant(entityID)
	if p == nil {
		e.mu.Unlock()
		return domain.ErrParticipantNotFound
	}

	before := e.state.Clone()
	var pending []domain.Event
	p.Connected = connected
	e.emitDelta(&pending, before)
	e.mu.Unlock()

	e.deliver(pending)
	return nil
}

// RemoveParticipant drops a combatant from the encounter entirely: its
// participant record, map placement, initiative entry and pending queue all
// go. Removing the entity whose turn it is advances to the next in order.
func (e *Engine) RemoveParticipant(entityID string) error {
	e.mu.Lock()
	if e.state.Participant(entityID) == nil {
		e.mu.Unlock()
		return domain.ErrParticipantNotFound
	}

	before := e.state.Clone()
	var pending []domain.Event

	wasCurrent := false
	if current := e.state.CurrentEntity(); current != nil && current.EntityID == entityID {
		wasCurrent = true
	}

	delete(e.state.Participants, entityID)
	delete(e.state.MapState.EntityPositions, entityID)
	delete(e.queues, entityID)

	removedIdx := -1
	order := make([]domain.InitiativeEntry, 0, len(e.state.InitiativeOrder))
	for i, entry := range e.state.InitiativeOrder {
		if entry.EntityID == entityID {
			removedIdx = i
			continue
		}
		order = append(order, entry)
	}
	if len(order) == 0 {
		order = nil
	}
	e.state.InitiativeOrder = order

	switch {
	case len(order) == 0:
		e.state.CurrentTurnIndex = 0
		e.clearTimerLocked()
	case removedIdx >= 0 && removedIdx < e.state.CurrentTurnIndex:
		// Entries before the cursor shifted down by one.
		e.state.CurrentTurnIndex--
	case wasCurrent:
		// The cursor now points at the next entity; its turn begins.
		e.clearTimerLocked()
		if e.state.CurrentTurnIndex >= len(order) {
			e.state.CurrentTurnIndex = 0
			e.state.RoundNumber++
			e.emit(&pending, domain.EventNewRound, domain.NewRoundPayload{
				RoundNumber: e.state.RoundNumber,
			})
		}
		if e.state.Status == domain.StatusActive {
			e.beginTurnLocked(&pending)
		}
	case e.state.CurrentTurnIndex >= len(order):
		e.state.CurrentTurnIndex = 0
	}

	e.emitDelta(&pending, before)
	e.mu.Unlock()

	e.deliver(pending)
	return nil
}

// AppendChat appends a chat message to the session log.
func (e *Engine) AppendChat(message domain.ChatMessage) {
	e.mu.Lock()
	before := e.state.Clone()
	var pending []domain.Event

	if message.Timestamp.IsZero() {
		message.Timestamp = e.now().UTC()
	}
	e.state.ChatLog = append(e.state.ChatLog, message)
	e.emit(&pending, domain.EventChatMessage, message)
	e.emitDelta(&pending, before)
	e.mu.Unlock()

	e.deliver(pending)
}

// BacktrackToTurn rewinds history to the record matching the target turn
// and round, discarding everything after it. Returns ErrTurnNotFound when
// no record matches.
func (e *Engine) BacktrackToTurn(turnNumber, roundNumber int, actorID string) error {
	e.mu.Lock()

	target := -1
	for i := range e.state.TurnHistory {
		record := &e.state.TurnHistory[i]
		if record.TurnNumber == turnNumber && record.RoundNumber == roundNumber {
			target = i
			break
		}
	}
	if target == -1 {
		e.mu.Unlock()
		return domain.ErrTurnNotFound
	}

	before := e.state.Clone()
	var pending []domain.Event

	removed := len(e.state.TurnHistory) - (target + 1)
	e.state.TurnHistory = e.state.TurnHistory[:target+1]
	e.state.CurrentTurnIndex = turnNumber
	e.state.RoundNumber = roundNumber
	e.turnActions = nil

	for id := range e.queues {
		delete(e.queues, id)
	}

	current := e.state.CurrentEntity()
	for id, p := range e.state.Participants {
		if current != nil && id == current.EntityID {
			p.TurnStatus = domain.TurnActive
		} else {
			p.TurnStatus = domain.TurnWaiting
		}
	}

	e.turnStartedAt = e.now().UTC()
	e.startTimerLocked()

	e.emit(&pending, domain.EventBacktracked, domain.BacktrackedPayload{
		TargetTurn:   turnNumber,
		TargetRound:  roundNumber,
		RemovedTurns: removed,
		ActorID:      actorID,
	})
	e.emitDelta(&pending, before)
	e.mu.Unlock()

	e.deliver(pending)
	return nil
}

// RedoTurn replays a sequence of actions for the current-turn entity,
// aborting on the first invalid result. Returns ErrNotCurrentTurn when the
// entity does not hold the turn.
func (e *Engine) RedoTurn(entityID string, actions []domain.TurnAction, actorID string) (domain.ValidationResult, error) {
	e.mu.Lock()
	current := e.state.CurrentEntity()
	if current == nil || current.EntityID != entityID {
		e.mu.Unlock()
		return domain.Invalid("not the current turn entity"), domain.ErrNotCurrentTurn
	}
	e.mu.Unlock()

	for _, action := range actions {
		if result := e.SubmitAction(action); !result.Valid {
			return result, nil
		}
	}
	return domain.OK(), nil
}

// Close stops the turn timer and drops pending queues. The engine must not
// be used afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearTimerLocked()
	e.queues = make(map[string]*actionQueue)
}

// --- Turn timer ---

// startTimerLocked arms the single-shot turn timer. The previous timer is
// always invalidated first, so at most one timeout is pending per room.
func (e *Engine) startTimerLocked() {
	e.clearTimerLocked()

	if !e.cfg.AutoAdvance || e.cfg.TurnTimeout <= 0 {
		return
	}
	if e.state.Status != domain.StatusActive {
		return
	}
	if len(e.state.InitiativeOrder) == 0 {
		return
	}

	gen := e.timerGen
	e.timer = time.AfterFunc(e.cfg.TurnTimeout, func() {
		e.onTurnTimeout(gen)
	})
}

func (e *Engine) clearTimerLocked() {
	e.timerGen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Engine) onTurnTimeout(gen uint64) {
	e.mu.Lock()
	if gen != e.timerGen {
		// A newer turn started or the timer was cleared after this
		// callback was already scheduled.
		e.mu.Unlock()
		return
	}
	if e.state.Status != domain.StatusActive {
		e.mu.Unlock()
		return
	}

	entity := ""
	if current := e.state.CurrentEntity(); current != nil {
		entity = current.EntityID
	}
	e.logger.Info("turn timed out",
		"interaction_id", e.state.InteractionID,
		"entity_id", entity,
	)

	before := e.state.Clone()
	var pending []domain.Event
	e.finishTurnLocked(domain.RecordTimeout, "timeout", &pending)
	e.advanceLocked(&pending)
	e.emitDelta(&pending, before)
	e.mu.Unlock()

	e.deliver(pending)
}
