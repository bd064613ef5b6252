// Package room hosts one live encounter: the engine that owns the session
// state, the participants connected to it, and the durability hooks that
// keep the store in sync with what happens inside.
package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tabletoplab/skirmish/internal/engine"
	"github.com/tabletoplab/skirmish/internal/logging"
	"github.com/tabletoplab/skirmish/internal/persist"
	"github.com/tabletoplab/skirmish/pkg/domain"
	"github.com/tabletoplab/skirmish/pkg/ports"
)

// Config holds per-room behavior knobs.
type Config struct {
	// MaxParticipants bounds how many combatants a room accepts.
	MaxParticipants int
	// InactivityTimeout is the idle window after which the room asks to be
	// reclaimed. Paused rooms are never reclaimed.
	InactivityTimeout time.Duration
	// PersistTimeout bounds each background store call made by the room.
	PersistTimeout time.Duration
	// Engine configures the turn engine created for the room.
	Engine engine.Config
}

// DefaultConfig returns the standard room options.
func DefaultConfig() Config {
	return Config{
		MaxParticipants:   8,
		InactivityTimeout: 30 * time.Minute,
		PersistTimeout:    5 * time.Second,
		Engine:            engine.DefaultConfig(),
	}
}

// CleanupRequest asks the registry to reclaim a room. The room has already
// snapshotted itself by the time the request is emitted.
type CleanupRequest struct {
	RoomID  string
	Trigger domain.Trigger
}

// Room is the live container for one encounter. All gameplay goes through
// its engine; the room adds participant admission, activity tracking and
// the persistence side effects the engine itself stays unaware of.
type Room struct {
	id        string
	dmUserID  string
	eng       *engine.Engine
	persister *persist.Persister
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	onCleanup func(CleanupRequest)

	mu           sync.Mutex
	lastActivity time.Time
	idleTimer    *time.Timer
	idleGen      uint64
	closed       bool
	sinks        []ports.EventSink
}

// Option configures a Room.
type Option func(*Room)

// WithLogger sets the room logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Room) {
		r.logger = logger
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Room) {
		r.now = now
	}
}

// WithCleanupFunc sets the callback invoked when the room goes idle and
// wants to be reclaimed.
func WithCleanupFunc(fn func(CleanupRequest)) Option {
	return func(r *Room) {
		r.onCleanup = fn
	}
}

// New creates a room around the given state and wires its engine events to
// the durability layer. The state becomes engine-owned; callers must not
// mutate it afterwards.
func New(dmUserID string, state *domain.SessionState, persister *persist.Persister, cfg Config, opts ...Option) *Room {
	r := &Room{
		id:        state.InteractionID,
		dmUserID:  dmUserID,
		persister: persister,
		cfg:       cfg,
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.eng = engine.New(state, cfg.Engine,
		engine.WithLogger(r.logger),
		engine.WithClock(r.now),
	)
	r.eng.Subscribe(domain.SubscriberFunc(r.handleEvent))

	r.mu.Lock()
	r.lastActivity = r.now()
	r.armIdleTimerLocked()
	r.mu.Unlock()
	return r
}

// ID returns the room's interaction id.
func (r *Room) ID() string { return r.id }

// DMUserID returns the user id of the DM who owns the room.
func (r *Room) DMUserID() string { return r.dmUserID }

// State returns a deep copy of the current session state.
func (r *Room) State() *domain.SessionState { return r.eng.State() }

// LastActivity returns the time of the most recent interaction.
func (r *Room) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

// AttachSink registers an event sink that receives every engine event,
// typically a connected client stream.
func (r *Room) AttachSink(sink ports.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, sink)
}

// DetachSink removes a previously attached sink.
func (r *Room) DetachSink(sink ports.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.sinks {
		if s == sink {
			r.sinks = append(r.sinks[:i], r.sinks[i+1:]...)
			return
		}
	}
}

// Join admits a participant. Fails when the room is completed or full.
// Rejoining an existing entity only flips its connection flag.
func (r *Room) Join(p *domain.Participant) error {
	state := r.eng.State()
	if state.Status == domain.StatusCompleted {
		return fmt.Errorf("join %s: %w", r.id, domain.ErrRoomCompleted)
	}

	if state.Participant(p.EntityID) != nil {
		if err := r.eng.SetConnected(p.EntityID, true); err != nil {
			return err
		}
		r.touch()
		return nil
	}

	if r.cfg.MaxParticipants > 0 && len(state.Participants) >= r.cfg.MaxParticipants {
		return fmt.Errorf("join %s: %w (max %d)", r.id, domain.ErrRoomCapacity, r.cfg.MaxParticipants)
	}

	p.Connected = true
	r.eng.AddParticipant(p)
	r.touch()
	return nil
}

// Leave marks a participant disconnected and snapshots the session. The
// participant stays in the initiative order; its turns are skipped by the
// timer until it rejoins.
func (r *Room) Leave(entityID string) error {
	if err := r.eng.SetConnected(entityID, false); err != nil {
		return err
	}

	trigger := domain.TriggerDisconnect
	if p := r.eng.State().Participant(entityID); p != nil && p.OwnerID == r.dmUserID {
		trigger = domain.TriggerDMDisconnect
	}
	r.persistSnapshot(trigger)
	r.touch()
	return nil
}

// RemoveParticipant drops a combatant from the encounter for good, unlike
// Leave which only disconnects it. The DM uses this when an entity is dead
// and gone or a player abandons the session.
func (r *Room) RemoveParticipant(entityID string) error {
	if err := r.eng.RemoveParticipant(entityID); err != nil {
		return err
	}
	r.persistSnapshot(domain.TriggerManualSave)
	r.touch()
	return nil
}

// SubmitAction runs one action through the engine.
func (r *Room) SubmitAction(action domain.TurnAction) domain.ValidationResult {
	r.touch()
	return r.eng.SubmitAction(action)
}

// QueueAction enqueues an action for later drain on the entity's turn.
func (r *Room) QueueAction(action domain.TurnAction) (string, error) {
	r.touch()
	return r.eng.QueueAction(action)
}

// CancelQueuedAction removes a pending queued action by id.
func (r *Room) CancelQueuedAction(entityID, queueID string) bool {
	r.touch()
	return r.eng.CancelQueuedAction(entityID, queueID)
}

// SkipTurn skips the current turn with the given reason.
func (r *Room) SkipTurn(reason string) {
	r.touch()
	r.eng.SkipTurn(reason)
}

// UpdateInitiativeOrder replaces the turn sequence.
func (r *Room) UpdateInitiativeOrder(order []domain.InitiativeEntry) {
	r.touch()
	r.eng.UpdateInitiativeOrder(order)
}

// Chat appends a message to the session chat log.
func (r *Room) Chat(message domain.ChatMessage) {
	r.touch()
	r.eng.AppendChat(message)
}

// Start begins turn processing.
func (r *Room) Start() {
	r.touch()
	r.eng.Start()
	r.persistStatus(domain.StatusActive, nil)
}

// Pause freezes the room and snapshots it. A paused room is never reclaimed
// by the inactivity sweep.
func (r *Room) Pause() {
	r.touch()
	r.eng.Pause()
	r.persistStatus(domain.StatusPaused, nil)
	r.persistSnapshot(domain.TriggerPause)
}

// Resume restarts turn processing after a pause.
func (r *Room) Resume() {
	r.touch()
	r.eng.Resume()
	r.persistStatus(domain.StatusActive, nil)
}

// Complete ends the encounter and writes the final snapshot.
func (r *Room) Complete(reason string) {
	r.touch()
	r.eng.Complete()
	extra := map[string]any{}
	if reason != "" {
		extra["reason"] = reason
	}
	r.persistStatus(domain.StatusCompleted, extra)
	r.persistSnapshot(domain.TriggerComplete)
}

// Backtrack rewinds the turn history to the given turn. DM only.
func (r *Room) Backtrack(turnNumber, roundNumber int, actorID string) error {
	r.touch()
	return r.eng.BacktrackToTurn(turnNumber, roundNumber, actorID)
}

// Redo replays a turn's actions after a backtrack. DM only.
func (r *Room) Redo(entityID string, actions []domain.TurnAction, actorID string) (domain.ValidationResult, error) {
	r.touch()
	return r.eng.RedoTurn(entityID, actions, actorID)
}

// Save writes a manual snapshot on explicit request.
func (r *Room) Save(ctx context.Context) error {
	r.touch()
	state := r.eng.State()
	return r.persister.SaveSnapshot(ctx, state, connectedIDs(state), domain.TriggerManualSave)
}

// Close releases the room's timers and engine resources. It does not
// snapshot; callers snapshot first when the state should survive.
func (r *Room) Close() {
	r.mu.Lock()
	r.closed = true
	r.idleGen++
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
	r.sinks = nil
	r.mu.Unlock()

	r.eng.Close()

	ctx, cancel := r.persistContext()
	defer cancel()
	if err := r.persister.Flush(ctx); err != nil {
		r.logger.Error("event log flush failed", "room_id", r.id, "err", err)
	}
}

// handleEvent fans engine events out to sinks and mirrors the durable side
// effects: the event journal, turn records and trigger-driven snapshots.
func (r *Room) handleEvent(event domain.Event) {
	r.mu.Lock()
	sinks := append([]ports.EventSink(nil), r.sinks...)
	r.mu.Unlock()
	for _, sink := range sinks {
		sink.Deliver(event)
	}

	switch event.Type {
	case domain.EventStateDelta:
		if delta, ok := event.Payload.(*domain.StateDelta); ok {
			for _, p := range delta.Participants {
				if p != nil && p.CurrentHP == 0 {
					r.persistSnapshot(domain.TriggerEntityDefeated)
					break
				}
			}
		}
		return
	case domain.EventTurnCompleted, domain.EventTurnSkipped:
		r.persistLatestTurnRecord()
	case domain.EventNewRound:
		r.persistSnapshot(domain.TriggerRoundEnd)
	}

	r.appendEventLog(event)
}

func (r *Room) appendEventLog(event domain.Event) {
	ctx, cancel := r.persistContext()
	defer cancel()

	entry := ports.EventLogEntry{
		InteractionID: r.id,
		EventType:     string(event.Type),
		EventData:     event.Payload,
		Timestamp:     event.Timestamp,
	}
	if err := r.persister.AppendEvent(ctx, entry); err != nil {
		r.logger.Error("event log append failed", "room_id", r.id, "event", event.Type, "err", err)
	}
}

func (r *Room) persistLatestTurnRecord() {
	state := r.eng.State()
	if len(state.TurnHistory) == 0 {
		return
	}
	record := state.TurnHistory[len(state.TurnHistory)-1]

	ctx, cancel := r.persistContext()
	defer cancel()
	if err := r.persister.AppendTurnRecord(ctx, r.id, record); err != nil {
		r.logger.Error("turn record append failed", "room_id", r.id, "err", err)
	}
}

// persistSnapshot snapshots in the caller's goroutine but never fails the
// gameplay path: persistence errors are logged, the session plays on.
func (r *Room) persistSnapshot(trigger domain.Trigger) {
	ctx, cancel := r.persistContext()
	defer cancel()

	state := r.eng.State()
	if err := r.persister.SaveSnapshot(ctx, state, connectedIDs(state), trigger); err != nil {
		r.logger.Error("snapshot failed", "room_id", r.id, "trigger", trigger, "err", err)
	}
}

func (r *Room) persistStatus(status domain.Status, extra map[string]any) {
	ctx, cancel := r.persistContext()
	defer cancel()
	if err := r.persister.UpdateStatus(ctx, r.id, status, extra); err != nil {
		r.logger.Error("status update failed", "room_id", r.id, "status", status, "err", err)
	}
}

func (r *Room) persistContext() (context.Context, context.CancelFunc) {
	timeout := r.cfg.PersistTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// touch records activity and re-arms the inactivity timer.
func (r *Room) touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.lastActivity = r.now()
	r.armIdleTimerLocked()
}

func (r *Room) armIdleTimerLocked() {
	if r.cfg.InactivityTimeout <= 0 || r.onCleanup == nil {
		return
	}
	r.idleGen++
	gen := r.idleGen
	if r.idleTimer != nil {
		r.idleTimer.Stop()
	}
	r.idleTimer = time.AfterFunc(r.cfg.InactivityTimeout, func() {
		r.onIdle(gen)
	})
}

// onIdle fires when no interaction happened for the inactivity window. A
// paused room stays alive indefinitely; anything else is snapshotted and
// handed to the registry for reclamation.
func (r *Room) onIdle(gen uint64) {
	r.mu.Lock()
	if r.closed || gen != r.idleGen {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if r.eng.State().Status == domain.StatusPaused {
		r.touch()
		return
	}

	r.logger.Info("room idle, requesting cleanup", "room_id", r.id)
	r.persistSnapshot(domain.TriggerInactivity)
	r.onCleanup(CleanupRequest{RoomID: r.id, Trigger: domain.TriggerInactivity})
}

func connectedIDs(state *domain.SessionState) []string {
	var ids []string
	for id, p := range state.Participants {
		if p != nil && p.Connected {
			ids = append(ids, id)
		}
	}
	return ids
}
