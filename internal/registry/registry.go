// Package registry owns the set of live rooms on a server: bounded
// creation, lookup, recovery from snapshots and the periodic sweep that
// reclaims idle rooms.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tabletoplab/skirmish/internal/logging"
	"github.com/tabletoplab/skirmish/internal/persist"
	"github.com/tabletoplab/skirmish/internal/room"
	"github.com/tabletoplab/skirmish/pkg/domain"
	"github.com/tabletoplab/skirmish/pkg/ports"
)

// Config holds the registry options.
type Config struct {
	// MaxRooms bounds the number of concurrently live rooms.
	MaxRooms int
	// CleanupInterval is how often the sweep reclaims rooms that have
	// requested cleanup.
	CleanupInterval time.Duration
	// RecoveryLockTTL bounds how long a recovery holds the distributed
	// lock when a locker is configured.
	RecoveryLockTTL time.Duration
	// Room configures every room the registry creates.
	Room room.Config
}

// DefaultConfig returns the standard registry options.
func DefaultConfig() Config {
	return Config{
		MaxRooms:        100,
		CleanupInterval: 5 * time.Minute,
		RecoveryLockTTL: 30 * time.Second,
		Room:            room.DefaultConfig(),
	}
}

// RoomInfo is a listing summary for one live room.
type RoomInfo struct {
	ID           string        `json:"id"`
	Status       domain.Status `json:"status"`
	Participants int           `json:"participants"`
	RoundNumber  int           `json:"roundNumber"`
	LastActivity time.Time     `json:"lastActivity"`
}

// Registry is the in-memory map of live rooms. All lookups go through it;
// a room that is not in the registry only exists as a snapshot in the store.
type Registry struct {
	persister *persist.Persister
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	locker    ports.DistributedLocker
	sinks     []ports.EventSink

	mu       sync.Mutex
	rooms    map[string]*room.Room
	expiring map[string]domain.Trigger
	closed   bool

	done chan struct{}
	wg   sync.WaitGroup
}

// Option configures the Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithEventSink attaches a sink to every room the registry creates or
// recovers. Used for process-wide observers like the metrics set.
func WithEventSink(sink ports.EventSink) Option {
	return func(r *Registry) {
		r.sinks = append(r.sinks, sink)
	}
}

// WithLocker enables a distributed lock around snapshot recovery so two
// server instances never rebuild the same room concurrently.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(r *Registry) {
		r.locker = locker
	}
}

// New creates a registry and starts its cleanup sweep.
func New(persister *persist.Persister, cfg Config, opts ...Option) *Registry {
	r := &Registry{
		persister: persister,
		cfg:       cfg,
		logger:    logging.NewNop(),
		now:       time.Now,
		rooms:     make(map[string]*room.Room),
		expiring:  make(map[string]domain.Trigger),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	// A lock without expiry would outlive a crashed recovery forever.
	if r.cfg.RecoveryLockTTL <= 0 {
		r.cfg.RecoveryLockTTL = DefaultConfig().RecoveryLockTTL
	}

	if cfg.CleanupInterval > 0 {
		r.wg.Add(1)
		go r.sweepLoop()
	}
	return r
}

// CreateRoom builds a room around a fresh session state and registers it.
func (r *Registry) CreateRoom(dmUserID string, state *domain.SessionState) (*room.Room, error) {
	if err := domain.ValidateState(state); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("create room: registry closed")
	}
	if _, exists := r.rooms[state.InteractionID]; exists {
		return nil, fmt.Errorf("create room %s: %w", state.InteractionID, domain.ErrRoomExists)
	}
	if r.cfg.MaxRooms > 0 && len(r.rooms) >= r.cfg.MaxRooms {
		return nil, fmt.Errorf("create room %s: %w (max %d rooms)", state.InteractionID, domain.ErrRoomCapacity, r.cfg.MaxRooms)
	}

	rm := room.New(dmUserID, state, r.persister, r.cfg.Room,
		room.WithLogger(r.logger),
		room.WithClock(r.now),
		room.WithCleanupFunc(r.requestCleanup),
	)
	for _, sink := range r.sinks {
		rm.AttachSink(sink)
	}
	r.rooms[state.InteractionID] = rm

	r.logger.Info("room created", "room_id", state.InteractionID, "dm_user_id", dmUserID, "rooms", len(r.rooms))
	return rm, nil
}

// RecoverRoom rebuilds a room from the latest stored snapshot. The room
// comes back paused with everyone disconnected.
func (r *Registry) RecoverRoom(ctx context.Context, dmUserID, interactionID string) (*room.Room, error) {
	r.mu.Lock()
	if existing, ok := r.rooms[interactionID]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.mu.Unlock()

	if r.locker != nil {
		unlock, err := r.locker.Lock(ctx, "recover:"+interactionID, r.cfg.RecoveryLockTTL)
		if err != nil {
			return nil, fmt.Errorf("lock recovery of %s: %w", interactionID, err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("release recovery lock failed", "room_id", interactionID, "err", err)
			}
		}()

		// Another instance may have finished the recovery while we waited.
		r.mu.Lock()
		if existing, ok := r.rooms[interactionID]; ok {
			r.mu.Unlock()
			return existing, nil
		}
		r.mu.Unlock()
	}

	state, snapshot, err := r.persister.Recover(ctx, interactionID)
	if err != nil {
		return nil, err
	}

	rm, err := r.CreateRoom(dmUserID, state)
	if err != nil {
		return nil, err
	}

	r.logger.Info("room recovered",
		"room_id", interactionID,
		"snapshot_trigger", snapshot.Trigger,
		"snapshot_age", r.now().Sub(snapshot.Timestamp).Round(time.Second),
	)
	return rm, nil
}

// Get returns the live room with the given id.
func (r *Registry) Get(roomID string) (*room.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", roomID, domain.ErrRoomNotFound)
	}
	return rm, nil
}

// List summarizes every live room.
func (r *Registry) List() []RoomInfo {
	r.mu.Lock()
	rooms := make([]*room.Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	infos := make([]RoomInfo, 0, len(rooms))
	for _, rm := range rooms {
		state := rm.State()
		infos = append(infos, RoomInfo{
			ID:           rm.ID(),
			Status:       state.Status,
			Participants: len(state.Participants),
			RoundNumber:  state.RoundNumber,
			LastActivity: rm.LastActivity(),
		})
	}
	return infos
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// RemoveRoom snapshots a room with the given trigger, closes it and drops
// it from the registry.
func (r *Registry) RemoveRoom(ctx context.Context, roomID string, trigger domain.Trigger) error {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("remove room %s: %w", roomID, domain.ErrRoomNotFound)
	}
	delete(r.rooms, roomID)
	delete(r.expiring, roomID)
	r.mu.Unlock()

	state := rm.State()
	if err := r.persister.SaveSnapshot(ctx, state, nil, trigger); err != nil {
		r.logger.Error("pre-removal snapshot failed", "room_id", roomID, "trigger", trigger, "err", err)
	}
	rm.Close()

	r.logger.Info("room removed", "room_id", roomID, "trigger", trigger)
	return nil
}

// Close stops the sweep and shuts every room down after a final
// server-restart snapshot, so sessions can be recovered after the process
// comes back.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	rooms := make([]*room.Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.rooms = make(map[string]*room.Room)
	r.mu.Unlock()

	close(r.done)
	r.wg.Wait()

	for _, rm := range rooms {
		state := rm.State()
		if err := r.persister.SaveSnapshot(ctx, state, nil, domain.TriggerServerRestart); err != nil {
			r.logger.Error("shutdown snapshot failed", "room_id", rm.ID(), "err", err)
		}
		rm.Close()
	}
}

// requestCleanup is handed to every room; idle rooms call it after
// snapshotting themselves. Actual removal happens on the next sweep.
func (r *Registry) requestCleanup(req room.CleanupRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[req.RoomID]; !ok {
		return
	}
	r.expiring[req.RoomID] = req.Trigger
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep reclaims rooms that requested cleanup. A paused room withdraws its
// request implicitly: it never files one, and a request filed before the
// pause is dropped here.
func (r *Registry) sweep() {
	r.mu.Lock()
	var victims []*room.Room
	for roomID := range r.expiring {
		rm, ok := r.rooms[roomID]
		if !ok {
			delete(r.expiring, roomID)
			continue
		}
		if rm.State().Status == domain.StatusPaused {
			delete(r.expiring, roomID)
			continue
		}
		victims = append(victims, rm)
		delete(r.rooms, roomID)
		delete(r.expiring, roomID)
	}
	r.mu.Unlock()

	for _, rm := range victims {
		rm.Close()
		r.logger.Info("idle room reclaimed", "room_id", rm.ID())
	}
}
