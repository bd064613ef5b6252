// Package http is the gateway adapter: a chi router over the room registry
// for room lifecycle, action submission and the SSE event stream. The
// gateway is a thin presentation collaborator; every game decision happens
// in the engine behind the room.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tabletoplab/skirmish/internal/logging"
	"github.com/tabletoplab/skirmish/internal/registry"
	"github.com/tabletoplab/skirmish/pkg/domain"
	"github.com/tabletoplab/skirmish/pkg/observability"
)

// Server holds the gateway dependencies.
type Server struct {
	registry *registry.Registry
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the gateway logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics attaches the metrics set; enables the /metrics endpoint and
// per-action counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewHandler builds the gateway router over the given registry.
func NewHandler(reg *registry.Registry, opts ...Option) http.Handler {
	s := &Server{
		registry: reg,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/rooms", func(r chi.Router) {
		r.Post("/", s.createRoom)
		r.Get("/", s.listRooms)

		r.Route("/{roomID}", func(r chi.Router) {
			r.Get("/", s.getRoom)
			r.Get("/events", s.streamEvents)

			r.Post("/join", s.join)
			r.Post("/leave", s.leave)
			r.Delete("/participants/{entityID}", s.removeParticipant)
			r.Post("/actions", s.submitAction)
			r.Post("/queue", s.queueAction)
			r.Delete("/queue/{queueID}", s.cancelQueued)

			r.Post("/start", s.start)
			r.Post("/pause", s.pause)
			r.Post("/resume", s.resume)
			r.Post("/complete", s.complete)
			r.Post("/save", s.save)
			r.Post("/recover", s.recover)

			r.Post("/backtrack", s.backtrack)
			r.Post("/redo", s.redo)
			r.Put("/initiative", s.initiative)
			r.Post("/chat", s.chat)
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createRoomRequest carries everything needed to open a fresh encounter.
type createRoomRequest struct {
	InteractionID   string                   `json:"interactionId"`
	DMUserID        string                   `json:"dmUserId"`
	MapWidth        int                      `json:"mapWidth"`
	MapHeight       int                      `json:"mapHeight"`
	InitiativeOrder []domain.InitiativeEntry `json:"initiativeOrder,omitempty"`
	Participants    []*domain.Participant    `json:"participants,omitempty"`
	Obstacles       []domain.Position        `json:"obstacles,omitempty"`
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var body createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.InteractionID == "" || body.DMUserID == "" {
		s.writeError(w, http.StatusBadRequest, "interactionId and dmUserId are required")
		return
	}

	state := domain.NewSessionState(body.InteractionID, body.MapWidth, body.MapHeight)
	state.InitiativeOrder = body.InitiativeOrder
	state.MapState.Obstacles = body.Obstacles
	for _, p := range body.Participants {
		state.Participants[p.EntityID] = p
		state.MapState.EntityPositions[p.EntityID] = domain.Placement{X: p.Position.X, Y: p.Position.Y}
	}

	rm, err := s.registry.CreateRoom(body.DMUserID, state)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rm.State())
}

func (s *Server) listRooms(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := s.registry.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rm.State())
}

func (s *Server) join(w http.ResponseWriter, r *http.Request) {
	var participant domain.Participant
	if err := json.NewDecoder(r.Body).Decode(&participant); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if participant.EntityID == "" {
		s.writeError(w, http.StatusBadRequest, "entityId is required")
		return
	}

	rm, err := s.registry.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := rm.Join(&participant); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rm.State())
}

func (s *Server) leave(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EntityID string `json:"entityId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rm, err := s.registry.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := rm.Leave(body.EntityID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeParticipant(w http.ResponseWriter, r *http.Request) {
	rm, err := s.registry.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := rm.RemoveParticipant(chi.URLParam(r, "entityID")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// submitAction runs one action. An invalid action is not an HTTP error:
// the ValidationResult comes back with 200 and valid=false.
func (s *Server) submitAction(w http.ResponseWriter, r *http.Request) {
	var action domain.TurnAction
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rm, err := s.registry.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	result := rm.SubmitAction(action)
	if s.metrics != nil {
		s.metrics.ObserveAction(action.Kind, result.Valid)
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) queueAction(w http.ResponseWriter, r *http.Request) {
	var action domain.TurnAction
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rm, err := s.registry.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	queueID, err := rm.QueueAction(action)
	if err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"queueId": queueID})
}

func (s *Server) cancelQueued(w http.ResponseWriter, r *http.Request) {
	rm, err := s.registry.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	entityID := r.URL.Query().Get("entityId")
	if !rm.CancelQueuedAction(entityID, chi.URLParam(r, "queueID")) {
		s.writeError(w, http.StatusNotFound, "queued action not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	s.roomCall(w, r, func(rm roomHandle) { rm.Start() })
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	s.roomCall(w, r, func(rm roomHandle) { rm.Pause() })
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	s.roomCall(w, r, func(rm roomHandle) { rm.Resume() })
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	// Body is optional for complete.
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.roomCall(w, r, func(rm roomHandle) { rm.Complete(body.Reason) })
}

func (s *Server) save(w http.ResponseWriter, r *http.Request) {
	rm, err := s.registry.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := rm.Save(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) recover(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DMUserID string `json:"dmUserId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rm, err := s.registry.RecoverRoom(r.Context(), body.DMUserID, chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rm.State())
}

func (s *Server) backtrack(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TurnNumber  int    `json:"turnNumber"`
		RoundNumber int    `json:"roundNumber"`
		ActorID     string `json:"actorId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rm, err := s.registry.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := rm.Backtrack(body.TurnNumber, body.RoundNumber, body.ActorID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rm.State())
}

func (s *Server) redo(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EntityID string              `json:"entityId"`
		Actions  []domain.TurnAction `json:"actions"`
		ActorID  string              `json:"actorId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rm, err := s.registry.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	result, err := rm.Redo(body.EntityID, body.Actions, body.ActorID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) initiative(w http.ResponseWriter, r *http.Request) {
	var order []domain.InitiativeEntry
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.roomCall(w, r, func(rm roomHandle) { rm.UpdateInitiativeOrder(order) })
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var message domain.ChatMessage
	if err := json.NewDecoder(r.Body).Decode(&message); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if message.SenderID == "" || message.Content == "" {
		s.writeError(w, http.StatusBadRequest, "senderId and content are required")
		return
	}

	s.roomCall(w, r, func(rm roomHandle) { rm.Chat(message) })
}

// roomHandle is the subset of room methods the lifecycle handlers need.
type roomHandle interface {
	Start()
	Pause()
	Resume()
	Complete(reason string)
	UpdateInitiativeOrder(order []domain.InitiativeEntry)
	Chat(message domain.ChatMessage)
	State() *domain.SessionState
}

func (s *Server) roomCall(w http.ResponseWriter, r *http.Request, fn func(roomHandle)) {
	rm, err := s.registry.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	fn(rm)
	s.writeJSON(w, http.StatusOK, rm.State())
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps sentinel errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrParticipantNotFound),
		errors.Is(err, domain.ErrSnapshotNotFound),
		errors.Is(err, domain.ErrTurnNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrRoomExists):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrRoomCapacity),
		errors.Is(err, domain.ErrRoomCompleted),
		errors.Is(err, domain.ErrNotCurrentTurn):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNotRecoverable):
		status = http.StatusUnprocessableEntity
	}
	s.writeError(w, status, err.Error())
}
