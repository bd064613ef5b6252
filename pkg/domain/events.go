package domain

import "time"

// EventType defines the category of an outbound session event.
type EventType string

const (
	EventTurnStarted   EventType = "turn_started"
	EventTurnCompleted EventType = "turn_completed"
	EventTurnSkipped   EventType = "turn_skipped"
	EventNewRound      EventType = "new_round"
	EventStateDelta    EventType = "state_delta"
	EventPaused        EventType = "paused"
	EventResumed       EventType = "resumed"
	EventBacktracked   EventType = "backtracked"
	EventChatMessage   EventType = "chat_message"
	EventError         EventType = "error"
)

// Event is the envelope delivered to subscribers. Payload holds one of the
// typed payload structs below, depending on Type.
type Event struct {
	Type          EventType `json:"type"`
	InteractionID string    `json:"interactionId"`
	Timestamp     time.Time `json:"timestamp"`
	Payload       any       `json:"payload,omitempty"`
}

// TurnStartedPayload announces the entity whose turn began and its time limit.
type TurnStartedPayload struct {
	EntityID  string        `json:"entityId"`
	TimeLimit time.Duration `json:"timeLimit"`
}

// TurnCompletedPayload carries the actions taken during the finished turn.
type TurnCompletedPayload struct {
	EntityID string       `json:"entityId"`
	Actions  []TurnAction `json:"actions,omitempty"`
}

// TurnSkippedPayload announces a skipped turn and why.
type TurnSkippedPayload struct {
	EntityID string `json:"entityId"`
	Reason   string `json:"reason"`
}

// NewRoundPayload announces the initiative order wrapping to a new round.
type NewRoundPayload struct {
	RoundNumber int `json:"roundNumber"`
}

// BacktrackedPayload describes a DM rewind of turn history.
type BacktrackedPayload struct {
	TargetTurn   int    `json:"targetTurn"`
	TargetRound  int    `json:"targetRound"`
	RemovedTurns int    `json:"removedTurns"`
	ActorID      string `json:"actorId"`
}

// ErrorPayload surfaces a recoverable error to subscribers.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Subscriber receives session events. Delivery is synchronous and FIFO per
// source so tests can assert exact event sequences.
type Subscriber interface {
	HandleEvent(event Event)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(event Event)

// HandleEvent implements Subscriber.
func (f SubscriberFunc) HandleEvent(event Event) {
	f(event)
}
