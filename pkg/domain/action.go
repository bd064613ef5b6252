package domain

import "time"

// ActionKind identifies the category of a submitted turn action.
type ActionKind string

const (
	ActionMove     ActionKind = "move"
	ActionAttack   ActionKind = "attack"
	ActionUseItem  ActionKind = "useItem"
	ActionCast     ActionKind = "cast"
	ActionInteract ActionKind = "interact"
	ActionEnd      ActionKind = "end"
)

// ConsumesTurn reports whether executing the action ends the entity's turn.
// Movement and interaction leave the turn open so several of them can be
// taken before ending.
func (k ActionKind) ConsumesTurn() bool {
	switch k {
	case ActionAttack, ActionUseItem, ActionCast, ActionEnd:
		return true
	}
	return false
}

// TurnAction is a command submitted by a client. It is validated and
// executed by the engine; it is not stored state except inside TurnRecords.
type TurnAction struct {
	Kind       ActionKind     `json:"kind"`
	EntityID   string         `json:"entityId"`
	TargetID   string         `json:"target,omitempty"`
	Position   *Position      `json:"position,omitempty"`
	ItemID     string         `json:"itemId,omitempty"`
	SpellID    string         `json:"spellId,omitempty"`
	ActionID   string         `json:"actionId,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ValidationResult reports the outcome of action validation. A failed
// validation is data, not a Go error: the room keeps running.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// OK is the successful validation result.
func OK() ValidationResult {
	return ValidationResult{Valid: true}
}

// Invalid builds a failed validation result from one or more messages.
func Invalid(errs ...string) ValidationResult {
	return ValidationResult{Valid: false, Errors: errs}
}

// RecordStatus describes how a recorded turn concluded.
type RecordStatus string

const (
	RecordCompleted RecordStatus = "completed"
	RecordSkipped   RecordStatus = "skipped"
	RecordTimeout   RecordStatus = "timeout"
)

// TurnRecord is one immutable entry in the session turn history. Records
// are only ever removed by truncation during a backtrack.
type TurnRecord struct {
	EntityID    string       `json:"entityId"`
	TurnNumber  int          `json:"turnNumber"`
	RoundNumber int          `json:"roundNumber"`
	Actions     []TurnAction `json:"actions,omitempty"`
	StartTime   time.Time    `json:"startTime"`
	EndTime     *time.Time   `json:"endTime,omitempty"`
	Status      RecordStatus `json:"status"`
}
