package domain

import "time"

// Status describes the lifecycle state of an encounter session.
type Status string

const (
	StatusWaiting   Status = "waiting"   // Created, turns not running yet
	StatusActive    Status = "active"    // Turns are being taken
	StatusPaused    Status = "paused"    // Frozen by the DM, timers stopped
	StatusCompleted Status = "completed" // Terminal
)

// EntityType classifies a combatant.
type EntityType string

const (
	EntityPlayer  EntityType = "player"
	EntityNPC     EntityType = "npc"
	EntityMonster EntityType = "monster"
)

// TurnStatus tracks where a participant is in the current round.
type TurnStatus string

const (
	TurnWaiting   TurnStatus = "waiting"
	TurnActive    TurnStatus = "active"
	TurnCompleted TurnStatus = "completed"
	TurnSkipped   TurnStatus = "skipped"
)

// Position is a tile coordinate on the encounter map.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ManhattanDistance returns the tile distance between two positions.
func (p Position) ManhattanDistance(other Position) int {
	return abs(p.X-other.X) + abs(p.Y-other.Y)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Placement is a position plus an optional facing on the map layer.
type Placement struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Facing string `json:"facing,omitempty"`
}

// Pos returns the placement's coordinate.
func (p Placement) Pos() Position {
	return Position{X: p.X, Y: p.Y}
}

// InitiativeEntry is one slot in the fixed turn sequence for a round.
type InitiativeEntry struct {
	EntityID       string     `json:"entityId"`
	EntityType     EntityType `json:"entityType"`
	InitiativeRoll int        `json:"initiativeRoll"`
	OwnerID        string     `json:"ownerId,omitempty"`
}

// Condition is a temporary effect applied to a participant.
type Condition struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	DurationRounds int            `json:"durationRounds"`
	Effects        map[string]any `json:"effects,omitempty"`
}

// ItemStack is a quantity of a referenced item in an inventory.
type ItemStack struct {
	ID         string         `json:"id"`
	ItemRef    string         `json:"itemRef"`
	Quantity   int            `json:"quantity"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Inventory holds a participant's items and equipped slots.
type Inventory struct {
	Items         []ItemStack       `json:"items"`
	EquippedSlots map[string]string `json:"equippedSlots,omitempty"`
	Capacity      int               `json:"capacity"`
}

// Find returns the stack with the given item id, or nil.
func (inv *Inventory) Find(itemID string) *ItemStack {
	for i := range inv.Items {
		if inv.Items[i].ID == itemID {
			return &inv.Items[i]
		}
	}
	return nil
}

// Remove deletes the stack with the given item id, if present.
func (inv *Inventory) Remove(itemID string) {
	for i := range inv.Items {
		if inv.Items[i].ID == itemID {
			inv.Items = append(inv.Items[:i], inv.Items[i+1:]...)
			return
		}
	}
}

// ActionOption describes an action a participant can take on its turn.
type ActionOption struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Kind         string         `json:"kind"`
	Available    bool           `json:"available"`
	Requirements map[string]any `json:"requirements,omitempty"`
}

// Participant is the per-entity combat state inside a session.
type Participant struct {
	EntityID         string         `json:"entityId"`
	EntityType       EntityType     `json:"entityType"`
	OwnerID          string         `json:"ownerId,omitempty"`
	CurrentHP        int            `json:"currentHp"`
	MaxHP            int            `json:"maxHp"`
	Position         Position       `json:"position"`
	Conditions       []Condition    `json:"conditions,omitempty"`
	Inventory        Inventory      `json:"inventory"`
	AvailableActions []ActionOption `json:"availableActions,omitempty"`
	TurnStatus       TurnStatus     `json:"turnStatus"`
	Connected        bool           `json:"connected"`
}

// Terrain describes a special tile on the map.
type Terrain struct {
	Position   Position       `json:"position"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// MapState is the spatial layer of a session: grid size, entity placements,
// obstacles and terrain features.
type MapState struct {
	Width           int                  `json:"width"`
	Height          int                  `json:"height"`
	EntityPositions map[string]Placement `json:"entityPositions"`
	Obstacles       []Position           `json:"obstacles,omitempty"`
	Terrain         []Terrain            `json:"terrain,omitempty"`
}

// InBounds reports whether the position falls inside the grid.
func (m *MapState) InBounds(p Position) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < m.Width && p.Y < m.Height
}

// IsObstacle reports whether the tile is blocked.
func (m *MapState) IsObstacle(p Position) bool {
	for _, o := range m.Obstacles {
		if o == p {
			return true
		}
	}
	return false
}

// OccupiedBy returns the id of the entity standing on the tile, excluding
// the given entity, or "" when the tile is free.
func (m *MapState) OccupiedBy(p Position, excludeEntityID string) string {
	for id, placement := range m.EntityPositions {
		if id == excludeEntityID {
			continue
		}
		if placement.Pos() == p {
			return id
		}
	}
	return ""
}

// ChatMessage is one entry in the session chat log.
type ChatMessage struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionState is the complete authoritative state of one encounter.
// It is owned and mutated exclusively by the engine of its room.
type SessionState struct {
	InteractionID    string                  `json:"interactionId"`
	Status           Status                  `json:"status"`
	InitiativeOrder  []InitiativeEntry       `json:"initiativeOrder"`
	CurrentTurnIndex int                     `json:"currentTurnIndex"`
	RoundNumber      int                     `json:"roundNumber"`
	Participants     map[string]*Participant `json:"participants"`
	MapState         MapState                `json:"mapState"`
	TurnHistory      []TurnRecord            `json:"turnHistory"`
	ChatLog          []ChatMessage           `json:"chatLog"`
	Timestamp        time.Time               `json:"timestamp"`
}

// NewSessionState creates a waiting session for the given interaction with
// an empty map of the given dimensions.
func NewSessionState(interactionID string, width, height int) *SessionState {
	return &SessionState{
		InteractionID: interactionID,
		Status:        StatusWaiting,
		RoundNumber:   1,
		Participants:  make(map[string]*Participant),
		MapState: MapState{
			Width:           width,
			Height:          height,
			EntityPositions: make(map[string]Placement),
		},
	}
}

// CurrentEntity returns the initiative entry whose turn it is, or nil when
// the initiative order is empty or the index is out of range.
func (s *SessionState) CurrentEntity() *InitiativeEntry {
	if s.CurrentTurnIndex < 0 || s.CurrentTurnIndex >= len(s.InitiativeOrder) {
		return nil
	}
	return &s.InitiativeOrder[s.CurrentTurnIndex]
}

// Participant returns the participant for the entity id, or nil.
func (s *SessionState) Participant(entityID string) *Participant {
	return s.Participants[entityID]
}
