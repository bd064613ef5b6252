package rules

import (
	"fmt"

	"github.com/tabletoplab/skirmish/pkg/domain"
)

// Config holds the placeholder combat numbers. These are deliberately not a
// combat-resolution engine: the surrounding game-content system owns real
// item and spell mechanics.
type Config struct {
	// MoveBudget is the maximum Manhattan distance of a single move action.
	MoveBudget int
	// MeleeRange is the maximum Manhattan distance of an attack. Ranged
	// weapons are a later extension and not modeled here.
	MeleeRange int
	// AttackDamage is the flat damage applied by a successful attack.
	AttackDamage int
	// HealAmount is the flat healing applied by the canonical potion.
	HealAmount int
	// HealingPotionRef is the item reference treated as a healing potion.
	HealingPotionRef string
}

// DefaultConfig returns the standard placeholder rules.
func DefaultConfig() Config {
	return Config{
		MoveBudget:       5,
		MeleeRange:       1,
		AttackDamage:     5,
		HealAmount:       10,
		HealingPotionRef: "healing_potion",
	}
}

// Validate checks whether the action may be executed against the state.
// It is pure: the state is never mutated. The engine and the client mirror
// both call it, which is what keeps optimistic predictions in agreement
// with the authoritative result.
func Validate(state *domain.SessionState, action domain.TurnAction, cfg Config) domain.ValidationResult {
	current := state.CurrentEntity()
	if current == nil || current.EntityID != action.EntityID {
		return domain.Invalid("not your turn")
	}

	if state.Status != domain.StatusActive {
		return domain.Invalid(fmt.Sprintf("session is not active (status: %s)", state.Status))
	}

	actor := state.Participant(action.EntityID)
	if actor == nil {
		return domain.Invalid("unknown entity")
	}

	switch action.Kind {
	case domain.ActionMove:
		return validateMove(state, actor, action, cfg)
	case domain.ActionAttack:
		return validateAttack(state, actor, action, cfg)
	case domain.ActionUseItem:
		return validateUseItem(actor, action)
	case domain.ActionCast:
		if action.SpellID == "" {
			return domain.Invalid("No spell specified")
		}
		return domain.OK()
	case domain.ActionInteract, domain.ActionEnd:
		return domain.OK()
	default:
		return domain.Invalid(fmt.Sprintf("unknown action kind %q", action.Kind))
	}
}

func validateMove(state *domain.SessionState, actor *domain.Participant, action domain.TurnAction, cfg Config) domain.ValidationResult {
	if action.Position == nil {
		return domain.Invalid("No target position specified")
	}
	target := *action.Position

	if !state.MapState.InBounds(target) {
		return domain.Invalid("Target position is out of bounds")
	}
	if state.MapState.IsObstacle(target) {
		return domain.Invalid("Target position is blocked")
	}
	if occupant := state.MapState.OccupiedBy(target, actor.EntityID); occupant != "" {
		return domain.Invalid("Target position is occupied")
	}
	if actor.Position.ManhattanDistance(target) > cfg.MoveBudget {
		return domain.Invalid("Target position is out of movement range")
	}
	return domain.OK()
}

func validateAttack(state *domain.SessionState, actor *domain.Participant, action domain.TurnAction, cfg Config) domain.ValidationResult {
	target := state.Participant(action.TargetID)
	if target == nil {
		return domain.Invalid("Target not found")
	}
	if actor.Position.ManhattanDistance(target.Position) > cfg.MeleeRange {
		return domain.Invalid("Target is out of range")
	}
	return domain.OK()
}

func validateUseItem(actor *domain.Participant, action domain.TurnAction) domain.ValidationResult {
	stack := actor.Inventory.Find(action.ItemID)
	if stack == nil || stack.Quantity <= 0 {
		return domain.Invalid("Item not available")
	}
	return domain.OK()
}

// Outcome reports side information about an applied action.
type Outcome struct {
	// DefeatedEntityID is set when an attack dropped the target to 0 HP.
	DefeatedEntityID string
}

// Apply executes a validated action against the state, mutating it in
// place. Callers must have validated the action first; Apply only fails on
// states that validation would have rejected.
func Apply(state *domain.SessionState, action domain.TurnAction, cfg Config) (Outcome, error) {
	actor := state.Participant(action.EntityID)
	if actor == nil {
		return Outcome{}, fmt.Errorf("entity %q has no participant record", action.EntityID)
	}

	switch action.Kind {
	case domain.ActionMove:
		if action.Position == nil {
			return Outcome{}, fmt.Errorf("move action has no position")
		}
		actor.Position = *action.Position
		placement := state.MapState.EntityPositions[actor.EntityID]
		placement.X = action.Position.X
		placement.Y = action.Position.Y
		state.MapState.EntityPositions[actor.EntityID] = placement
		return Outcome{}, nil

	case domain.ActionAttack:
		target := state.Participant(action.TargetID)
		if target == nil {
			return Outcome{}, fmt.Errorf("attack target %q not found", action.TargetID)
		}
		target.CurrentHP -= cfg.AttackDamage
		if target.CurrentHP <= 0 {
			target.CurrentHP = 0
			return Outcome{DefeatedEntityID: target.EntityID}, nil
		}
		return Outcome{}, nil

	case domain.ActionUseItem:
		stack := actor.Inventory.Find(action.ItemID)
		if stack == nil || stack.Quantity <= 0 {
			return Outcome{}, fmt.Errorf("item %q not available", action.ItemID)
		}
		ref := stack.ItemRef
		stack.Quantity--
		if stack.Quantity == 0 {
			actor.Inventory.Remove(action.ItemID)
		}
		if ref == cfg.HealingPotionRef {
			actor.CurrentHP += cfg.HealAmount
			if actor.CurrentHP > actor.MaxHP {
				actor.CurrentHP = actor.MaxHP
			}
		}
		return Outcome{}, nil

	case domain.ActionCast, domain.ActionInteract, domain.ActionEnd:
		// Reserved for the game-content system; no core mechanics.
		return Outcome{}, nil

	default:
		return Outcome{}, fmt.Errorf("unknown action kind %q", action.Kind)
	}
}
