package domain

import "fmt"

// ValidateState checks the structural invariants every reachable session
// state must satisfy. It is called before a snapshot is written and again
// after one is loaded; a violation on load means the snapshot is corrupt.
func ValidateState(s *SessionState) error {
	if s == nil {
		return fmt.Errorf("session state is nil")
	}

	var errs []error

	if s.InteractionID == "" {
		errs = append(errs, fmt.Errorf("interactionId is empty"))
	}

	switch s.Status {
	case StatusWaiting, StatusActive, StatusPaused, StatusCompleted:
	default:
		errs = append(errs, fmt.Errorf("unknown status %q", s.Status))
	}

	if len(s.InitiativeOrder) > 0 {
		if s.CurrentTurnIndex < 0 || s.CurrentTurnIndex >= len(s.InitiativeOrder) {
			errs = append(errs, fmt.Errorf("currentTurnIndex %d out of range [0,%d)",
				s.CurrentTurnIndex, len(s.InitiativeOrder)))
		}
	}

	if s.RoundNumber < 1 {
		errs = append(errs, fmt.Errorf("roundNumber %d < 1", s.RoundNumber))
	}

	for id, p := range s.Participants {
		if p == nil {
			errs = append(errs, fmt.Errorf("participant %q is nil", id))
			continue
		}
		if p.CurrentHP < 0 || p.CurrentHP > p.MaxHP {
			errs = append(errs, fmt.Errorf("participant %q hp %d outside [0,%d]",
				id, p.CurrentHP, p.MaxHP))
		}
		for _, item := range p.Inventory.Items {
			if item.Quantity < 0 {
				errs = append(errs, fmt.Errorf("participant %q item %q quantity %d < 0",
					id, item.ID, item.Quantity))
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return fmt.Errorf("invalid session state: %w", errs[0])
	}
	return fmt.Errorf("invalid session state: %d violations, first: %w", len(errs), errs[0])
}
