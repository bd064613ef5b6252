package tui

import (
	"fmt"
	"strings"

	"github.com/tabletoplab/skirmish/pkg/domain"
)

// Summary renders a session state as markdown for terminal inspection.
func Summary(state *domain.SessionState) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Encounter %s\n\n", state.InteractionID)
	fmt.Fprintf(&sb, "**Status:** %s · **Round:** %d · **Map:** %dx%d\n\n",
		state.Status, state.RoundNumber, state.MapState.Width, state.MapState.Height)

	if current := state.CurrentEntity(); current != nil {
		fmt.Fprintf(&sb, "Current turn: **%s** (slot %d of %d)\n\n",
			current.EntityID, state.CurrentTurnIndex+1, len(state.InitiativeOrder))
	}

	if len(state.InitiativeOrder) > 0 {
		sb.WriteString("## Initiative\n\n")
		sb.WriteString("| # | Entity | Type | Roll |\n")
		sb.WriteString("|---|--------|------|------|\n")
		for i, entry := range state.InitiativeOrder {
			marker := ""
			if i == state.CurrentTurnIndex {
				marker = " ◀"
			}
			fmt.Fprintf(&sb, "| %d | %s%s | %s | %d |\n",
				i+1, entry.EntityID, marker, entry.EntityType, entry.InitiativeRoll)
		}
		sb.WriteString("\n")
	}

	if len(state.Participants) > 0 {
		sb.WriteString("## Combatants\n\n")
		sb.WriteString("| Entity | HP | Position | Turn | Connected |\n")
		sb.WriteString("|--------|----|----------|------|-----------|\n")
		// Iterate in initiative order so output is stable.
		for _, entry := range state.InitiativeOrder {
			p := state.Participant(entry.EntityID)
			if p == nil {
				continue
			}
			sb.WriteString(combatantRow(p))
		}
		for id, p := range state.Participants {
			if !inInitiative(state, id) {
				sb.WriteString(combatantRow(p))
			}
		}
		sb.WriteString("\n")
	}

	if n := len(state.TurnHistory); n > 0 {
		sb.WriteString("## Recent turns\n\n")
		start := n - 5
		if start < 0 {
			start = 0
		}
		for _, record := range state.TurnHistory[start:] {
			fmt.Fprintf(&sb, "- round %d, turn %d: **%s** %s (%d actions)\n",
				record.RoundNumber, record.TurnNumber, record.EntityID,
				record.Status, len(record.Actions))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func combatantRow(p *domain.Participant) string {
	connected := "no"
	if p.Connected {
		connected = "yes"
	}
	hp := fmt.Sprintf("%d/%d", p.CurrentHP, p.MaxHP)
	if p.CurrentHP == 0 {
		hp += " ☠"
	}
	return fmt.Sprintf("| %s | %s | (%d,%d) | %s | %s |\n",
		p.EntityID, hp, p.Position.X, p.Position.Y, p.TurnStatus, connected)
}

func inInitiative(state *domain.SessionState, entityID string) bool {
	for _, entry := range state.InitiativeOrder {
		if entry.EntityID == entityID {
			return true
		}
	}
	return false
}
