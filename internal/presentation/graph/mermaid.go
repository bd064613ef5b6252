// Package graph renders encounter state as Mermaid diagrams for
// inspection tooling and docs.
package graph

import (
	"fmt"
	"strings"

	"github.com/tabletoplab/skirmish/pkg/domain"
)

// GenerateMermaid produces a Mermaid flowchart of the initiative order.
// Shapes carry entity semantics:
//   - player: ((circle))
//   - monster: [rectangle]
//   - npc: [/parallelogram/]
//
// The current-turn entity and defeated entities get overlay styles, and
// the wrap-around edge back to the top of the order is dotted and labeled
// with the upcoming round.
func GenerateMermaid(state *domain.SessionState) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	order := state.InitiativeOrder
	for i, entry := range order {
		safeID := sanitizeMermaidID(entry.EntityID)

		opener, closer := "[", "]"
		switch entry.EntityType {
		case domain.EntityPlayer:
			opener, closer = "((", "))"
		case domain.EntityNPC:
			opener, closer = "[/", "/]"
		}

		label := entry.EntityID
		if p := state.Participant(entry.EntityID); p != nil {
			label = fmt.Sprintf("%s <br/> %d/%d hp", entry.EntityID, p.CurrentHP, p.MaxHP)
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, label, closer))

		if len(order) > 1 {
			next := order[(i+1)%len(order)]
			safeNext := sanitizeMermaidID(next.EntityID)
			if i == len(order)-1 {
				// Wrap-around closes the round.
				sb.WriteString(fmt.Sprintf("    %s -. \"round %d\" .-> %s\n",
					safeID, state.RoundNumber+1, safeNext))
			} else {
				sb.WriteString(fmt.Sprintf("    %s --> %s\n", safeID, safeNext))
			}
		}
	}

	sb.WriteString("\n    %% Overlay Styles\n")
	sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
	sb.WriteString("    classDef defeated fill:#eceff1,stroke:#90a4ae,stroke-dasharray: 5 5,color:#000;\n")

	if current := state.CurrentEntity(); current != nil {
		sb.WriteString(fmt.Sprintf("    class %s current;\n", sanitizeMermaidID(current.EntityID)))
	}
	for _, entry := range order {
		if p := state.Participant(entry.EntityID); p != nil && p.CurrentHP == 0 {
			sb.WriteString(fmt.Sprintf("    class %s defeated;\n", sanitizeMermaidID(entry.EntityID)))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
