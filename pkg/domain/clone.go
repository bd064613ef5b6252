package domain

// Clone returns a deep copy of the session state. The durability layer and
// the client mirror both operate on copies so slow I/O and speculative
// execution never observe concurrent engine mutation.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}

	out := *s

	if s.InitiativeOrder != nil {
		out.InitiativeOrder = make([]InitiativeEntry, len(s.InitiativeOrder))
		copy(out.InitiativeOrder, s.InitiativeOrder)
	}

	out.Participants = make(map[string]*Participant, len(s.Participants))
	for id, p := range s.Participants {
		out.Participants[id] = p.Clone()
	}

	out.MapState = *s.MapState.Clone()

	if s.TurnHistory != nil {
		out.TurnHistory = make([]TurnRecord, len(s.TurnHistory))
		for i := range s.TurnHistory {
			out.TurnHistory[i] = s.TurnHistory[i].Clone()
		}
	}

	if s.ChatLog != nil {
		out.ChatLog = make([]ChatMessage, len(s.ChatLog))
		copy(out.ChatLog, s.ChatLog)
	}

	return &out
}

// Clone returns a deep copy of the participant.
func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}

	out := *p

	// Nil slices stay nil so a clone compares DeepEqual to its source.
	if p.Conditions != nil {
		out.Conditions = make([]Condition, len(p.Conditions))
		for i, c := range p.Conditions {
			out.Conditions[i] = c
			out.Conditions[i].Effects = cloneAnyMap(c.Effects)
		}
	}

	if p.Inventory.Items != nil {
		out.Inventory.Items = make([]ItemStack, len(p.Inventory.Items))
		for i, item := range p.Inventory.Items {
			out.Inventory.Items[i] = item
			out.Inventory.Items[i].Properties = cloneAnyMap(item.Properties)
		}
	}
	out.Inventory.EquippedSlots = cloneStringMap(p.Inventory.EquippedSlots)

	if p.AvailableActions != nil {
		out.AvailableActions = make([]ActionOption, len(p.AvailableActions))
		for i, a := range p.AvailableActions {
			out.AvailableActions[i] = a
			out.AvailableActions[i].Requirements = cloneAnyMap(a.Requirements)
		}
	}

	return &out
}

// Clone returns a deep copy of the map state.
func (m *MapState) Clone() *MapState {
	if m == nil {
		return nil
	}

	out := *m

	out.EntityPositions = make(map[string]Placement, len(m.EntityPositions))
	for id, placement := range m.EntityPositions {
		out.EntityPositions[id] = placement
	}

	if m.Obstacles != nil {
		out.Obstacles = make([]Position, len(m.Obstacles))
		copy(out.Obstacles, m.Obstacles)
	}

	if m.Terrain != nil {
		out.Terrain = make([]Terrain, len(m.Terrain))
		for i, t := range m.Terrain {
			out.Terrain[i] = t
			out.Terrain[i].Properties = cloneAnyMap(t.Properties)
		}
	}

	return &out
}

// Clone returns a deep copy of the turn record.
func (r TurnRecord) Clone() TurnRecord {
	out := r
	if r.Actions != nil {
		out.Actions = make([]TurnAction, len(r.Actions))
		for i, a := range r.Actions {
			out.Actions[i] = a.Clone()
		}
	}
	if r.EndTime != nil {
		end := *r.EndTime
		out.EndTime = &end
	}
	return out
}

// Clone returns a deep copy of the action.
func (a TurnAction) Clone() TurnAction {
	out := a
	if a.Position != nil {
		pos := *a.Position
		out.Position = &pos
	}
	out.Parameters = cloneAnyMap(a.Parameters)
	return out
}

// cloneAnyMap shallow-copies map values. Nested mutable values inside
// Parameters/Effects/Properties are treated as opaque payloads.
func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
