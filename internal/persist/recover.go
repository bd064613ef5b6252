package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tabletoplab/skirmish/pkg/domain"
	"github.com/tabletoplab/skirmish/pkg/schema"
)

// sessionSchema is the structural contract a recovered snapshot payload must
// satisfy before typed decoding. It guards against schema drift between the
// process that wrote the snapshot and the one recovering it.
var sessionSchema = schema.Schema{
	"interactionId":    schema.String(),
	"status":           schema.String(),
	"initiativeOrder":  schema.Slice(schema.Any()),
	"currentTurnIndex": schema.Int(),
	"roundNumber":      schema.Int(),
	"participants":     schema.Any(),
	"mapState": schema.Object(schema.Schema{
		"width":           schema.Int(),
		"height":          schema.Int(),
		"entityPositions": schema.Any(),
	}),
}

func marshalState(state *domain.SessionState) ([]byte, error) {
	return json.Marshal(state)
}

// Recover loads the latest snapshot for an interaction and rebuilds a
// validated session state from it. The snapshot must pass, in order: the
// checksum, the age gate, decompression, structural schema validation and
// domain invariant validation. Any failure returns an error wrapping
// domain.ErrNotRecoverable so callers can fall back to a fresh session.
func (p *Persister) Recover(ctx context.Context, interactionID string) (*domain.SessionState, domain.Snapshot, error) {
	if !p.cfg.RecoveryEnabled {
		return nil, domain.Snapshot{}, fmt.Errorf("recovery disabled: %w", domain.ErrNotRecoverable)
	}

	snapshot, err := p.store.GetLatestStateSnapshot(ctx, interactionID)
	if err != nil {
		return nil, domain.Snapshot{}, fmt.Errorf("load snapshot for %s: %w", interactionID, err)
	}

	state, err := p.decode(snapshot)
	if err != nil {
		return nil, snapshot, fmt.Errorf("%w: %w", domain.ErrNotRecoverable, err)
	}

	// A session that was live when the snapshot was taken comes back paused;
	// the DM resumes it explicitly once the participants are reconnected.
	if state.Status == domain.StatusActive {
		state.Status = domain.StatusPaused
	}
	for _, participant := range state.Participants {
		participant.Connected = false
	}
	return state, snapshot, nil
}

// Peek loads and decodes the latest snapshot without the recovery
// side effects: the stored status and connection flags come back as
// written. Inspection tooling uses it to show a room as it was saved.
func (p *Persister) Peek(ctx context.Context, interactionID string) (*domain.SessionState, domain.Snapshot, error) {
	snapshot, err := p.store.GetLatestStateSnapshot(ctx, interactionID)
	if err != nil {
		return nil, domain.Snapshot{}, fmt.Errorf("load snapshot for %s: %w", interactionID, err)
	}

	state, err := p.decode(snapshot)
	if err != nil {
		return nil, snapshot, err
	}
	return state, snapshot, nil
}

// decode turns a stored snapshot back into a validated session state.
func (p *Persister) decode(snapshot domain.Snapshot) (*domain.SessionState, error) {
	if got := snapshot.ComputeChecksum(); got != snapshot.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch for %s", domain.ErrSnapshotCorrupted, snapshot.InteractionID)
	}

	if p.cfg.MaxSnapshotAge > 0 {
		if age := p.now().Sub(snapshot.Timestamp); age > p.cfg.MaxSnapshotAge {
			return nil, fmt.Errorf("%w: snapshot is %s old (max %s)", domain.ErrSnapshotStale, age.Round(0), p.cfg.MaxSnapshotAge)
		}
	}

	payload := snapshot.GameState
	if snapshot.Compressed {
		decompressed, err := Decompress(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %w", domain.ErrSnapshotCorrupted, err)
		}
		payload = decompressed
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %w", domain.ErrSnapshotCorrupted, err)
	}
	if err := schema.Validate(sessionSchema, raw); err != nil {
		return nil, fmt.Errorf("snapshot payload schema: %w", err)
	}

	var state domain.SessionState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("%w: decode state: %w", domain.ErrSnapshotCorrupted, err)
	}
	if err := domain.ValidateState(&state); err != nil {
		return nil, fmt.Errorf("recovered state invalid: %w", err)
	}
	return &state, nil
}
