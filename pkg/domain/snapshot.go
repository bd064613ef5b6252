package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Trigger identifies the reason a snapshot or log write was requested.
type Trigger string

const (
	TriggerPause          Trigger = "pause"
	TriggerComplete       Trigger = "complete"
	TriggerInactivity     Trigger = "inactivity"
	TriggerRoundEnd       Trigger = "round-end"
	TriggerDisconnect     Trigger = "participant-disconnect"
	TriggerDMDisconnect   Trigger = "dm-disconnect"
	TriggerEntityDefeated Trigger = "entity-defeated"
	TriggerServerRestart  Trigger = "server-restart"
	TriggerCriticalError  Trigger = "critical-error"
	TriggerManualSave     Trigger = "manual-save"
)

// Snapshot is a durable, checksummed, optionally compressed copy of a
// session state. The last snapshot outlives the in-memory room and is the
// record of truth across restarts.
type Snapshot struct {
	InteractionID           string    `json:"interactionId"`
	GameState               []byte    `json:"gameState"`
	ParticipantCount        int       `json:"participantCount"`
	ConnectedParticipantIDs []string  `json:"connectedParticipantIds,omitempty"`
	Timestamp               time.Time `json:"timestamp"`
	Trigger                 Trigger   `json:"trigger"`
	Compressed              bool      `json:"compressed,omitempty"`
	OriginalSize            int       `json:"originalSize,omitempty"`
	CompressedSize          int       `json:"compressedSize,omitempty"`
	Checksum                string    `json:"checksum"`
}

// ComputeChecksum returns the sha-256 over the identity fields of the
// snapshot: interaction id, game state payload, timestamp and trigger. A
// single mutated byte in any of them changes the digest.
func (s Snapshot) ComputeChecksum() string {
	h := sha256.New()
	h.Write([]byte(s.InteractionID))
	h.Write(s.GameState)
	h.Write([]byte(s.Timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(s.Trigger))
	return hex.EncodeToString(h.Sum(nil))
}
