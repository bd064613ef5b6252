package domain

import "errors"

// ErrRoomNotFound is returned when a session id has no live room.
var ErrRoomNotFound = errors.New("room not found")

// ErrRoomExists is returned when creating a room for a session that already has one.
var ErrRoomExists = errors.New("room already exists")

// ErrRoomCapacity is returned when the registry is at its maximum room count.
var ErrRoomCapacity = errors.New("room capacity exceeded")

// ErrRoomCompleted is returned when joining a completed room.
var ErrRoomCompleted = errors.New("room is completed")

// ErrParticipantNotFound is returned when an entity id has no participant record.
var ErrParticipantNotFound = errors.New("participant not found")

// ErrSnapshotNotFound is returned when no snapshot exists for an interaction.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// ErrSnapshotCorrupted is returned when a loaded snapshot fails its checksum
// or schema validation. Recovery never proceeds on unverified data.
var ErrSnapshotCorrupted = errors.New("snapshot corrupted")

// ErrSnapshotStale is returned when the latest snapshot is older than the
// configured maximum age.
var ErrSnapshotStale = errors.New("snapshot too old")

// ErrNotRecoverable is returned when no usable snapshot exists; the caller
// decides whether to start a fresh session.
var ErrNotRecoverable = errors.New("session not recoverable")

// ErrTurnNotFound is returned when a backtrack target does not match any
// turn record.
var ErrTurnNotFound = errors.New("turn record not found")

// ErrNotCurrentTurn is returned when a redo targets an entity whose turn it
// is not.
var ErrNotCurrentTurn = errors.New("not the current turn entity")
