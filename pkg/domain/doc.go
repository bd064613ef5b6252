/*
Package domain contains the core models for the Skirmish encounter runtime.

It defines the session state, participants, actions, turn records, snapshots
and outbound events. This package is kept pure and free of external
dependencies like I/O or persistence, following Hexagonal Architecture
principles.

# Key Entities

  - SessionState: The authoritative state of one live encounter (initiative
    order, participants, map, history).
  - TurnAction: A command submitted by a client, validated and executed by
    the engine.
  - TurnRecord: One immutable entry in the turn history, removed only by a
    DM backtrack.
  - Snapshot: A durable, checksummed, optionally compressed copy of the
    session state.
  - StateDelta: The minimal description of what changed, broadcast to
    connected clients.
*/
package domain
