/*
Package skirmish is a live, turn-based multiplayer encounter runtime for
grid-based tabletop combat sessions.

A session (an "encounter") is owned by exactly one Room, whose Engine is the
single writer of the authoritative SessionState. Clients submit actions over
HTTP or MCP; the engine validates them against shared combat rules, applies
them, and fans out ordered events (turn starts, state deltas, chat) to every
connected sink. A durability layer checkpoints state to Redis on meaningful
triggers, so an interrupted encounter can be recovered and resumed.

# Architecture

The module follows a ports-and-adapters layout:

  - pkg/domain holds the session model: state, actions, events, deltas.
  - pkg/rules is the pure combat rulebook, shared verbatim between the
    server engine and the optimistic client mirror so predictions and
    authoritative results cannot drift.
  - internal/engine processes turns: validation, timers, queues, history.
  - internal/room and internal/registry manage session lifetime.
  - internal/persist implements checksummed, compressed, retried snapshots.
  - pkg/adapters provides the Redis and in-memory stores; internal/adapters
    the HTTP gateway; pkg/adapters/mcp the Model Context Protocol surface.

# Usage

Hosts embed the runtime directly:

	cfg, err := config.Load("skirmish.yaml")
	if err != nil {
		log.Fatal(err)
	}
	rt, err := skirmish.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer rt.Close(context.Background())

	http.ListenAndServe(cfg.Server.Addr, rt.Handler())

The bundled daemon in cmd/skirmishd wraps exactly this wiring.
*/
package skirmish
