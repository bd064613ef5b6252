// Package middleware provides composable wrappers around the snapshot
// store: at-rest encryption and chat redaction. Middlewares are applied
// below the durability layer, so checksums and compression behave exactly
// as without them.
package middleware

import "github.com/tabletoplab/skirmish/pkg/ports"

// Middleware allows wrapping a SnapshotStore to add behavior.
type Middleware func(ports.SnapshotStore) ports.SnapshotStore

// Chain applies middlewares right to left, so the first middleware in the
// list is the outermost wrapper.
func Chain(store ports.SnapshotStore, middlewares ...Middleware) ports.SnapshotStore {
	for i := len(middlewares) - 1; i >= 0; i-- {
		store = middlewares[i](store)
	}
	return store
}
