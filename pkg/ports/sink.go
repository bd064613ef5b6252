package ports

import "github.com/tabletoplab/skirmish/pkg/domain"

// EventSink is the presentation/transport collaborator contract: it
// receives validated state deltas and domain events for delivery to
// connected clients. Delivery order is the emission order (FIFO per room).
type EventSink interface {
	Deliver(event domain.Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(event domain.Event)

// Deliver implements EventSink.
func (f EventSinkFunc) Deliver(event domain.Event) {
	f(event)
}
