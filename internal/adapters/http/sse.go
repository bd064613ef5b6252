package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tabletoplab/skirmish/pkg/domain"
)

// chanSink bridges room events onto a channel. Delivery never blocks the
// engine: a client that cannot keep up loses events and resyncs from the
// next full state fetch.
type chanSink struct {
	ch chan domain.Event
}

func newChanSink() *chanSink {
	return &chanSink{ch: make(chan domain.Event, 64)}
}

// Deliver implements ports.EventSink.
func (c *chanSink) Deliver(event domain.Event) {
	select {
	case c.ch <- event:
	default:
	}
}

// streamEvents serves the room's event stream over SSE. Each event goes out
// as `event: <type>` with a JSON-encoded envelope in the data line.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	rm, err := s.registry.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sink := newChanSink()
	rm.AttachSink(sink)
	defer rm.DetachSink(sink)

	fmt.Fprintf(w, "event: connected\ndata: {\"roomId\":%q}\n\n", rm.ID())
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-sink.ch:
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Error("event encode failed", "room_id", rm.ID(), "err", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
