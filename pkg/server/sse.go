package server

import (
	"fmt"
	"net/http"

	"github.com/praxislabs/praxis/pkg/events"
)

// sseWriter renders events as server-sent-event frames, flushing after each
// so the UI sees progress in execution order.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseWriter) write(ev events.Event) error {
	data, err := ev.MarshalData()
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", ev.Event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
