package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/banshee-data/raptorhab/internal/monitoring"
	"github.com/banshee-data/raptorhab/internal/session"
)

// streamEvents relays hub events as server-sent events. ?types= takes a
// comma separated list of event types to keep.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSONError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	var keep map[session.EventType]bool
	if v := r.URL.Query().Get("types"); v != "" {
		keep = make(map[session.EventType]bool)
		for _, t := range strings.Split(v, ",") {
			keep[session.EventType(strings.TrimSpace(t))] = true
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-c:
			if !ok {
				return
			}
			if keep != nil && !keep[ev.Type] {
				continue
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				monitoring.Logf("failed to encode %s event: %v", ev.Type, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
