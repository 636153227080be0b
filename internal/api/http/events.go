package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// streamEvents handles GET /v1/events?event=<name> as a server-sent event
// stream of progress events. Events the client is too slow to take are
// dropped.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "streaming unsupported"})
		return
	}

	// Request IDs come from clients and may repeat.
	id := uuid.NewString()
	var names []string
	if name := r.URL.Query().Get("event"); name != "" {
		names = append(names, name)
	}
	sub := h.events.Subscribe(id, names...)
	defer h.events.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-sub.Ch:
			if !ok {
				return
			}
			data, err := json.Marshal(e.Payload())
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Name, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
