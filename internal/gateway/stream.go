package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleStream serves a run's events over SSE. The controller replays what
// already happened and tails live runs; the stream always ends with a
// synthetic completed status event, after which the connection closes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("agent_run_id")

	events, err := s.ctrl.Stream(r.Context(), runID, userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Proxies must not buffer the stream.
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Warn("failed to encode stream event", "run_id", runID, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			// Client went away; the controller goroutine unwinds on
			// r.Context() cancellation.
			return
		}
		flusher.Flush()
	}
}
