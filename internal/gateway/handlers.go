package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/strandlabs/strand/internal/auth"
	"github.com/strandlabs/strand/internal/runs"
	"github.com/strandlabs/strand/internal/threads"
)

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread_id")

	run, err := s.ctrl.Start(r.Context(), threadID, userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"agent_run_id": run.ID,
		"status":       run.Status,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("agent_run_id")

	if err := s.ctrl.Stop(r.Context(), runID, userID(r)); err != nil {
		s.writeError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("agent_run_id")

	run, err := s.ctrl.Get(r.Context(), runID, userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread_id")

	list, err := s.ctrl.ListByThread(r.Context(), threadID, userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{"agent_runs": list})
}

// userID returns the authenticated caller, or "" for the anonymous user.
func userID(r *http.Request) string {
	if user, ok := auth.UserFromContext(r.Context()); ok {
		return user.ID
	}
	return ""
}

// writeError maps controller errors onto the API's status codes. Unknown
// errors become opaque 500s; their detail stays in the log.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runs.ErrNotFound):
		s.jsonError(w, "agent run not found", http.StatusNotFound)
	case errors.Is(err, threads.ErrNotFound):
		s.jsonError(w, "thread not found", http.StatusNotFound)
	case errors.Is(err, runs.ErrAccessDenied):
		s.jsonError(w, "access denied", http.StatusForbidden)
	default:
		s.logger.Error("request failed", "error", err)
		s.jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("json encode error", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
