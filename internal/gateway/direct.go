package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type directResponse struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleDirect runs one tool call to completion and answers with its outcome.
// Every failure is reported in the body; the status code stays 200.
func (s *Server) handleDirect(w http.ResponseWriter, r *http.Request) {
	tool := chi.URLParam(r, "tool")
	args, err := decodeArgs(r)
	if err != nil {
		writeJSON(w, http.StatusOK, directResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}

	out, err := s.cfg.Runner.Direct(r.Context(), tool, args)
	if err != nil {
		writeJSON(w, http.StatusOK, directResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, directResponse{Success: true, Output: out})
}
