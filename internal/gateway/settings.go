package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Gate.Settings())
}

func (s *Server) handleSetAutoAccept(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	st, err := s.cfg.Gate.SetAutoAccept(req.Enabled)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSetStrictMode(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	st, err := s.cfg.Gate.SetStrictMode(req.Enabled)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleToggleWhitelist(w http.ResponseWriter, r *http.Request) {
	tool := chi.URLParam(r, "tool")
	st, listed, err := s.cfg.Gate.ToggleWhitelist(tool)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tool":        tool,
		"whitelisted": listed,
		"whitelist":   st.Whitelist,
	})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Gate.Pending())
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Approved bool `json:"approved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if !s.cfg.Gate.Resolve(id, req.Approved) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "approval not pending"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "approved": req.Approved})
}
