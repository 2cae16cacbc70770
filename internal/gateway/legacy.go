package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/basket/toolrelay/internal/legacy"
)

// Tools accepted on the queue-based intake.
var legacyTools = []string{"tree", "create", "get", "modifyObject", "readLine"}

type legacyAccepted struct {
	ID      string        `json:"id"`
	Status  legacy.Status `json:"status"`
	Message string        `json:"message"`
}

func (s *Server) handleLegacySubmit(tool string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		args, err := decodeArgs(r)
		if err != nil {
			req := s.cfg.Legacy.SubmitError(tool, nil, "invalid JSON body: "+err.Error())
			writeJSON(w, http.StatusOK, legacyAccepted{ID: req.ID, Status: req.Status, Message: req.Result})
			return
		}
		if tool == "tree" {
			if p, _ := args["path"].(string); p == "" {
				req := s.cfg.Legacy.SubmitError(tool, args, `parameter "path" is missing`)
				writeJSON(w, http.StatusOK, legacyAccepted{ID: req.ID, Status: req.Status, Message: req.Result})
				return
			}
		}
		if err := s.cfg.Runner.Validate(tool, args); err != nil {
			req := s.cfg.Legacy.SubmitError(tool, args, err.Error())
			writeJSON(w, http.StatusOK, legacyAccepted{ID: req.ID, Status: req.Status, Message: req.Result})
			return
		}

		req := s.cfg.Legacy.Submit(tool, args)
		writeJSON(w, http.StatusOK, legacyAccepted{ID: req.ID, Status: req.Status, Message: "request queued"})
	}
}

func (s *Server) handleLegacyStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := s.cfg.Legacy.Status(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "request not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        req.ID,
		"status":    req.Status,
		"tool":      req.Tool,
		"args":      req.Args,
		"hasResult": req.Status.Done(),
	})
}

func (s *Server) handleLegacyResult(w http.ResponseWriter, r *http.Request) {
	req, ok := s.cfg.Legacy.Status(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "request not found"})
		return
	}
	if !req.Status.Done() {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":      req.ID,
			"status":  req.Status,
			"message": "request is still being processed",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     req.ID,
		"status": req.Status,
		"result": req.Result,
		"tool":   req.Tool,
		"args":   req.Args,
	})
}

func (s *Server) handleLegacyQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		legacy.QueueSnapshot
		ConfigFingerprint string `json:"configFingerprint,omitempty"`
	}{s.cfg.Legacy.Snapshot(), s.cfg.ConfigFingerprint})
}
