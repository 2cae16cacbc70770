package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// commandResponse is what the agent receives from GET /command. Tool is nil
// when the long poll timed out with nothing to deliver.
type commandResponse struct {
	Tool *string        `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
	ID   string         `json:"id,omitempty"`
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"pong": true})
}

// handleCommand is the agent's long poll.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	cmd := s.cfg.Relay.Pickup(r.Context())
	if cmd == nil {
		writeJSON(w, http.StatusOK, commandResponse{})
		return
	}
	// The agent may have gone away between hand-over and write.
	if r.Context().Err() != nil {
		s.cfg.Relay.Requeue(cmd)
		return
	}

	body, err := json.Marshal(commandResponse{Tool: &cmd.Tool, Args: cmd.Args, ID: cmd.ID})
	if err != nil {
		s.logger.Error("encode command failed", "id", cmd.ID, "tool", cmd.Tool, "error", err)
		s.cfg.Relay.Requeue(cmd)
		http.Error(w, "encode command", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(append(body, '\n')); err != nil {
		s.logger.Warn("command delivery failed, requeued", "id", cmd.ID, "tool", cmd.Tool, "error", err)
		s.cfg.Relay.Requeue(cmd)
		return
	}
	s.logger.Info("command sent to agent", "id", cmd.ID, "tool", cmd.Tool)
}

// handleResult accepts "<id>\n<output>" text or a JSON {id, output} object.
// The agent always gets {received: true}.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	defer writeJSON(w, http.StatusOK, map[string]bool{"received": true})

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error("read result body failed", "error", err)
		return
	}
	id, output, ok := parseResult(r.Header.Get("Content-Type"), raw)
	if !ok {
		preview := string(raw)
		if len(preview) > 50 {
			preview = preview[:50]
		}
		s.logger.Error("result in unknown format", "preview", preview)
		return
	}
	s.cfg.Relay.PostResult(id, output)
}

// parseResult reads a JSON {id, output} body when it looks like one, else
// splits "<id>\n<output>" at the first newline.
func parseResult(contentType string, raw []byte) (id, output string, ok bool) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	isJSON := mediaType == "application/json"
	if isJSON || strings.HasPrefix(strings.TrimSpace(string(raw)), "{") {
		id, output, ok = parseJSONResult(raw)
		if ok || isJSON {
			return id, output, ok
		}
	}
	if i := strings.IndexByte(string(raw), '\n'); i >= 0 {
		return string(raw[:i]), string(raw[i+1:]), true
	}
	return "", "", false
}

func parseJSONResult(raw []byte) (id, output string, ok bool) {
	var body struct {
		ID     any `json:"id"`
		Output any `json:"output"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.ID == nil {
		return "", "", false
	}
	return stringify(body.ID), stringify(body.Output), true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%v", t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
