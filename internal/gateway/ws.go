package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/toolrelay/internal/bus"
)

const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603

	clientWriteTimeout = 5 * time.Second
)

// Notifications pushed to dashboard clients.
const (
	MethodWhitelistUpdate   = "whitelistUpdate"
	MethodAutoAcceptUpdate  = "autoAcceptUpdate"
	MethodStrictModeUpdate  = "strictModeUpdate"
	MethodApprovalRequest   = "approvalRequest"
	MethodApprovalProcessed = "approvalProcessed"
	MethodAgentStatus       = "agentStatus"
	MethodLog               = "log"
)

// busMethods maps bus topics to client notification methods.
var busMethods = map[string]string{
	bus.TopicSettingsWhitelist:  MethodWhitelistUpdate,
	bus.TopicSettingsAutoAccept: MethodAutoAcceptUpdate,
	bus.TopicSettingsStrictMode: MethodStrictModeUpdate,
	bus.TopicApprovalRequested:  MethodApprovalRequest,
	bus.TopicApprovalResolved:   MethodApprovalProcessed,
	bus.TopicAgentStatus:        MethodAgentStatus,
	bus.TopicLog:                MethodLog,
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	Method  string    `json:"method,omitempty"`
	Params  any       `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Same-origin requests are always allowed by the websocket library.
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}
	c := &client{conn: conn}
	s.addClient(c)
	s.logger.Debug("ws: client connected")
	defer func() {
		s.removeClient(c)
		s.logger.Debug("ws: client disconnecting")
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	s.sendInitialState(r.Context(), c)

	for {
		var req rpcRequest
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			if websocket.CloseStatus(err) == -1 {
				s.logger.Debug("ws: read error, closing", "error", err)
			}
			return
		}
		resp := s.handleRPC(req, c)
		if resp == nil {
			continue
		}
		if err := c.write(r.Context(), resp); err != nil {
			s.logger.Debug("ws: write response error", "method", req.Method, "error", err)
		}
	}
}

// sendInitialState brings a new client up to date.
func (s *Server) sendInitialState(ctx context.Context, c *client) {
	st := s.cfg.Gate.Settings()
	notes := []rpcResponse{
		notification(MethodWhitelistUpdate, st.Whitelist),
		notification(MethodAutoAcceptUpdate, st.AutoAccept),
		notification(MethodStrictModeUpdate, st.StrictMode),
	}
	for _, p := range s.cfg.Gate.Pending() {
		notes = append(notes, notification(MethodApprovalRequest, bus.ApprovalRequested{
			ID:        p.ID,
			Tool:      p.Tool,
			Args:      p.Args,
			CreatedAt: p.CreatedAt,
		}))
	}
	if s.cfg.Agent != nil {
		notes = append(notes, notification(MethodAgentStatus, bus.AgentStatus{
			Online:     s.cfg.Agent.AgentOnline(),
			LastPickup: s.cfg.Relay.LastPickup(),
		}))
	}
	for _, n := range notes {
		if err := c.write(ctx, n); err != nil {
			s.logger.Debug("ws: initial state write error", "method", n.Method, "error", err)
			return
		}
	}
}

func (s *Server) handleRPC(req rpcRequest, c *client) *rpcResponse {
	id, hasID := decodeID(req.ID)
	if req.JSONRPC != "2.0" || req.Method == "" {
		if !hasID {
			return nil
		}
		return rpcFailure(id, ErrCodeInvalidRequest, "invalid JSON-RPC request")
	}

	var (
		result any
		err    error
	)
	switch req.Method {
	case "toggleAutoAccept":
		var v bool
		if json.Unmarshal(req.Params, &v) != nil {
			return paramsError(id, hasID, "expected a boolean")
		}
		result, err = s.cfg.Gate.SetAutoAccept(v)
	case "toggleStrictMode":
		var v bool
		if json.Unmarshal(req.Params, &v) != nil {
			return paramsError(id, hasID, "expected a boolean")
		}
		result, err = s.cfg.Gate.SetStrictMode(v)
	case "toggleWhitelist":
		var tool string
		if json.Unmarshal(req.Params, &tool) != nil || tool == "" {
			return paramsError(id, hasID, "expected a tool name")
		}
		var st any
		st, _, err = s.cfg.Gate.ToggleWhitelist(tool)
		result = st
	case "getWhitelist":
		wl := s.cfg.Gate.Settings().Whitelist
		ctx, cancel := context.WithTimeout(context.Background(), clientWriteTimeout)
		_ = c.write(ctx, notification(MethodWhitelistUpdate, wl))
		cancel()
		result = wl
	case "approvalResponse":
		var p struct {
			ID       string `json:"id"`
			Approved bool   `json:"approved"`
		}
		if json.Unmarshal(req.Params, &p) != nil || p.ID == "" {
			return paramsError(id, hasID, "expected {id, approved}")
		}
		result = map[string]bool{"resolved": s.cfg.Gate.Resolve(p.ID, p.Approved)}
	default:
		if !hasID {
			return nil
		}
		return rpcFailure(id, ErrCodeMethodNotFound, "method not found: "+req.Method)
	}

	if !hasID {
		return nil
	}
	if err != nil {
		return rpcFailure(id, ErrCodeInternal, err.Error())
	}
	return &rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func decodeID(raw json.RawMessage) (any, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	var id any
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, false
	}
	return id, true
}

func notification(method string, params any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", Method: method, Params: params}
}

func rpcFailure(id any, code int, msg string) *rpcResponse {
	return &rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}}
}

func paramsError(id any, hasID bool, msg string) *rpcResponse {
	if !hasID {
		return nil
	}
	return rpcFailure(id, ErrCodeInvalidParams, msg)
}

// broadcast is fire-and-forget: a failed write only affects that client.
func (s *Server) broadcast(method string, params any) {
	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	msg := notification(method, params)
	for _, c := range clients {
		ctx, cancel := context.WithTimeout(context.Background(), clientWriteTimeout)
		// Debug level: Info records are themselves broadcast.
		if err := c.write(ctx, msg); err != nil {
			s.logger.Debug("ws: broadcast write error", "method", method, "error", err)
		}
		cancel()
	}
}

// forwardBusEvents relays bus events to every connected client.
func (s *Server) forwardBusEvents() {
	for {
		select {
		case <-s.stop:
			return
		case ev, ok := <-s.sub.Ch():
			if !ok {
				return
			}
			method, known := busMethods[ev.Topic]
			if !known {
				continue
			}
			s.broadcast(method, ev.Payload)
		}
	}
}

func (s *Server) addClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, c)
}

func (c *client) write(ctx context.Context, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, payload)
}
