package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/toolrelay/internal/approval"
	"github.com/basket/toolrelay/internal/config"
)

type wsMessage struct {
	ID     any             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func dialWS(t *testing.T, env *testEnv, header http.Header) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// readUntil reads messages until match returns true or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, match func(wsMessage) bool) wsMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		var msg wsMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func isMethod(method string) func(wsMessage) bool {
	return func(m wsMessage) bool { return m.Method == method }
}

func TestWS_InitialState(t *testing.T) {
	env := newTestEnv(t, testOpts{})
	conn := dialWS(t, env, nil)

	wl := readUntil(t, conn, isMethod(MethodWhitelistUpdate))
	var list []string
	if err := json.Unmarshal(wl.Params, &list); err != nil || len(list) != len(config.DefaultSettings().Whitelist) {
		t.Fatalf("whitelist params = %s (err %v)", wl.Params, err)
	}
	aa := readUntil(t, conn, isMethod(MethodAutoAcceptUpdate))
	if string(aa.Params) != "true" {
		t.Fatalf("autoAccept params = %s", aa.Params)
	}
	sm := readUntil(t, conn, isMethod(MethodStrictModeUpdate))
	if string(sm.Params) != "false" {
		t.Fatalf("strictMode params = %s", sm.Params)
	}
}

func TestWS_ToggleAutoAcceptBroadcasts(t *testing.T) {
	env := newTestEnv(t, testOpts{})
	conn := dialWS(t, env, nil)
	readUntil(t, conn, isMethod(MethodStrictModeUpdate))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req := map[string]any{"jsonrpc": "2.0", "id": 1, "method": "toggleAutoAccept", "params": false}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.Fatalf("write: %v", err)
	}

	var gotResult, gotBroadcast bool
	readUntil(t, conn, func(m wsMessage) bool {
		if m.ID == float64(1) && m.Error == nil {
			gotResult = true
		}
		if m.Method == MethodAutoAcceptUpdate && string(m.Params) == "false" {
			gotBroadcast = true
		}
		return gotResult && gotBroadcast
	})
	if env.gate.Settings().AutoAccept {
		t.Fatal("auto-accept should be off")
	}
}

func TestWS_UnknownMethod(t *testing.T) {
	env := newTestEnv(t, testOpts{})
	conn := dialWS(t, env, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = wsjson.Write(ctx, conn, map[string]any{"jsonrpc": "2.0", "id": 7, "method": "selfDestruct"})
	msg := readUntil(t, conn, func(m wsMessage) bool { return m.ID == float64(7) })
	if msg.Error == nil || msg.Error.Code != ErrCodeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", msg)
	}
}

func TestWS_ApprovalRoundTrip(t *testing.T) {
	env := newTestEnv(t, testOpts{settings: config.Settings{AutoAccept: false, Whitelist: []string{}}})
	conn := dialWS(t, env, nil)
	readUntil(t, conn, isMethod(MethodStrictModeUpdate))

	outcome := make(chan approval.Outcome, 1)
	go func() {
		o, _ := env.gate.RequestApproval(context.Background(), "req-1", "delete", map[string]any{"path": "game.Part"})
		outcome <- o
	}()

	req := readUntil(t, conn, isMethod(MethodApprovalRequest))
	var payload struct {
		ID   string `json:"id"`
		Tool string `json:"tool"`
	}
	_ = json.Unmarshal(req.Params, &payload)
	if payload.ID != "req-1" || payload.Tool != "delete" {
		t.Fatalf("approval request params = %s", req.Params)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = wsjson.Write(ctx, conn, map[string]any{
		"jsonrpc": "2.0", "method": "approvalResponse",
		"params": map[string]any{"id": "req-1", "approved": true},
	})

	processed := readUntil(t, conn, isMethod(MethodApprovalProcessed))
	if !strings.Contains(string(processed.Params), `"APPROVED"`) {
		t.Fatalf("processed params = %s", processed.Params)
	}
	select {
	case o := <-outcome:
		if o != approval.Approved {
			t.Fatalf("outcome = %s, want APPROVED", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("approval never resolved")
	}
}

func TestWS_RequiresToken(t *testing.T) {
	env := newTestEnv(t, testOpts{authToken: "s3cret-token"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	if _, resp, err := websocket.Dial(ctx, url, nil); err == nil {
		t.Fatal("expected dial without token to fail")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	conn := dialWS(t, env, http.Header{"Authorization": []string{"Bearer s3cret-token"}})
	readUntil(t, conn, isMethod(MethodWhitelistUpdate))
}
