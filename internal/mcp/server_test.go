package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/basket/toolrelay/internal/tools"
)

type fakeRelay struct {
	mu    sync.Mutex
	calls []recordedCall
	reply func(tool string, args map[string]any) directResponse
}

type recordedCall struct {
	Tool   string
	Args   map[string]any
	Header http.Header
}

func (f *fakeRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tool := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/"), "/direct")
	var args map[string]any
	_ = json.NewDecoder(r.Body).Decode(&args)

	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{Tool: tool, Args: args, Header: r.Header.Clone()})
	reply := f.reply
	f.mu.Unlock()

	resp := directResponse{Success: true, Output: tools.EncodeString("ok " + tool)}
	if reply != nil {
		resp = reply(tool, args)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeRelay) recorded() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func connect(t *testing.T, relay http.Handler, maxBytes int64, token string) *mcpsdk.ClientSession {
	t.Helper()
	ts := httptest.NewServer(relay)
	t.Cleanup(ts.Close)

	client := NewClient(ClientConfig{BaseURL: ts.URL, Token: token, MaxResponseBytes: maxBytes, Timeout: 5 * time.Second})
	srv := NewServer(client, maxBytes, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	serverT, clientT := mcpsdk.NewInMemoryTransports()
	if _, err := srv.server.Connect(ctx, serverT, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	c := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := c.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool(t *testing.T, session *mcpsdk.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	if len(res.Content) == 0 {
		t.Fatalf("call %s: empty content", name)
	}
	text, ok := res.Content[0].(*mcpsdk.TextContent)
	if !ok {
		t.Fatalf("call %s: content is %T", name, res.Content[0])
	}
	return text.Text, res.IsError
}

func TestListTools_ExposesCatalogAndMulti(t *testing.T) {
	session := connect(t, &fakeRelay{}, 1<<20, "")

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	got := map[string]bool{}
	for _, tool := range res.Tools {
		got[tool.Name] = true
		if tool.InputSchema == nil {
			t.Errorf("tool %s has no input schema", tool.Name)
		}
	}
	for _, name := range append(tools.MustCatalog().Names(), "multi") {
		if !got[name] {
			t.Errorf("tool %q not exposed", name)
		}
	}
}

func TestCallTool_EncodesTransportFieldsAndDecodesOutput(t *testing.T) {
	relay := &fakeRelay{}
	session := connect(t, relay, 1<<20, "secret")

	text, isErr := callTool(t, session, "create", map[string]any{
		"className": "Script",
		"name":      "Main",
		"parent":    "workspace",
		"source":    "print(\"hi\")\n",
	})
	if isErr {
		t.Fatalf("unexpected error result: %s", text)
	}
	if text != "ok create" {
		t.Fatalf("output = %q, want decoded %q", text, "ok create")
	}

	calls := relay.recorded()
	if len(calls) != 1 {
		t.Fatalf("relay saw %d calls, want 1", len(calls))
	}
	if got := calls[0].Args["source"]; got != tools.EncodeString("print(\"hi\")\n") {
		t.Fatalf("source sent as %v, want base64", got)
	}
	if got := calls[0].Args["name"]; got != "Main" {
		t.Fatalf("name = %v, plain fields must not be encoded", got)
	}
	if got := calls[0].Header.Get("Authorization"); got != "Bearer secret" {
		t.Fatalf("Authorization = %q", got)
	}
}

func TestCallTool_RelayFailureIsErrorResult(t *testing.T) {
	relay := &fakeRelay{reply: func(tool string, _ map[string]any) directResponse {
		return directResponse{Error: "object not found"}
	}}
	session := connect(t, relay, 1<<20, "")

	text, isErr := callTool(t, session, "get", map[string]any{"path": "workspace.Missing"})
	if !isErr {
		t.Fatal("expected error result")
	}
	if text != "Error: get failed: object not found" {
		t.Fatalf("text = %q", text)
	}
}

func TestCallTool_TreeRequiresPath(t *testing.T) {
	relay := &fakeRelay{}
	session := connect(t, relay, 1<<20, "")

	text, isErr := callTool(t, session, "tree", map[string]any{"path": ""})
	if !isErr || !strings.Contains(text, `parameter "path" is missing`) {
		t.Fatalf("got %q (isError=%v)", text, isErr)
	}
	if n := len(relay.recorded()); n != 0 {
		t.Fatalf("relay called %d times for invalid input", n)
	}
}

func TestCallTool_ResponseTooLarge(t *testing.T) {
	relay := &fakeRelay{reply: func(string, map[string]any) directResponse {
		return directResponse{Success: true, Output: strings.Repeat("x", 4096)}
	}}
	session := connect(t, relay, 1024, "")

	text, isErr := callTool(t, session, "tree", map[string]any{"path": "workspace"})
	if !isErr || !strings.Contains(text, "response too large") {
		t.Fatalf("got %q (isError=%v)", text, isErr)
	}
}

func TestMulti_RunsSequentiallyAndReportsFailures(t *testing.T) {
	relay := &fakeRelay{reply: func(tool string, args map[string]any) directResponse {
		if tool == "get" {
			return directResponse{Error: "object not found"}
		}
		return directResponse{Success: true, Output: "ok " + tool}
	}}
	session := connect(t, relay, 1<<20, "")

	text, isErr := callTool(t, session, "multi", map[string]any{
		"calls": []any{
			map[string]any{"tool": "tree", "args": map[string]any{"path": "workspace"}},
			map[string]any{"tool": "get", "args": map[string]any{"path": "workspace.Nope"}},
			map[string]any{"tool": "multi", "args": map[string]any{}},
			map[string]any{"tool": "readLine", "args": map[string]any{"path": "workspace.S", "lineNumber": 1}},
		},
	})
	if !isErr {
		t.Fatal("batch with failures should be flagged as error")
	}
	for _, want := range []string{
		"(4 calls)",
		"[1] TREE: ✅ Success",
		"[2] GET: ❌ Error",
		"get failed: object not found",
		"[3] MULTI: ❌ Error",
		"multi cannot be nested",
		"[4] READLINE: ✅ Success",
		"Summary: 2 succeeded, 2 failed",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}

	var order []string
	for _, c := range relay.recorded() {
		order = append(order, c.Tool)
	}
	if strings.Join(order, ",") != "tree,get,readLine" {
		t.Fatalf("relay call order = %v", order)
	}
}

func TestMulti_EmptyCalls(t *testing.T) {
	session := connect(t, &fakeRelay{}, 1<<20, "")
	text, isErr := callTool(t, session, "multi", map[string]any{"calls": []any{}})
	if !isErr || !strings.Contains(text, "at least one") {
		t.Fatalf("got %q (isError=%v)", text, isErr)
	}
}
