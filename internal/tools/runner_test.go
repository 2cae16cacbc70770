package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/basket/toolrelay/internal/approval"
	"github.com/basket/toolrelay/internal/config"
	"github.com/basket/toolrelay/internal/legacy"
	"github.com/basket/toolrelay/internal/relay"
)

type harness struct {
	relay  *relay.Relay
	gate   *approval.Gate
	runner *Runner
	seen   chan *relay.Command
}

// newHarness wires a runner to a real relay and an agent goroutine that
// answers every command with reply(cmd).
func newHarness(t *testing.T, settings config.Settings, reply func(*relay.Command) string) *harness {
	t.Helper()
	r := relay.New(relay.Config{DispatchTimeout: 2 * time.Second, PickupWait: 50 * time.Millisecond})
	gate := approval.New(approval.Config{Settings: config.NewMemorySettings(settings), Timeout: time.Second})
	h := &harness{
		relay:  r,
		gate:   gate,
		runner: NewRunner(RunnerConfig{Gate: gate, Dispatcher: r}),
		seen:   make(chan *relay.Command, 16),
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for ctx.Err() == nil {
			cmd := r.Pickup(ctx)
			if cmd == nil {
				continue
			}
			h.seen <- cmd
			r.PostResult(cmd.ID, reply(cmd))
		}
	}()
	return h
}

func echo(cmd *relay.Command) string { return "ok " + cmd.Tool }

func TestRunner_DirectDecodesTransportFields(t *testing.T) {
	h := newHarness(t, config.DefaultSettings(), echo)
	out, err := h.runner.Direct(context.Background(), "create", map[string]any{
		"className": "Script", "name": "Main", "parent": "game.ServerScriptService",
		"source": EncodeString("print('hello')"),
	})
	if err != nil || out != "ok create" {
		t.Fatalf("direct: out=%q err=%v", out, err)
	}
	cmd := <-h.seen
	if cmd.Args["source"] != "print('hello')" {
		t.Fatalf("agent should receive decoded source, got %v", cmd.Args["source"])
	}
}

func TestRunner_ValidationNeverReachesAgent(t *testing.T) {
	h := newHarness(t, config.DefaultSettings(), echo)
	cases := []struct {
		tool string
		args map[string]any
		msg  string
	}{
		{"launchMissiles", nil, "Unknown tool: launchMissiles"},
		{"delete", map[string]any{"path": "  "}, `parameter "path" is required and must not be empty`},
		{"scriptSearch", map[string]any{}, `parameter "searchText" is required and must not be empty`},
	}
	for _, tc := range cases {
		_, err := h.runner.Direct(context.Background(), tc.tool, tc.args)
		if relay.KindOf(err) != relay.KindValidation || err.Error() != tc.msg {
			t.Fatalf("%s: got %v", tc.tool, err)
		}
	}
	select {
	case cmd := <-h.seen:
		t.Fatalf("invalid call reached the agent: %+v", cmd)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRunner_StrictEditScript(t *testing.T) {
	s := config.DefaultSettings()
	s.StrictMode = true
	h := newHarness(t, s, func(cmd *relay.Command) string {
		if cmd.Tool == "readLine" {
			return "Line 1: local a = 1"
		}
		return "[SUCCESS] edited"
	})
	edit := map[string]any{"path": "game.S", "old_string": "local a = 1", "new_string": "local a = 2"}

	if _, err := h.runner.Direct(context.Background(), "editScript", edit); relay.KindOf(err) != relay.KindValidation {
		t.Fatalf("editScript before readLine should fail validation, got %v", err)
	}
	if _, err := h.runner.Direct(context.Background(), "readLine", map[string]any{"path": "game.S", "lineNumber": 1}); err != nil {
		t.Fatalf("readLine: %v", err)
	}
	out, err := h.runner.Direct(context.Background(), "editScript", edit)
	if err != nil || out != "[SUCCESS] edited" {
		t.Fatalf("editScript after readLine: out=%q err=%v", out, err)
	}
}

func TestRunner_StrictEditScriptAfterLegacyReadLine(t *testing.T) {
	s := config.DefaultSettings()
	s.StrictMode = true
	h := newHarness(t, s, func(cmd *relay.Command) string {
		if cmd.Tool == "readLine" {
			return "Line 1: local a = 1"
		}
		return "[SUCCESS] edited"
	})
	proc := legacy.New(legacy.Config{Executor: h.runner})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = proc.Run(ctx) }()

	req := proc.Submit("readLine", map[string]any{"path": "game.S", "lineNumber": 1})
	deadline := time.After(2 * time.Second)
	for {
		got, _ := proc.Status(req.ID)
		if got.Status.Done() {
			if got.Status != legacy.StatusCompleted {
				t.Fatalf("legacy readLine: status=%s result=%q", got.Status, got.Result)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("legacy readLine never finished")
		case <-time.After(5 * time.Millisecond):
		}
	}

	last, ok := h.runner.tracker.Last()
	if !ok || last.Tool != "readLine" || last.Content != "local a = 1" {
		t.Fatalf("tracker after legacy readLine = %+v ok=%v", last, ok)
	}
	edit := map[string]any{"path": "game.S", "old_string": "local a = 1", "new_string": "local a = 2"}
	out, err := h.runner.Direct(context.Background(), "editScript", edit)
	if err != nil || out != "[SUCCESS] edited" {
		t.Fatalf("editScript after legacy readLine: out=%q err=%v", out, err)
	}
}

func TestRunner_RejectedByOperator(t *testing.T) {
	s := config.DefaultSettings()
	s.AutoAccept = false
	h := newHarness(t, s, echo)

	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if p := h.gate.Pending(); len(p) == 1 {
				h.gate.Resolve(p[0].ID, false)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	_, err := h.runner.Direct(context.Background(), "delete", map[string]any{"path": "workspace.Part"})
	if !errors.Is(err, relay.ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if err.Error() != `Tool "delete" was rejected by the user.` {
		t.Fatalf("rejection message: %q", err.Error())
	}
	select {
	case cmd := <-h.seen:
		t.Fatalf("rejected call reached the agent: %+v", cmd)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRunner_WhitelistedToolSkipsApproval(t *testing.T) {
	s := config.DefaultSettings()
	s.AutoAccept = false
	h := newHarness(t, s, echo)
	out, err := h.runner.Direct(context.Background(), "tree", map[string]any{"path": "workspace"})
	if err != nil || out != "ok tree" {
		t.Fatalf("whitelisted call: out=%q err=%v", out, err)
	}
	if h.gate.PendingCount() != 0 {
		t.Fatalf("whitelisted call should not create an approval")
	}
}

func TestRunner_RemoteErrorSurfaced(t *testing.T) {
	h := newHarness(t, config.DefaultSettings(), func(*relay.Command) string { return "[ERROR] Instance not found" })
	_, err := h.runner.Direct(context.Background(), "get", map[string]any{"path": "workspace.Nope"})
	if !errors.Is(err, relay.ErrRemote) || err.Error() != "Instance not found" {
		t.Fatalf("expected remote error, got %v", err)
	}
}
