package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/basket/toolrelay/internal/approval"
	"github.com/basket/toolrelay/internal/bus"
	"github.com/basket/toolrelay/internal/config"
	"github.com/basket/toolrelay/internal/janitor"
	"github.com/basket/toolrelay/internal/legacy"
	"github.com/basket/toolrelay/internal/relay"
)

func TestConsoleController_ResolvesPendingApproval(t *testing.T) {
	settings := config.NewMemorySettings(config.Settings{AutoAccept: false})
	rl := relay.New(relay.Config{PickupWait: 50 * time.Millisecond})
	gate := approval.New(approval.Config{Settings: settings, Bus: bus.New(), Timeout: 5 * time.Second})
	proc := legacy.New(legacy.Config{})
	jan := janitor.New(janitor.Config{Relay: rl, Gate: gate, Legacy: proc})

	ctrl := &consoleController{relay: rl, gate: gate, legacy: proc, agent: jan, started: time.Now()}

	outcome := make(chan approval.Outcome, 1)
	go func() {
		o, _ := gate.RequestApproval(context.Background(), "id-1", "delete", map[string]any{"path": "workspace.Part"})
		outcome <- o
	}()

	deadline := time.After(2 * time.Second)
	for len(ctrl.Snapshot().Pending) == 0 {
		select {
		case <-deadline:
			t.Fatal("approval never became pending")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if !ctrl.Resolve("id-1", true) {
		t.Fatal("Resolve returned false for a pending approval")
	}
	select {
	case got := <-outcome:
		if got != approval.Approved {
			t.Fatalf("outcome = %s, want APPROVED", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("approval never resolved")
	}

	if err := ctrl.SetStrictMode(true); err != nil {
		t.Fatalf("SetStrictMode: %v", err)
	}
	if !ctrl.Snapshot().Settings.StrictMode {
		t.Fatal("strict mode not reflected in snapshot")
	}
	if ctrl.Snapshot().AgentOnline {
		t.Fatal("agent should be offline before any pickup")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestRunServe_ShutdownWithParkedPickup(t *testing.T) {
	addr := freeAddr(t)
	setTestConfig(t, addr)
	base := "http://" + addr

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- runServe(ctx, false) }()

	deadline := time.After(5 * time.Second)
	for {
		resp, err := http.Get(base + "/ping")
		if err == nil {
			resp.Body.Close()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("server never came up: %v", err)
		case <-time.After(20 * time.Millisecond):
		}
	}

	// An agent long-poll stays parked for the full pickup wait.
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		resp, err := http.Get(base + "/command")
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}()
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("runServe returned %v", err)
		}
		if elapsed := time.Since(start); elapsed >= shutdownGrace {
			t.Fatalf("shutdown took %s, want under %s", elapsed, shutdownGrace)
		}
	case <-time.After(shutdownGrace + 2*time.Second):
		t.Fatal("runServe did not return after cancel")
	}
	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("parked pickup never finished")
	}
}
