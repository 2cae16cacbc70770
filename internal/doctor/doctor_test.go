package doctor

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/toolrelay/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.HomeDir = t.TempDir()
	cfg.BindAddr = "127.0.0.1:0"
	return &cfg
}

func TestRun_FreshHomePasses(t *testing.T) {
	d := Run(context.Background(), testConfig(t), "test")
	if d.Failed() {
		t.Fatalf("fresh home should not fail: %+v", d.Results)
	}
	if len(d.Results) != 6 {
		t.Fatalf("got %d results, want 6", len(d.Results))
	}
	if d.System.Version != "test" {
		t.Fatalf("version = %q", d.System.Version)
	}
}

func TestRun_NilConfig(t *testing.T) {
	d := Run(context.Background(), nil, "test")
	if !d.Failed() {
		t.Fatal("nil config should fail the Config check")
	}
	for _, r := range d.Results {
		if r.Name == "Settings" && r.Status != "SKIP" {
			t.Fatalf("settings check = %s, want SKIP", r.Status)
		}
	}
}

func TestCheckSettings_UnknownWhitelistedTool(t *testing.T) {
	cfg := testConfig(t)
	data := "auto_accept: false\nstrict_mode: true\nwhitelist: [tree, teleport]\n"
	if err := os.WriteFile(filepath.Join(cfg.HomeDir, "settings.yaml"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	r := checkSettings(context.Background(), cfg)
	if r.Status != "WARN" || r.Detail != "unknown whitelisted tools: teleport" {
		t.Fatalf("got %+v", r)
	}
}

func TestCheckSettings_BrokenFile(t *testing.T) {
	cfg := testConfig(t)
	if err := os.WriteFile(filepath.Join(cfg.HomeDir, "settings.yaml"), []byte("whitelist: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if r := checkSettings(context.Background(), cfg); r.Status != "FAIL" {
		t.Fatalf("got %+v, want FAIL", r)
	}
}

func TestCheckBind_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := testConfig(t)
	cfg.BindAddr = ln.Addr().String()
	if r := checkBind(context.Background(), cfg); r.Status != "WARN" {
		t.Fatalf("got %+v, want WARN", r)
	}
}

func TestCheckBind_InvalidAddr(t *testing.T) {
	cfg := testConfig(t)
	cfg.BindAddr = "no-port"
	if r := checkBind(context.Background(), cfg); r.Status != "FAIL" {
		t.Fatalf("got %+v, want FAIL", r)
	}
}

func TestCheckExposure(t *testing.T) {
	cfg := testConfig(t)
	cfg.BindAddr = "0.0.0.0:3000"
	if r := checkExposure(context.Background(), cfg); r.Status != "WARN" {
		t.Fatalf("open bind without token: got %+v", r)
	}
	cfg.AuthToken = "secret"
	if r := checkExposure(context.Background(), cfg); r.Status != "PASS" {
		t.Fatalf("open bind with token: got %+v", r)
	}
}
