// Package doctor runs local diagnostics for a relay installation.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/toolrelay/internal/config"
	"github.com/basket/toolrelay/internal/tools"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Failed reports whether any check failed.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return true
		}
	}
	return false
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkSettings,
		checkPermissions,
		checkCatalog,
		checkBind,
		checkExposure,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if _, err := os.Stat(config.ConfigPath(cfg.HomeDir)); errors.Is(err, os.ErrNotExist) {
		return CheckResult{Name: "Config", Status: "PASS", Message: "No config.yaml; using defaults", Detail: cfg.HomeDir}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir)}
}

func checkSettings(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Settings", Status: "SKIP", Message: "Config missing"}
	}
	path := config.SettingsPath(cfg.HomeDir)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return CheckResult{Name: "Settings", Status: "PASS", Message: "No settings.yaml; defaults are written on first start"}
	}
	if err != nil {
		return CheckResult{Name: "Settings", Status: "FAIL", Message: fmt.Sprintf("Read failed: %v", err)}
	}
	var s config.Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return CheckResult{Name: "Settings", Status: "FAIL", Message: fmt.Sprintf("Parse failed: %v", err), Detail: path}
	}

	catalog := tools.MustCatalog()
	var unknown []string
	for _, tool := range s.Whitelist {
		if !catalog.Has(tool) {
			unknown = append(unknown, tool)
		}
	}
	msg := fmt.Sprintf("autoAccept=%t strictMode=%t whitelist=%d tools", s.AutoAccept, s.StrictMode, len(s.Whitelist))
	if len(unknown) > 0 {
		return CheckResult{Name: "Settings", Status: "WARN", Message: msg, Detail: "unknown whitelisted tools: " + strings.Join(unknown, ", ")}
	}
	return CheckResult{Name: "Settings", Status: "PASS", Message: msg}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}

	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)

	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

func checkCatalog(_ context.Context, _ *config.Config) CheckResult {
	catalog, err := tools.NewCatalog()
	if err != nil {
		return CheckResult{Name: "Tool Catalog", Status: "FAIL", Message: fmt.Sprintf("Schemas do not compile: %v", err)}
	}
	return CheckResult{Name: "Tool Catalog", Status: "PASS", Message: fmt.Sprintf("%d tool schemas compiled", len(catalog.Names()))}
}

// checkBind reports whether bind_addr is free. A busy port is only a warning
// because it is usually a relay that is already running.
func checkBind(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Bind Address", Status: "SKIP", Message: "Config missing"}
	}
	if _, _, err := net.SplitHostPort(cfg.BindAddr); err != nil {
		return CheckResult{Name: "Bind Address", Status: "FAIL", Message: fmt.Sprintf("Invalid bind_addr %q: %v", cfg.BindAddr, err)}
	}
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", cfg.BindAddr)
	if err != nil {
		return CheckResult{
			Name:    "Bind Address",
			Status:  "WARN",
			Message: fmt.Sprintf("%s is in use", cfg.BindAddr),
			Detail:  "Another relay may already be running; try `toolrelay status`",
		}
	}
	ln.Close()
	return CheckResult{Name: "Bind Address", Status: "PASS", Message: fmt.Sprintf("%s is available", cfg.BindAddr)}
}

func checkExposure(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Exposure", Status: "SKIP", Message: "Config missing"}
	}
	host, _, _ := net.SplitHostPort(cfg.BindAddr)
	h := strings.ToLower(strings.TrimSpace(host))
	loopback := h == "127.0.0.1" || h == "localhost" || h == "::1"
	switch {
	case loopback && cfg.AuthToken == "":
		return CheckResult{Name: "Exposure", Status: "PASS", Message: "Loopback only, no auth token"}
	case cfg.AuthToken != "":
		return CheckResult{Name: "Exposure", Status: "PASS", Message: "auth_token protects /api and /ws"}
	default:
		return CheckResult{
			Name:    "Exposure",
			Status:  "WARN",
			Message: fmt.Sprintf("%s is reachable from the network without auth_token", cfg.BindAddr),
			Detail:  "Anyone who can connect may approve and run tools",
		}
	}
}
