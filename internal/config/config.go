package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TimeoutsConfig holds every relay deadline. Values are seconds unless named otherwise.
type TimeoutsConfig struct {
	// DispatchSeconds bounds how long a caller waits for the agent's result.
	DispatchSeconds int `yaml:"dispatch_seconds"`
	// ApprovalSeconds bounds an interactive approval; expiry rejects the call.
	ApprovalSeconds int `yaml:"approval_seconds"`
	// PickupSeconds is the long-poll window for GET /command.
	PickupSeconds int `yaml:"pickup_seconds"`
	// LegacyRetentionSeconds is how long legacy requests stay queryable.
	LegacyRetentionSeconds int `yaml:"legacy_retention_seconds"`
	// ResultRetentionSeconds is how long an unconsumed agent result is kept.
	ResultRetentionSeconds int `yaml:"result_retention_seconds"`
	// JanitorIntervalSeconds is the sweep period.
	JanitorIntervalSeconds int `yaml:"janitor_interval_seconds"`
	// AgentOfflineSeconds is the silence after which the agent is reported offline.
	AgentOfflineSeconds int `yaml:"agent_offline_seconds"`
	// LegacyPauseMillis is the pause between two legacy requests.
	LegacyPauseMillis int `yaml:"legacy_pause_millis"`
}

// TelemetryConfig mirrors otel.Config so it can live in config.yaml.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	// MetricsEnabled exposes otel metrics on GET /metrics in Prometheus format.
	MetricsEnabled *bool `yaml:"metrics_enabled,omitempty"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	// AuthToken, when set, is required as a Bearer token on /api/* and /ws.
	// Agent endpoints (/command, /result, /ping) stay open.
	AuthToken string `yaml:"auth_token"`

	// AllowOrigins controls which Origin headers are accepted for browser WS connections.
	// Empty means same-origin only.
	AllowOrigins []string `yaml:"allow_origins"`

	Timeouts TimeoutsConfig `yaml:"timeouts"`

	// MaxResponseBytes caps multi-call aggregate output (soft cap at half) and
	// MCP front-end responses.
	MaxResponseBytes int64 `yaml:"max_response_bytes"`
	// MaxRequestBytes caps HTTP request bodies.
	MaxRequestBytes int64 `yaml:"max_request_bytes"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Durations derived from Timeouts.
func (c Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Timeouts.DispatchSeconds) * time.Second
}

func (c Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.Timeouts.ApprovalSeconds) * time.Second
}

func (c Config) PickupWait() time.Duration {
	return time.Duration(c.Timeouts.PickupSeconds) * time.Second
}

func (c Config) LegacyRetention() time.Duration {
	return time.Duration(c.Timeouts.LegacyRetentionSeconds) * time.Second
}

func (c Config) ResultRetention() time.Duration {
	return time.Duration(c.Timeouts.ResultRetentionSeconds) * time.Second
}

func (c Config) JanitorInterval() time.Duration {
	return time.Duration(c.Timeouts.JanitorIntervalSeconds) * time.Second
}

func (c Config) AgentOfflineAfter() time.Duration {
	return time.Duration(c.Timeouts.AgentOfflineSeconds) * time.Second
}

func (c Config) LegacyPause() time.Duration {
	return time.Duration(c.Timeouts.LegacyPauseMillis) * time.Millisecond
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Fingerprint returns a stable hash of the active config, reported by /api/queue.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|timeouts=%+v|resp=%d|req=%d|origins=%v",
		c.BindAddr, c.LogLevel, c.Timeouts, c.MaxResponseBytes, c.MaxRequestBytes, c.AllowOrigins)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultTimeouts() TimeoutsConfig {
	return TimeoutsConfig{
		DispatchSeconds:        120,
		ApprovalSeconds:        90,
		PickupSeconds:          15,
		LegacyRetentionSeconds: 300,
		ResultRetentionSeconds: 120,
		JanitorIntervalSeconds: 30,
		AgentOfflineSeconds:    35,
		LegacyPauseMillis:      100,
	}
}

// Default returns the configuration used when config.yaml is absent.
func Default() Config {
	return Config{
		BindAddr:         "127.0.0.1:3000",
		LogLevel:         "info",
		Timeouts:         defaultTimeouts(),
		MaxResponseBytes: 50 * 1024 * 1024,
		MaxRequestBytes:  500 * 1024 * 1024,
	}
}

func HomeDir() string {
	if override := os.Getenv("TOOLRELAY_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".toolrelay")
}

// Load reads <home>/config.yaml over the defaults and applies env overrides.
// A missing file is not an error.
func Load() (Config, error) {
	cfg := Default()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create toolrelay home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	def := defaultTimeouts()
	if strings.TrimSpace(cfg.BindAddr) == "" {
		cfg.BindAddr = "127.0.0.1:3000"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	t := &cfg.Timeouts
	if t.DispatchSeconds <= 0 {
		t.DispatchSeconds = def.DispatchSeconds
	}
	if t.ApprovalSeconds <= 0 {
		t.ApprovalSeconds = def.ApprovalSeconds
	}
	if t.PickupSeconds <= 0 {
		t.PickupSeconds = def.PickupSeconds
	}
	if t.LegacyRetentionSeconds <= 0 {
		t.LegacyRetentionSeconds = def.LegacyRetentionSeconds
	}
	if t.ResultRetentionSeconds <= 0 {
		t.ResultRetentionSeconds = t.DispatchSeconds
	}
	if t.JanitorIntervalSeconds <= 0 {
		t.JanitorIntervalSeconds = def.JanitorIntervalSeconds
	}
	if t.AgentOfflineSeconds <= 0 {
		t.AgentOfflineSeconds = def.AgentOfflineSeconds
	}
	if t.LegacyPauseMillis < 0 {
		t.LegacyPauseMillis = def.LegacyPauseMillis
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 50 * 1024 * 1024
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = 500 * 1024 * 1024
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("TOOLRELAY_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("TOOLRELAY_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("TOOLRELAY_AUTH_TOKEN"); raw != "" {
		cfg.AuthToken = raw
	}
	intEnv := map[string]*int{
		"TOOLRELAY_DISPATCH_TIMEOUT_SECONDS": &cfg.Timeouts.DispatchSeconds,
		"TOOLRELAY_APPROVAL_TIMEOUT_SECONDS": &cfg.Timeouts.ApprovalSeconds,
		"TOOLRELAY_PICKUP_TIMEOUT_SECONDS":   &cfg.Timeouts.PickupSeconds,
		"TOOLRELAY_JANITOR_INTERVAL_SECONDS": &cfg.Timeouts.JanitorIntervalSeconds,
	}
	for name, dst := range intEnv {
		if raw := os.Getenv(name); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil {
				*dst = v
			}
		}
	}
}
