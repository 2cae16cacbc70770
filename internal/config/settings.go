package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings is the operator-mutable approval policy.
type Settings struct {
	AutoAccept bool     `yaml:"auto_accept" json:"autoAccept"`
	StrictMode bool     `yaml:"strict_mode" json:"strictMode"`
	Whitelist  []string `yaml:"whitelist" json:"whitelist"`
}

func (s Settings) clone() Settings {
	s.Whitelist = slices.Clone(s.Whitelist)
	return s
}

func (s Settings) equal(o Settings) bool {
	return s.AutoAccept == o.AutoAccept && s.StrictMode == o.StrictMode && slices.Equal(s.Whitelist, o.Whitelist)
}

// DefaultSettings auto-accepts everything and whitelists the read-only and
// self-checking tools.
func DefaultSettings() Settings {
	return Settings{
		AutoAccept: true,
		StrictMode: false,
		Whitelist: []string{
			"tree", "get", "copy", "readLine", "getScriptInfo",
			"scriptSearch", "scriptSearchOnly", "editScript", "convertScript",
		},
	}
}

// SettingsPath returns the path to settings.yaml within the given home directory.
func SettingsPath(homeDir string) string {
	return filepath.Join(homeDir, "settings.yaml")
}

// SettingsStore owns the live Settings and rewrites settings.yaml on every change.
// A store with an empty path keeps settings in memory only.
type SettingsStore struct {
	mu   sync.RWMutex
	path string
	cur  Settings
}

// LoadSettings reads <home>/settings.yaml, writing the defaults when it does not exist.
func LoadSettings(homeDir string) (*SettingsStore, error) {
	s := &SettingsStore{path: SettingsPath(homeDir), cur: DefaultSettings()}
	loaded, err := s.read()
	if os.IsNotExist(err) {
		if err := s.persist(s.cur); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	s.cur = loaded
	return s, nil
}

// NewMemorySettings returns a store that never touches disk.
func NewMemorySettings(initial Settings) *SettingsStore {
	initial.Whitelist = normalizeWhitelist(initial.Whitelist)
	return &SettingsStore{cur: initial}
}

func (s *SettingsStore) Path() string { return s.path }

// Snapshot returns a copy of the current settings.
func (s *SettingsStore) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.clone()
}

func (s *SettingsStore) IsWhitelisted(tool string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.cur.Whitelist, tool)
}

func (s *SettingsStore) SetAutoAccept(v bool) (Settings, error) {
	return s.update(func(next *Settings) { next.AutoAccept = v })
}

func (s *SettingsStore) SetStrictMode(v bool) (Settings, error) {
	return s.update(func(next *Settings) { next.StrictMode = v })
}

// SetWhitelisted adds or removes tool. Setting the current state again is a no-op.
func (s *SettingsStore) SetWhitelisted(tool string, on bool) (Settings, error) {
	return s.update(func(next *Settings) {
		has := slices.Contains(next.Whitelist, tool)
		switch {
		case on && !has:
			next.Whitelist = append(next.Whitelist, tool)
		case !on && has:
			next.Whitelist = slices.DeleteFunc(next.Whitelist, func(t string) bool { return t == tool })
		}
	})
}

// ToggleWhitelist flips membership of tool and reports the new state.
func (s *SettingsStore) ToggleWhitelist(tool string) (Settings, bool, error) {
	var enabled bool
	next, err := s.update(func(next *Settings) {
		if slices.Contains(next.Whitelist, tool) {
			next.Whitelist = slices.DeleteFunc(next.Whitelist, func(t string) bool { return t == tool })
			return
		}
		next.Whitelist = append(next.Whitelist, tool)
		enabled = true
	})
	return next, enabled, err
}

// Reload re-reads settings.yaml after an external edit and reports whether anything changed.
func (s *SettingsStore) Reload() (Settings, bool, error) {
	if s.path == "" {
		return s.Snapshot(), false, nil
	}
	loaded, err := s.read()
	if err != nil {
		return s.Snapshot(), false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.equal(loaded) {
		return s.cur.clone(), false, nil
	}
	s.cur = loaded
	return s.cur.clone(), true, nil
}

func (s *SettingsStore) update(mutate func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur.clone()
	mutate(&next)
	next.Whitelist = normalizeWhitelist(next.Whitelist)
	if next.equal(s.cur) {
		return next, nil
	}
	if err := s.persist(next); err != nil {
		return s.cur.clone(), err
	}
	s.cur = next
	return next.clone(), nil
}

func (s *SettingsStore) read() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Settings{}, err
	}
	out := DefaultSettings()
	if err := yaml.Unmarshal(data, &out); err != nil {
		return Settings{}, fmt.Errorf("parse settings.yaml: %w", err)
	}
	out.Whitelist = normalizeWhitelist(out.Whitelist)
	return out, nil
}

func (s *SettingsStore) persist(next Settings) error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write settings.yaml: %w", err)
	}
	return nil
}

func normalizeWhitelist(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
