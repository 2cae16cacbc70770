package approval

import (
	"strconv"

	"github.com/basket/toolrelay/internal/audit"
	"github.com/basket/toolrelay/internal/bus"
	"github.com/basket/toolrelay/internal/config"
)

// Settings returns the current approval policy.
func (g *Gate) Settings() config.Settings {
	return g.settings.Snapshot()
}

func (g *Gate) SetAutoAccept(v bool) (config.Settings, error) {
	before := g.settings.Snapshot()
	next, err := g.settings.SetAutoAccept(v)
	if err != nil {
		return next, err
	}
	if before.AutoAccept != next.AutoAccept {
		audit.Record("allow", "settings.auto_accept", strconv.FormatBool(v), "", "operator")
		g.logger.Info("auto-accept changed", "auto_accept", v)
	}
	g.bus.Publish(bus.TopicSettingsAutoAccept, next.AutoAccept)
	return next, nil
}

func (g *Gate) SetStrictMode(v bool) (config.Settings, error) {
	before := g.settings.Snapshot()
	next, err := g.settings.SetStrictMode(v)
	if err != nil {
		return next, err
	}
	if before.StrictMode != next.StrictMode {
		audit.Record("allow", "settings.strict_mode", strconv.FormatBool(v), "", "operator")
		g.logger.Info("strict edit mode changed", "strict_mode", v)
	}
	g.bus.Publish(bus.TopicSettingsStrictMode, next.StrictMode)
	return next, nil
}

// ToggleWhitelist flips tool's whitelist membership and reports the new state.
func (g *Gate) ToggleWhitelist(tool string) (config.Settings, bool, error) {
	next, enabled, err := g.settings.ToggleWhitelist(tool)
	if err != nil {
		return next, false, err
	}
	reason := "removed"
	if enabled {
		reason = "added"
	}
	audit.Record("allow", "settings.whitelist", reason, tool, "operator")
	g.logger.Info("whitelist changed", "tool", tool, "whitelisted", enabled)
	g.bus.Publish(bus.TopicSettingsWhitelist, next.Whitelist)
	return next, enabled, nil
}

// ReloadSettings re-reads the settings file after an external edit and
// republishes every value when something changed.
func (g *Gate) ReloadSettings() error {
	next, changed, err := g.settings.Reload()
	if err != nil || !changed {
		return err
	}
	g.logger.Info("settings reloaded from disk")
	g.bus.Publish(bus.TopicSettingsAutoAccept, next.AutoAccept)
	g.bus.Publish(bus.TopicSettingsStrictMode, next.StrictMode)
	g.bus.Publish(bus.TopicSettingsWhitelist, next.Whitelist)
	return nil
}
