package config

import "github.com/MrWong99/poise/internal/feedback"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	GoalsChanged bool
	NewGoals     feedback.Goals

	RealTimeFeedbackChanged bool
	NewRealTimeFeedback     bool

	// RestartRequired is true when a field that is only read at startup
	// changed (listen address, providers, storage, telemetry).
	RestartRequired bool
}

// Changed reports whether any hot-reloadable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.GoalsChanged || d.RealTimeFeedbackChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if og, ng := old.Goals.Goals(), new.Goals.Goals(); og != ng {
		d.GoalsChanged = true
		d.NewGoals = ng
	}

	if o, n := old.Session.RealTimeFeedbackEnabled(), new.Session.RealTimeFeedbackEnabled(); o != n {
		d.RealTimeFeedbackChanged = true
		d.NewRealTimeFeedback = n
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!sameEntry(old.Providers.STT, new.Providers.STT) ||
		!sameEntry(old.Providers.Face, new.Providers.Face) ||
		!sameEntry(old.Providers.Pose, new.Providers.Pose) ||
		old.Storage != new.Storage ||
		old.Telemetry != new.Telemetry {
		d.RestartRequired = true
	}

	return d
}

// sameEntry compares the identifying fields of two provider entries.
// Options are not compared.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !sameEntry(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}
