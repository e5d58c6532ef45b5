package config

import "time"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	FocusIntervalChanged bool
	NewFocusInterval     time.Duration

	// RestartRequired is true when a field changed that only takes effect
	// on the next live session (audio, providers, profile backend).
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Focus.Interval != new.Focus.Interval {
		d.FocusIntervalChanged = true
		d.NewFocusInterval = new.Focus.Interval
	}

	if old.Audio != new.Audio ||
		!sameEntry(old.Providers.Live, new.Providers.Live) ||
		!sameEntry(old.Providers.Generate, new.Providers.Generate) ||
		old.Profile != new.Profile ||
		old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = true
	}

	return d
}

// sameEntry compares the scalar fields of two provider entries.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
