package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied at runtime; the
// rest is reported so operators know a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// WidgetChanged is true when any widget default changed. New sessions
	// pick the new defaults up; existing sessions keep the old ones.
	WidgetChanged bool

	// BackendChanged is true when the backend endpoint or credentials
	// changed. Applying this requires a restart.
	BackendChanged bool

	// ServerChanged is true when the listen address or TLS setup changed.
	// Applying this requires a restart.
	ServerChanged bool

	// AudioChanged is true when the analysis format changed. New sessions
	// pick it up.
	AudioChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.ServerChanged = true
	}
	if old.Backend != new.Backend {
		d.BackendChanged = true
	}
	if old.Widget != new.Widget {
		d.WidgetChanged = true
	}
	if old.Audio != new.Audio {
		d.AudioChanged = true
	}

	return d
}

// tlsEqual compares two optional TLS blocks.
func tlsEqual(old, new *TLSConfig) bool {
	if old == nil || new == nil {
		return old == new
	}
	return *old == *new
}
