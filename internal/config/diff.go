package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CaptureChanged is true when any capture tuning knob changed. New
	// sessions pick the values up; running sessions keep their old tuning.
	CaptureChanged bool

	// CompletionChanged is true when the completion provider set changed.
	// Providers are constructed at startup, so this requires a restart; the
	// diff only surfaces it for logging.
	CompletionChanged bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are relevant to a running server.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Capture != new.Capture {
		d.CaptureChanged = true
	}

	if !completionEqual(old.Providers.Completion, new.Providers.Completion) {
		d.CompletionChanged = true
	}

	return d
}

// completionEqual compares two completion provider sets, ignoring the
// free-form options maps.
func completionEqual(a, b CompletionConfig) bool {
	if !entryEqual(a.Primary, b.Primary) {
		return false
	}
	if len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !entryEqual(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}

func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
