package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CallChanged is true if any field of the call section changed.
	CallChanged bool
	// CallFields names the changed call settings by their YAML key.
	CallFields []string

	// RestartRequired lists sections that changed but only take effect
	// after a restart (providers, store, listen address).
	RestartRequired []string
}

// Empty reports whether nothing tracked by the diff changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.CallChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.CallFields = diffCall(&old.Call, &new.Call)
	d.CallChanged = len(d.CallFields) > 0

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !sameEntry(old.Providers.S2S, new.Providers.S2S) || !sameEntries(old.Providers.Fallbacks.S2S, new.Providers.Fallbacks.S2S) {
		d.RestartRequired = append(d.RestartRequired, "providers.s2s")
	}
	if !sameEntry(old.Providers.LLM, new.Providers.LLM) || !sameEntries(old.Providers.Fallbacks.LLM, new.Providers.Fallbacks.LLM) {
		d.RestartRequired = append(d.RestartRequired, "providers.llm")
	}
	if !sameEntry(old.Providers.Audio, new.Providers.Audio) {
		d.RestartRequired = append(d.RestartRequired, "providers.audio")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}

	return d
}

func diffCall(old, new *CallConfig) []string {
	var fields []string
	if old.Language != new.Language {
		fields = append(fields, "language")
	}
	if old.Voice != new.Voice {
		fields = append(fields, "voice")
	}
	if old.Persona != new.Persona {
		fields = append(fields, "persona")
	}
	if old.FrameSize != new.FrameSize {
		fields = append(fields, "frame_size")
	}
	if old.InterruptionFeedback != new.InterruptionFeedback {
		fields = append(fields, "interruption_feedback")
	}
	if old.HistoryLimit != new.HistoryLimit {
		fields = append(fields, "history_limit")
	}
	if old.FreeCallLimit != new.FreeCallLimit {
		fields = append(fields, "free_call_limit")
	}
	return fields
}

// sameEntry ignores Options.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}

func sameEntries(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameEntry(a[i], b[i]) {
			return false
		}
	}
	return true
}
