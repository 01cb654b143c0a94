package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// (provider, API key, output device) needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is true if the speech voice or model changed.
	VoiceChanged bool
	NewVoice     string
	NewModel     string

	LanguageChanged bool
	NewLanguage     Language

	// RestartRequired lists fields that changed but are only read at startup.
	RestartRequired []string
}

// Empty reports whether d contains no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VoiceChanged && !d.LanguageChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	prev, next := old.Speech, new.Speech
	if prev.Voice != next.Voice || prev.Model != next.Model {
		d.VoiceChanged = true
		d.NewVoice = next.Voice
		d.NewModel = next.Model
	}
	if prev.Language != next.Language {
		d.LanguageChanged = true
		d.NewLanguage = next.Language
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if prev.Provider != next.Provider {
		d.RestartRequired = append(d.RestartRequired, "speech.provider")
	}
	if prev.APIKey != next.APIKey {
		d.RestartRequired = append(d.RestartRequired, "speech.api_key")
	}
	if prev.BaseURL != next.BaseURL {
		d.RestartRequired = append(d.RestartRequired, "speech.base_url")
	}
	if prev.SampleRate != next.SampleRate || prev.Channels != next.Channels {
		d.RestartRequired = append(d.RestartRequired, "speech.sample_rate/channels")
	}
	if old.Output.Name != new.Output.Name {
		d.RestartRequired = append(d.RestartRequired, "output.name")
	}

	return d
}
