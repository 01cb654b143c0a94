package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/invoicevox/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Speech: config.SpeechConfig{
			Provider:   "gemini",
			APIKey:     "k",
			Model:      "m",
			Voice:      "Kore",
			SampleRate: 24000,
			Channels:   1,
			Language:   config.LanguageArabic,
		},
		Output: config.OutputConfig{Name: "speaker"},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()
	next := baseConfig()
	next.Server.LogLevel = config.LogDebug
	next.Speech.Voice = "Puck"
	next.Speech.Language = config.LanguageEnglish

	d := config.Diff(baseConfig(), next)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v/%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.VoiceChanged || d.NewVoice != "Puck" || d.NewModel != "m" {
		t.Errorf("voice diff = %v/%q/%q", d.VoiceChanged, d.NewVoice, d.NewModel)
	}
	if !d.LanguageChanged || d.NewLanguage != config.LanguageEnglish {
		t.Errorf("language diff = %v/%q", d.LanguageChanged, d.NewLanguage)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_ModelChangeCountsAsVoice(t *testing.T) {
	t.Parallel()
	next := baseConfig()
	next.Speech.Model = "other"
	d := config.Diff(baseConfig(), next)
	if !d.VoiceChanged || d.NewModel != "other" {
		t.Errorf("expected voice change with new model, got %+v", d)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	next := baseConfig()
	next.Server.ListenAddr = ":9999"
	next.Speech.APIKey = "other"
	next.Output.Name = "wav"

	d := config.Diff(baseConfig(), next)
	for _, want := range []string{"server.listen_addr", "speech.api_key", "output.name"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, want)
		}
	}
	if d.Empty() {
		t.Error("diff should not be empty")
	}
}
