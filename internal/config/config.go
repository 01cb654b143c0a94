// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the invoicevox server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Language selects the wording of generated narration.
type Language string

const (
	LanguageArabic  Language = "ar"
	LanguageEnglish Language = "en"
)

// IsValid reports whether g is a supported narration language.
func (g Language) IsValid() bool {
	return g == LanguageArabic || g == LanguageEnglish
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Speech SpeechConfig `yaml:"speech"`
	Output OutputConfig `yaml:"output"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g., ":8080").
	// Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SpeechConfig configures the synthesis service and the audio it returns.
type SpeechConfig struct {
	// Provider selects the registered synthesizer (e.g., "gemini").
	Provider string `yaml:"provider"`

	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the TTS model (e.g., "gemini-2.5-flash-preview-tts").
	Model string `yaml:"model"`

	// Voice is the prebuilt voice name (e.g., "Kore").
	Voice string `yaml:"voice"`

	// SampleRate of the PCM returned by the provider. Default: 24000.
	SampleRate int `yaml:"sample_rate"`

	// Channels of the PCM returned by the provider. Default: 1.
	Channels int `yaml:"channels"`

	// RequestTimeout bounds a single synthesis call. Default: 60s.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Language of the invoice narration text. Default: "ar".
	Language Language `yaml:"language"`

	// Breaker tunes the circuit breaker guarding the provider.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig mirrors resilience.CircuitBreakerConfig in YAML form.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive service failures before the
	// breaker opens. Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// OutputConfig selects the audio output.
type OutputConfig struct {
	// Name selects the registered output (e.g., "speaker", "wav").
	Name string `yaml:"name"`

	// Options holds output-specific values, e.g. "dir" for wav or
	// "device_sample_rate" and "buffer" for speaker.
	Options map[string]any `yaml:"options"`
}
