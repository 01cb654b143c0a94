package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/invoicevox/pkg/speech"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"speech": {"gemini"},
	"output": {"speaker", "wav"},
}

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultRequestTimeout  = 60 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &cfg.Speech
	if s.Provider == "" {
		s.Provider = "gemini"
	}
	if s.Model == "" {
		s.Model = speech.DefaultModel
	}
	if s.Voice == "" {
		s.Voice = string(speech.DefaultVoice)
	}
	if s.SampleRate == 0 {
		s.SampleRate = speech.DefaultSampleRate
	}
	if s.Channels == 0 {
		s.Channels = speech.DefaultChannels
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}
	if s.Language == "" {
		s.Language = LanguageArabic
	}

	if cfg.Output.Name == "" {
		cfg.Output.Name = "speaker"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Speech
	s := cfg.Speech
	validateProviderName("speech", s.Provider)
	if s.Voice != "" && !speech.Voice(s.Voice).IsValid() {
		errs = append(errs, fmt.Errorf("speech.voice %q is not a known prebuilt voice", s.Voice))
	}
	if s.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("speech.sample_rate %d must be positive", s.SampleRate))
	}
	if s.Channels < 0 {
		errs = append(errs, fmt.Errorf("speech.channels %d must be positive", s.Channels))
	}
	if s.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("speech.request_timeout %s must not be negative", s.RequestTimeout))
	}
	if s.Language != "" && !s.Language.IsValid() {
		errs = append(errs, fmt.Errorf("speech.language %q is invalid; valid values: ar, en", s.Language))
	}
	if s.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("speech.breaker.max_failures %d must not be negative", s.Breaker.MaxFailures))
	}
	if s.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("speech.breaker.reset_timeout %s must not be negative", s.Breaker.ResetTimeout))
	}
	if s.Provider == "gemini" && s.APIKey == "" {
		slog.Warn("speech.api_key is empty; requests to gemini will be rejected")
	}

	// Output
	validateProviderName("output", cfg.Output.Name)
	if cfg.Output.Name == "wav" && OptString(cfg.Output.Options, "dir") == "" {
		errs = append(errs, errors.New("output.options.dir is required when output.name is wav"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, possibly a typo",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// OptString extracts a string value from an Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptInt extracts an integer value from an Options map. YAML numbers decode
// as int; float values are truncated. Returns 0 when absent.
func OptInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// OptDuration extracts a duration from an Options map. String values are
// parsed with [time.ParseDuration]; integers are read as milliseconds.
// Returns 0 when absent or unparsable.
func OptDuration(opts map[string]any, key string) time.Duration {
	switch v := opts[key].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0
		}
		return d
	case int:
		return time.Duration(v) * time.Millisecond
	}
	return 0
}

// OptBool extracts a boolean from an Options map, returning def when absent.
func OptBool(opts map[string]any, key string, def bool) bool {
	if b, ok := opts[key].(bool); ok {
		return b
	}
	return def
}
