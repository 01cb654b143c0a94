// Package speech turns text into scheduled audio.
//
// A [Pipeline] sends text to a [Synthesizer] (a remote TTS service), decodes
// the base64 payload it returns with [DecodePayload], converts the signed
// 16-bit PCM to float samples, assembles an [audio.SampleBuffer] and hands
// it to an [audio.Scheduler]. Each request walks the states
// Idle → Requesting → Decoding → Converting → Assembling → Scheduled, or ends
// in Failed; nothing is retried.
//
// All audio parameters come from one [Config] value passed to the pipeline.
package speech

import (
	"context"
	"fmt"
	"slices"
)

// Voice is a prebuilt voice name understood by the synthesis service.
type Voice string

// Prebuilt voices offered by the Gemini TTS models.
const (
	VoiceZephyr        Voice = "Zephyr"
	VoicePuck          Voice = "Puck"
	VoiceCharon        Voice = "Charon"
	VoiceKore          Voice = "Kore"
	VoiceFenrir        Voice = "Fenrir"
	VoiceLeda          Voice = "Leda"
	VoiceOrus          Voice = "Orus"
	VoiceAoede         Voice = "Aoede"
	VoiceCallirrhoe    Voice = "Callirrhoe"
	VoiceAutonoe       Voice = "Autonoe"
	VoiceEnceladus     Voice = "Enceladus"
	VoiceIapetus       Voice = "Iapetus"
	VoiceUmbriel       Voice = "Umbriel"
	VoiceAlgieba       Voice = "Algieba"
	VoiceDespina       Voice = "Despina"
	VoiceErinome       Voice = "Erinome"
	VoiceAlgenib       Voice = "Algenib"
	VoiceRasalgethi    Voice = "Rasalgethi"
	VoiceLaomedeia     Voice = "Laomedeia"
	VoiceAchernar      Voice = "Achernar"
	VoiceAlnilam       Voice = "Alnilam"
	VoiceSchedar       Voice = "Schedar"
	VoiceGacrux        Voice = "Gacrux"
	VoicePulcherrima   Voice = "Pulcherrima"
	VoiceAchird        Voice = "Achird"
	VoiceZubenelgenubi Voice = "Zubenelgenubi"
	VoiceVindemiatrix  Voice = "Vindemiatrix"
	VoiceSadachbia     Voice = "Sadachbia"
	VoiceSadaltager    Voice = "Sadaltager"
	VoiceSulafat       Voice = "Sulafat"
)

// Voices lists every known prebuilt voice.
var Voices = []Voice{
	VoiceZephyr, VoicePuck, VoiceCharon, VoiceKore, VoiceFenrir, VoiceLeda,
	VoiceOrus, VoiceAoede, VoiceCallirrhoe, VoiceAutonoe, VoiceEnceladus,
	VoiceIapetus, VoiceUmbriel, VoiceAlgieba, VoiceDespina, VoiceErinome,
	VoiceAlgenib, VoiceRasalgethi, VoiceLaomedeia, VoiceAchernar, VoiceAlnilam,
	VoiceSchedar, VoiceGacrux, VoicePulcherrima, VoiceAchird,
	VoiceZubenelgenubi, VoiceVindemiatrix, VoiceSadachbia, VoiceSadaltager,
	VoiceSulafat,
}

// IsValid reports whether v is a known prebuilt voice.
func (v Voice) IsValid() bool {
	return slices.Contains(Voices, v)
}

// Defaults used when a [Config] field is left empty.
const (
	DefaultModel      = "gemini-2.5-flash-preview-tts"
	DefaultVoice      = VoiceKore
	DefaultSampleRate = 24000
	DefaultChannels   = 1
)

// Config is the single source of the pipeline's voice and audio parameters.
type Config struct {
	// Model is the synthesis model identifier.
	Model string

	// Voice is the prebuilt voice to speak with.
	Voice Voice

	// SampleRate is the rate of the PCM returned by the service, in Hz.
	SampleRate int

	// Channels is the number of interleaved channels in the returned PCM.
	Channels int
}

// DefaultConfig returns the configuration of the Gemini TTS preview model:
// voice Kore, 24 kHz mono.
func DefaultConfig() Config {
	return Config{
		Model:      DefaultModel,
		Voice:      DefaultVoice,
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
	}
}

// WithDefaults returns c with empty fields filled from [DefaultConfig].
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Voice == "" {
		c.Voice = d.Voice
	}
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.Channels == 0 {
		c.Channels = d.Channels
	}
	return c
}

// Validate checks that every field is usable.
func (c Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("speech: model must not be empty")
	}
	if !c.Voice.IsValid() {
		return fmt.Errorf("speech: unknown voice %q", c.Voice)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("speech: sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("speech: channel count must be positive, got %d", c.Channels)
	}
	return nil
}

// SynthesisRequest is everything a [Synthesizer] needs for one call. It is
// built per request from the pipeline's [Config].
type SynthesisRequest struct {
	Text       string
	Voice      Voice
	Model      string
	SampleRate int
	Channels   int
}

// NewRequest builds a request for text from cfg.
func NewRequest(text string, cfg Config) SynthesisRequest {
	return SynthesisRequest{
		Text:       text,
		Voice:      cfg.Voice,
		Model:      cfg.Model,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
	}
}

// Synthesizer is a remote text-to-speech service.
//
// Implementations must be safe for concurrent use.
type Synthesizer interface {
	// Synthesize performs one request and returns the base64-encoded s16le
	// PCM payload embedded in the response.
	//
	// It fails with *MissingAudioDataError when the response is well formed
	// but carries no audio, and with *SynthesisServiceError for transport or
	// service failures.
	Synthesize(ctx context.Context, req SynthesisRequest) (string, error)
}
