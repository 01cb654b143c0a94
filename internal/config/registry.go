package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/invoicevox/pkg/audio"
	"github.com/MrWong99/invoicevox/pkg/speech"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for
// synthesizers and audio outputs. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	speech  map[string]func(SpeechConfig) (speech.Synthesizer, error)
	outputs map[string]func(OutputConfig) (audio.Output, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		speech:  make(map[string]func(SpeechConfig) (speech.Synthesizer, error)),
		outputs: make(map[string]func(OutputConfig) (audio.Output, error)),
	}
}

// RegisterSpeech registers a synthesizer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSpeech(name string, factory func(SpeechConfig) (speech.Synthesizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speech[name] = factory
}

// RegisterOutput registers an audio output factory under name.
func (r *Registry) RegisterOutput(name string, factory func(OutputConfig) (audio.Output, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[name] = factory
}

// CreateSpeech instantiates the synthesizer named by cfg.Provider.
func (r *Registry) CreateSpeech(cfg SpeechConfig) (speech.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.speech[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: speech provider %q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateOutput instantiates the audio output named by cfg.Name.
func (r *Registry) CreateOutput(cfg OutputConfig) (audio.Output, error) {
	r.mu.RLock()
	factory, ok := r.outputs[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: output %q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// Names returns the sorted registered names for kind ("speech" or "output").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "speech":
		for n := range r.speech {
			names = append(names, n)
		}
	case "output":
		for n := range r.outputs {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}
