package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/invoicevox/pkg/speech"
)

// Compile-time assertion that Synthesizer satisfies speech.Synthesizer.
var _ speech.Synthesizer = (*Synthesizer)(nil)

// Synthesizer guards a [speech.Synthesizer] with a [CircuitBreaker].
//
// Only a [*speech.SynthesisServiceError] that was not caused by cancellation
// counts as a failure; missing audio does not move the breaker. While the
// breaker is open, calls fail with a *SynthesisServiceError wrapping
// [ErrCircuitOpen].
type Synthesizer struct {
	inner    speech.Synthesizer
	provider string
	cb       *CircuitBreaker
}

// NewSynthesizer wraps inner. provider names the service in errors and logs.
// cfg.IsFailure is replaced with the classification described on
// [Synthesizer]; cfg.Name defaults to provider.
func NewSynthesizer(inner speech.Synthesizer, provider string, cfg CircuitBreakerConfig) *Synthesizer {
	if cfg.Name == "" {
		cfg.Name = provider
	}
	cfg.IsFailure = IsServiceFailure
	return &Synthesizer{
		inner:    inner,
		provider: provider,
		cb:       NewCircuitBreaker(cfg),
	}
}

// IsServiceFailure reports whether err is a synthesis service failure that
// was not caused by the caller cancelling the request.
func IsServiceFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *speech.SynthesisServiceError
	return errors.As(err, &se)
}

// Synthesize implements [speech.Synthesizer].
func (s *Synthesizer) Synthesize(ctx context.Context, req speech.SynthesisRequest) (string, error) {
	var payload string
	err := s.cb.Execute(func() error {
		var err error
		payload, err = s.inner.Synthesize(ctx, req)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return "", &speech.SynthesisServiceError{Provider: s.provider, Cause: ErrCircuitOpen}
	}
	return payload, err
}

// Breaker returns the underlying breaker for health checks.
func (s *Synthesizer) Breaker() *CircuitBreaker { return s.cb }
