// Package mock provides a test double for the speech.Synthesizer interface.
//
// Example:
//
//	s := &mock.Synthesizer{Payload: base64.StdEncoding.EncodeToString(pcm)}
//	p, _ := speech.New(s, sched, speech.DefaultConfig())
//	pb, err := p.SynthesizeAndPlay(ctx, "hello")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/invoicevox/pkg/speech"
)

// Compile-time interface assertion.
var _ speech.Synthesizer = (*Synthesizer)(nil)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Request is the request passed to Synthesize.
	Request speech.SynthesisRequest
}

// Synthesizer is a mock implementation of speech.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Payload is the base64 payload returned when Err is nil.
	Payload string

	// Err, if non-nil, is returned instead of Payload.
	Err error

	// Func, if set, overrides Payload and Err and is called for every request.
	Func func(ctx context.Context, req speech.SynthesisRequest) (string, error)

	// Calls records every call to Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Func's result, or Payload, Err.
func (s *Synthesizer) Synthesize(ctx context.Context, req speech.SynthesisRequest) (string, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, SynthesizeCall{Ctx: ctx, Request: req})
	fn, payload, err := s.Func, s.Payload, s.Err
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return payload, err
}

// CallCount returns the number of recorded calls.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Reset clears all recorded calls.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = nil
}
