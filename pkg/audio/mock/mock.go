// Package mock provides an in-memory [audio.Output] for unit tests.
//
// The mock records every Play call and lets the test decide when each stream
// ends. With Hold unset, streams end immediately; with Hold set, they run
// until [Output.Finish], context cancellation, or [Output.Close].
//
//	out := &mock.Output{Hold: true}
//	sched := audio.NewScheduler(out)
//	pb, _ := sched.Schedule(ctx, buf)
//	out.Finish(0)
//	<-pb.Done()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/invoicevox/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Output = (*Output)(nil)

// PlayCall records a single invocation of [Output.Play].
type PlayCall struct {
	// Ctx is the context passed to Play.
	Ctx context.Context
	// Buffer is the sample buffer passed to Play.
	Buffer *audio.SampleBuffer
}

// stream tracks one running playback.
type stream struct {
	finish chan struct{}
	once   sync.Once
}

func (s *stream) end() { s.once.Do(func() { close(s.finish) }) }

// Output is a mock implementation of [audio.Output].
type Output struct {
	mu sync.Mutex

	// Hold keeps streams playing until they are finished explicitly.
	Hold bool

	// PlayErr, if non-nil, is returned by Play and no stream is started.
	PlayErr error

	// CloseErr is returned by Close.
	CloseErr error

	// PlayCalls records every call to Play in order.
	PlayCalls []PlayCall

	// CloseCalls counts calls to Close.
	CloseCalls int

	streams []*stream
}

// Play implements [audio.Output].
func (o *Output) Play(ctx context.Context, buf *audio.SampleBuffer) (<-chan struct{}, error) {
	o.mu.Lock()
	o.PlayCalls = append(o.PlayCalls, PlayCall{Ctx: ctx, Buffer: buf})
	if o.PlayErr != nil {
		err := o.PlayErr
		o.mu.Unlock()
		return nil, err
	}
	st := &stream{finish: make(chan struct{})}
	o.streams = append(o.streams, st)
	hold := o.Hold
	o.mu.Unlock()

	done := make(chan struct{})
	if !hold {
		st.end()
		close(done)
		return done, nil
	}
	go func() {
		defer close(done)
		select {
		case <-st.finish:
		case <-ctx.Done():
		}
	}()
	return done, nil
}

// Finish ends the i-th stream started by Play. Out-of-range indices are
// ignored.
func (o *Output) Finish(i int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i >= 0 && i < len(o.streams) {
		o.streams[i].end()
	}
}

// Close implements [audio.Output]. It ends every stream and returns CloseErr.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CloseCalls++
	for _, st := range o.streams {
		st.end()
	}
	return o.CloseErr
}

// Calls returns a snapshot of the recorded Play calls.
func (o *Output) Calls() []PlayCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]PlayCall, len(o.PlayCalls))
	copy(out, o.PlayCalls)
	return out
}
