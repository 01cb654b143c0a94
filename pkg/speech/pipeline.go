package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/invoicevox/pkg/audio"
)

// Option is a functional option for configuring a [Pipeline].
type Option func(*Pipeline)

// WithObserver registers fn to receive every state transition.
func WithObserver(fn Observer) Option {
	return func(p *Pipeline) { p.observer = fn }
}

// Pipeline runs text through synthesis, decoding, conversion and assembly and
// schedules the result for playback.
//
// A Pipeline holds no per-request state; any number of requests may run
// concurrently and complete in any order. It is safe for concurrent use.
type Pipeline struct {
	synth    Synthesizer
	sched    *audio.Scheduler
	observer Observer
	cfg      atomic.Pointer[Config]

	warnedTrailing sync.Once
}

// New returns a Pipeline. Empty cfg fields are filled with defaults; the
// result must pass [Config.Validate].
func New(synth Synthesizer, sched *audio.Scheduler, cfg Config, opts ...Option) (*Pipeline, error) {
	if synth == nil {
		return nil, errors.New("speech: synthesizer must not be nil")
	}
	if sched == nil {
		return nil, errors.New("speech: scheduler must not be nil")
	}
	p := &Pipeline{synth: synth, sched: sched}
	if err := p.SetConfig(cfg); err != nil {
		return nil, err
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Config returns the configuration used for new requests.
func (p *Pipeline) Config() Config {
	return *p.cfg.Load()
}

// SetConfig replaces the configuration for requests started afterwards.
// Requests already in flight keep the configuration they started with.
func (p *Pipeline) SetConfig(cfg Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.cfg.Store(&cfg)
	return nil
}

// Synthesize requests speech for text and returns the assembled buffer
// without playing it.
//
// On success the last event emitted is StateAssembling; the request is not
// over yet. Pass the buffer to [Pipeline.Play] with a context carrying the
// same request ID (see [WithRequestID]) and Play emits StateScheduled and the
// terminal event under that ID. On failure Synthesize emits the terminal
// event itself.
func (p *Pipeline) Synthesize(ctx context.Context, text string) (*audio.SampleBuffer, error) {
	ctx, id := ensureRequestID(ctx)
	return p.synthesize(ctx, id, text)
}

// Play schedules buf on the output and returns once playback has started.
// It emits StateScheduled and later StateFinished or StateCancelled, or
// StateFailed if the output rejects buf.
func (p *Pipeline) Play(ctx context.Context, buf *audio.SampleBuffer) (*audio.Playback, error) {
	ctx, id := ensureRequestID(ctx)
	return p.play(ctx, id, buf)
}

// SynthesizeAndPlay is [Pipeline.Synthesize] followed by [Pipeline.Play]
// under one request ID. It returns once playback has been scheduled.
//
// Cancelling ctx aborts the request and stops the playback, so callers that
// return before the audio ends should pass a context that outlives them.
func (p *Pipeline) SynthesizeAndPlay(ctx context.Context, text string) (*audio.Playback, error) {
	ctx, id := ensureRequestID(ctx)
	buf, err := p.synthesize(ctx, id, text)
	if err != nil {
		return nil, err
	}
	return p.play(ctx, id, buf)
}

func (p *Pipeline) synthesize(ctx context.Context, id, text string) (*audio.SampleBuffer, error) {
	cfg := p.Config()
	p.emit(ctx, Event{RequestID: id, State: StateIdle})

	if strings.TrimSpace(text) == "" {
		return nil, p.fail(ctx, id, ErrEmptyText)
	}

	p.emit(ctx, Event{RequestID: id, State: StateRequesting})
	payload, err := p.synth.Synthesize(ctx, NewRequest(text, cfg))
	if err != nil {
		return nil, p.fail(ctx, id, err)
	}

	p.emit(ctx, Event{RequestID: id, State: StateDecoding})
	raw, err := DecodePayload(payload)
	if err != nil {
		return nil, p.fail(ctx, id, err)
	}

	p.emit(ctx, Event{RequestID: id, State: StateConverting})
	if n := audio.TrailingBytes(len(raw), cfg.Channels); n > 0 {
		p.warnedTrailing.Do(func() {
			slog.Warn("speech: payload does not end on a frame boundary, dropping trailing bytes",
				"bytes", len(raw),
				"dropped", n,
				"channels", cfg.Channels,
			)
		})
	}
	channels := audio.DecodePCM16(raw, cfg.Channels)

	p.emit(ctx, Event{RequestID: id, State: StateAssembling})
	return audio.NewSampleBuffer(channels, cfg.SampleRate), nil
}

func (p *Pipeline) play(ctx context.Context, id string, buf *audio.SampleBuffer) (*audio.Playback, error) {
	pb, err := p.sched.Schedule(ctx, buf)
	if err != nil {
		if errors.Is(err, audio.ErrSchedulerClosed) {
			err = fmt.Errorf("%w: %w", ErrClosed, err)
		}
		return nil, p.fail(ctx, id, err)
	}
	p.emit(ctx, Event{
		RequestID:  id,
		State:      StateScheduled,
		PlaybackID: pb.ID(),
		Duration:   pb.Duration(),
	})

	if p.observer != nil || requestObserver(ctx) != nil {
		go func() {
			<-pb.Done()
			ev := Event{RequestID: id, State: StateFinished, PlaybackID: pb.ID(), Duration: pb.Duration()}
			if err := pb.Err(); err != nil {
				ev.State = StateCancelled
				ev.Err = err
			}
			p.emit(ctx, ev)
		}()
	}
	return pb, nil
}

// fail emits the terminal event for err and returns err unchanged.
func (p *Pipeline) fail(ctx context.Context, id string, err error) error {
	state := StateFailed
	if errors.Is(err, context.Canceled) {
		state = StateCancelled
	}
	p.emit(ctx, Event{RequestID: id, State: state, Err: err})
	return err
}

// emit delivers ev to the pipeline observer and then to the observer
// attached to ctx, if any.
func (p *Pipeline) emit(ctx context.Context, ev Event) {
	reqObs := requestObserver(ctx)
	if p.observer == nil && reqObs == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if p.observer != nil {
		p.observer(ev)
	}
	if reqObs != nil {
		reqObs(ev)
	}
}
