// Package speaker plays sample buffers on the local sound device using
// gopxl/beep. It implements [audio.Output].
//
// The beep speaker is a process-wide singleton, so only one [Output] should
// exist at a time. Buffers whose sample rate differs from the device rate are
// resampled before playback; concurrent buffers are mixed by beep.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gopxl/beep"
	bspeaker "github.com/gopxl/beep/speaker"

	"github.com/MrWong99/invoicevox/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Output = (*Output)(nil)

const (
	defaultSampleRate = 24000
	defaultBuffer     = 100 * time.Millisecond
)

// ErrClosed is returned by Play after Close.
var ErrClosed = errors.New("speaker: output closed")

// Option is a functional option for configuring an [Output].
type Option func(*Output)

// WithSampleRate sets the device sample rate. Default: 24000 Hz.
func WithSampleRate(rate int) Option {
	return func(o *Output) {
		if rate > 0 {
			o.rate = beep.SampleRate(rate)
		}
	}
}

// WithBuffer sets the device buffer length. Shorter buffers react faster to
// cancellation but are more prone to underruns. Default: 100ms.
func WithBuffer(d time.Duration) Option {
	return func(o *Output) {
		if d > 0 {
			o.buffer = d
		}
	}
}

// Output implements [audio.Output] on top of the beep speaker.
type Output struct {
	rate   beep.SampleRate
	buffer time.Duration

	mu      sync.Mutex
	streams map[*stream]struct{}
	closed  bool
}

// New initialises the sound device and returns an Output bound to it.
func New(opts ...Option) (*Output, error) {
	o := &Output{
		rate:    defaultSampleRate,
		buffer:  defaultBuffer,
		streams: make(map[*stream]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := bspeaker.Init(o.rate, o.rate.N(o.buffer)); err != nil {
		return nil, fmt.Errorf("speaker: init %dHz: %w", int(o.rate), err)
	}
	slog.Info("speaker initialised", "sample_rate", int(o.rate), "buffer", o.buffer)
	return o, nil
}

// SampleRate returns the device sample rate in Hz.
func (o *Output) SampleRate() int { return int(o.rate) }

// Play implements [audio.Output].
func (o *Output) Play(ctx context.Context, buf *audio.SampleBuffer) (<-chan struct{}, error) {
	if buf.NumChannels() > 2 {
		buf = audio.Downmix(buf)
	}
	buf = audio.Resample(buf, int(o.rate))
	st := &stream{
		ctx:   ctx,
		buf:   buf,
		frame: make([]float32, buf.NumChannels()),
		done:  make(chan struct{}),
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	o.streams[st] = struct{}{}
	o.mu.Unlock()

	bspeaker.Play(beep.Seq(st, beep.Callback(func() {
		o.finish(st)
	})))
	return st.done, nil
}

// finish marks st as ended. It runs on the speaker goroutine with the
// speaker lock held, so it must not call back into the speaker package.
func (o *Output) finish(st *stream) {
	o.mu.Lock()
	delete(o.streams, st)
	o.mu.Unlock()
	st.end()
}

// Close stops all streams and releases the sound device.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	playing := make([]*stream, 0, len(o.streams))
	for st := range o.streams {
		playing = append(playing, st)
	}
	o.streams = nil
	o.mu.Unlock()

	bspeaker.Clear()
	for _, st := range playing {
		st.end()
	}
	bspeaker.Close()
	return nil
}

// stream adapts a [audio.SampleBuffer] to [beep.Streamer]. Mono buffers are
// duplicated to both speaker channels. Play downmixes anything wider than
// stereo before it gets here.
type stream struct {
	ctx   context.Context
	buf   *audio.SampleBuffer
	pos   int
	frame []float32

	done chan struct{}
	once sync.Once
}

func (s *stream) end() { s.once.Do(func() { close(s.done) }) }

// Stream implements [beep.Streamer].
func (s *stream) Stream(samples [][2]float64) (n int, ok bool) {
	frames := s.buf.FramesPerChannel()
	if s.pos >= frames || s.ctx.Err() != nil {
		return 0, false
	}
	for n < len(samples) && s.pos < frames {
		f := s.buf.Frame(s.pos, s.frame)
		left := float64(f[0])
		right := left
		if len(f) > 1 {
			right = float64(f[1])
		}
		samples[n][0] = left
		samples[n][1] = right
		n++
		s.pos++
	}
	return n, true
}

// Err implements [beep.Streamer].
func (s *stream) Err() error { return nil }
