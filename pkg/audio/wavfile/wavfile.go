// Package wavfile implements [audio.Output] by writing every playback to a
// WAV file in a directory. It stands in for a sound device on headless hosts
// and lets recorded speech be inspected afterwards.
//
// Playback is simulated in real time by default: the done channel closes
// after the buffer's duration has elapsed. [WithRealtime](false) closes it
// as soon as the file is written.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/invoicevox/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Output = (*Output)(nil)

const (
	bitDepth  = 16
	pcmFormat = 1
)

// ErrClosed is returned by Play after Close.
var ErrClosed = errors.New("wavfile: output closed")

// Option is a functional option for configuring an [Output].
type Option func(*Output)

// WithRealtime controls whether Play holds the stream open for the buffer's
// duration. Default: true.
func WithRealtime(on bool) Option {
	return func(o *Output) { o.realtime = on }
}

// WithPrefix sets the file name prefix. Default: "speech".
func WithPrefix(prefix string) Option {
	return func(o *Output) { o.prefix = prefix }
}

// Output writes each played buffer to <dir>/<prefix>-<seq>.wav.
type Output struct {
	dir      string
	prefix   string
	realtime bool
	seq      atomic.Uint64

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
	files  []string
}

// New creates dir if needed and returns an Output writing into it.
func New(dir string, opts ...Option) (*Output, error) {
	if dir == "" {
		return nil, errors.New("wavfile: dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wavfile: create dir %q: %w", dir, err)
	}
	o := &Output{
		dir:      dir,
		prefix:   "speech",
		realtime: true,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Play implements [audio.Output].
func (o *Output) Play(ctx context.Context, buf *audio.SampleBuffer) (<-chan struct{}, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	o.mu.Unlock()

	name := filepath.Join(o.dir, fmt.Sprintf("%s-%06d.wav", o.prefix, o.seq.Add(1)))
	if err := writeFile(name, buf); err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.files = append(o.files, name)
	o.mu.Unlock()

	done := make(chan struct{})
	if !o.realtime {
		close(done)
		return done, nil
	}
	go func() {
		defer close(done)
		t := time.NewTimer(buf.Duration())
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		case <-o.stop:
		}
	}()
	return done, nil
}

// Files returns the paths written so far, in order.
func (o *Output) Files() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.files))
	copy(out, o.files)
	return out
}

// Close ends all simulated streams. It is idempotent.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	close(o.stop)
	return nil
}

// writeFile encodes buf as a 16-bit PCM WAV file at path.
func writeFile(path string, buf *audio.SampleBuffer) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wavfile: create %q: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("wavfile: close %q: %w", path, cerr)
		}
	}()

	channels := buf.NumChannels()
	enc := wav.NewEncoder(f, buf.SampleRate(), bitDepth, channels, pcmFormat)
	if err := enc.Write(toIntBuffer(buf)); err != nil {
		return fmt.Errorf("wavfile: encode %q: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wavfile: finalise %q: %w", path, err)
	}
	return nil
}

// toIntBuffer interleaves buf into a go-audio integer buffer.
func toIntBuffer(buf *audio.SampleBuffer) *goaudio.IntBuffer {
	channels := buf.NumChannels()
	frames := buf.FramesPerChannel()
	data := make([]int, 0, frames*channels)
	frame := make([]float32, channels)
	for i := range frames {
		for _, s := range buf.Frame(i, frame) {
			data = append(data, int(audio.Int16(s)))
		}
	}
	return &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: channels,
			SampleRate:  buf.SampleRate(),
		},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
}
