package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSchedulerClosed is returned by [Scheduler.Schedule] after
// [Scheduler.Close] has been called.
var ErrSchedulerClosed = errors.New("audio: scheduler closed")

// Playback is the handle for one scheduled buffer. It is returned as soon as
// playback has started; use [Playback.Done] or [Playback.Wait] to observe the
// end and [Playback.Cancel] to stop it early.
type Playback struct {
	id       string
	format   Format
	duration time.Duration
	started  time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// ID returns the unique identifier of this playback.
func (p *Playback) ID() string { return p.id }

// Format returns the format of the buffer being played.
func (p *Playback) Format() Format { return p.format }

// Duration returns the length of the scheduled audio.
func (p *Playback) Duration() time.Duration { return p.duration }

// Started returns the time playback was scheduled.
func (p *Playback) Started() time.Time { return p.started }

// Done returns a channel that is closed when playback has finished, was
// cancelled, or the scheduler was closed.
func (p *Playback) Done() <-chan struct{} { return p.done }

// Cancel stops playback. It is safe to call more than once and after the
// playback has finished.
func (p *Playback) Cancel() { p.cancel() }

// Err returns nil if the buffer played to the end, or the context error that
// stopped it. It is only meaningful after Done is closed.
func (p *Playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Wait blocks until playback ends or ctx is cancelled. It returns
// [Playback.Err] in the first case and ctx.Err() in the second; waiting does
// not cancel the playback.
func (p *Playback) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SchedulerOption configures a [Scheduler].
type SchedulerOption func(*Scheduler)

// WithFinishHook registers fn to be called, on an internal goroutine, after
// each playback ends. fn must not block.
func WithFinishHook(fn func(*Playback)) SchedulerOption {
	return func(s *Scheduler) { s.onFinish = fn }
}

// Scheduler binds sample buffers to a single shared [Output].
//
// The output is the process-wide playback context: it is acquired once by
// the caller, handed to the scheduler, and released by [Scheduler.Close].
// Concurrent Schedule calls play independently and in no particular order.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	out      Output
	onFinish func(*Playback)

	mu     sync.Mutex
	active map[string]*Playback
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// NewScheduler returns a Scheduler that plays through out. The scheduler
// takes ownership of out and closes it in [Scheduler.Close].
func NewScheduler(out Output, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		out:    out,
		active: make(map[string]*Playback),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule starts buf on the output at offset zero and returns once the
// output has accepted it. It does not wait for playback to finish.
//
// Cancelling ctx stops the playback. Callers whose request context ends
// before the audio does should pass a detached context (see
// [context.WithoutCancel]) and keep the [Playback] handle instead.
func (s *Scheduler) Schedule(ctx context.Context, buf *SampleBuffer) (*Playback, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSchedulerClosed
	}
	pctx, cancel := context.WithCancel(ctx)
	p := &Playback{
		id:       uuid.NewString(),
		format:   buf.Format(),
		duration: buf.Duration(),
		started:  time.Now(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.active[p.id] = p
	s.mu.Unlock()

	outDone, err := s.out.Play(pctx, buf)
	if err != nil {
		cancel()
		s.remove(p.id)
		return nil, fmt.Errorf("audio: start playback: %w", err)
	}

	slog.Debug("playback scheduled",
		"playback_id", p.id,
		"format", p.format.String(),
		"duration", p.duration,
	)

	go s.await(pctx, p, outDone)
	return p, nil
}

// await waits for the output to finish p and releases its bookkeeping.
func (s *Scheduler) await(pctx context.Context, p *Playback, outDone <-chan struct{}) {
	<-outDone

	p.mu.Lock()
	p.err = pctx.Err()
	p.mu.Unlock()

	p.cancel()
	s.remove(p.id)
	close(p.done)

	if s.onFinish != nil {
		s.onFinish(p)
	}
}

func (s *Scheduler) remove(id string) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// Active returns the number of playbacks that have not finished yet.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Closed reports whether [Scheduler.Close] has been called.
func (s *Scheduler) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close cancels every active playback and releases the output. Subsequent
// calls return the result of the first.
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		playing := make([]*Playback, 0, len(s.active))
		for _, p := range s.active {
			playing = append(playing, p)
		}
		s.mu.Unlock()

		for _, p := range playing {
			p.Cancel()
		}
		s.closeErr = s.out.Close()
	})
	return s.closeErr
}
