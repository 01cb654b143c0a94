// Package engine drives read-aloud requests for invoicevox.
//
// A [Reader] owns the speech pipeline and enforces that at most one request
// per key is audible: starting a new request for a key cancels the one
// before it, whether it is still being synthesized or already playing.
// Requests under different keys run concurrently and their audio overlaps.
//
// The Reader also turns pipeline state transitions into metrics and
// publishes them, tagged with their key, on a [Broadcaster].
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/invoicevox/internal/config"
	"github.com/MrWong99/invoicevox/internal/narration"
	"github.com/MrWong99/invoicevox/internal/observe"
	"github.com/MrWong99/invoicevox/internal/resilience"
	"github.com/MrWong99/invoicevox/pkg/audio"
	"github.com/MrWong99/invoicevox/pkg/speech"
)

// Keys used by [Reader.ReadInvoice] and [Reader.ReadSummary].
const (
	SummaryKey       = "summary"
	invoiceKeyPrefix = "invoice:"
)

// InvoiceKey returns the supersede key for the invoice with the given ID.
func InvoiceKey(id string) string { return invoiceKeyPrefix + id }

// Option configures a [Reader].
type Option func(*Reader)

// WithMetrics records instruments on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Reader) { r.metrics = m }
}

// WithProvider sets the provider name used as a metric attribute.
func WithProvider(name string) Option {
	return func(r *Reader) { r.provider = name }
}

// WithLanguage sets the narration language. Default: Arabic.
func WithLanguage(lang config.Language) Option {
	return func(r *Reader) { r.lang.Store(lang) }
}

// WithBroadcaster publishes events on b instead of a private broadcaster.
func WithBroadcaster(b *Broadcaster) Option {
	return func(r *Reader) { r.events = b }
}

// job is one in-flight read-aloud request.
type job struct {
	key    string
	cancel context.CancelFunc
}

// tracker remembers the timing of one request between its state
// transitions. The pipeline delivers one request's events in order, so a
// tracker is never touched concurrently.
type tracker struct {
	key          string
	requestingAt time.Time
	decodingAt   time.Time
	scheduled    bool
}

// Reader runs read-aloud requests. It is safe for concurrent use.
type Reader struct {
	pipe     *speech.Pipeline
	metrics  *observe.Metrics
	provider string
	lang     atomic.Value // config.Language
	events   *Broadcaster

	mu     sync.Mutex
	jobs   map[*job]struct{}
	byKey  map[string]*job
	closed bool
	wg     sync.WaitGroup
}

// New builds a Reader whose pipeline synthesizes with synth and plays
// through sched. The Reader does not own sched; closing the scheduler stays
// the caller's job.
func New(synth speech.Synthesizer, sched *audio.Scheduler, cfg speech.Config, opts ...Option) (*Reader, error) {
	r := &Reader{
		provider: "gemini",
		jobs:     make(map[*job]struct{}),
		byKey:    make(map[string]*job),
	}
	r.lang.Store(config.LanguageArabic)
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	if r.events == nil {
		r.events = NewBroadcaster()
	}

	pipe, err := speech.New(synth, sched, cfg)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	r.pipe = pipe
	return r, nil
}

// Events returns the broadcaster carrying this Reader's state transitions.
func (r *Reader) Events() *Broadcaster { return r.events }

// Language returns the current narration language.
func (r *Reader) Language() config.Language {
	return r.lang.Load().(config.Language)
}

// SetLanguage changes the narration language for requests started later.
func (r *Reader) SetLanguage(lang config.Language) {
	r.lang.Store(lang)
}

// SpeechConfig returns the speech configuration for new requests.
func (r *Reader) SpeechConfig() speech.Config { return r.pipe.Config() }

// SetSpeechConfig changes voice, model or format for requests started later.
func (r *Reader) SetSpeechConfig(cfg speech.Config) error {
	return r.pipe.SetConfig(cfg)
}

// ReadAloud synthesizes text and starts playing it. It returns once playback
// has started; the returned [audio.Playback] reports when it ends.
//
// A non-empty key makes the request supersede any earlier request with the
// same key. Cancelling ctx aborts the request while it is being synthesized,
// but the playback, once started, outlives ctx and is only stopped through
// its handle, a superseding request or [Reader.Close].
func (r *Reader) ReadAloud(ctx context.Context, key, text string) (*audio.Playback, error) {
	if speech.RequestID(ctx) == "" {
		ctx = speech.WithRequestID(ctx, uuid.NewString())
	}

	ctx, span := observe.StartSpan(ctx, "engine.ReadAloud")
	defer span.End()
	span.SetAttributes(
		attribute.String("invoicevox.key", key),
		attribute.Int("invoicevox.text_length", len(text)),
	)
	log := observe.Logger(ctx)

	jctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := &job{key: key, cancel: cancel}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return nil, speech.ErrClosed
	}
	if prev := r.byKey[key]; key != "" && prev != nil {
		prev.cancel()
		log.Debug("superseding earlier request", "key", key)
	}
	r.jobs[j] = struct{}{}
	if key != "" {
		r.byKey[key] = j
	}
	r.mu.Unlock()

	t := &tracker{key: key}
	jctx = speech.WithRequestObserver(jctx, func(ev speech.Event) { r.observe(t, ev) })

	stop := context.AfterFunc(ctx, cancel)
	pb, err := r.pipe.SynthesizeAndPlay(jctx, text)
	stop()
	if err != nil {
		r.release(j)
		if !errors.Is(err, context.Canceled) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Warn("read-aloud failed", "key", key, "err", err)
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.String("invoicevox.playback_id", pb.ID()),
		attribute.Float64("invoicevox.audio_seconds", pb.Duration().Seconds()),
	)
	log.Info("read-aloud started",
		"key", key,
		"playback_id", pb.ID(),
		"duration", pb.Duration(),
	)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		<-pb.Done()
		r.release(j)
	}()
	return pb, nil
}

// ReadInvoice reads inv aloud under the key [InvoiceKey](inv.ID).
func (r *Reader) ReadInvoice(ctx context.Context, inv narration.Invoice) (*audio.Playback, error) {
	return r.ReadAloud(ctx, InvoiceKey(inv.ID), narration.InvoiceText(r.Language(), inv))
}

// ReadSummary reads the dashboard summary of invoices aloud under
// [SummaryKey].
func (r *Reader) ReadSummary(ctx context.Context, invoices []narration.Invoice) (*audio.Playback, error) {
	st := narration.ComputeStats(invoices)
	return r.ReadAloud(ctx, SummaryKey, narration.SummaryText(r.Language(), st))
}

// Stop cancels the request registered under key, whether it is still being
// synthesized or already playing. It reports whether there was one.
func (r *Reader) Stop(key string) bool {
	if key == "" {
		return false
	}
	r.mu.Lock()
	j := r.byKey[key]
	r.mu.Unlock()
	if j == nil {
		return false
	}
	j.cancel()
	return true
}

// Active returns the number of requests that are being synthesized or are
// still playing.
func (r *Reader) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Close cancels every request and waits for their bookkeeping to finish.
// Later calls to ReadAloud fail with [speech.ErrClosed].
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for j := range r.jobs {
		j.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.events.Close()
	return nil
}

// release forgets j and frees its context.
func (r *Reader) release(j *job) {
	j.cancel()
	r.mu.Lock()
	delete(r.jobs, j)
	if j.key != "" && r.byKey[j.key] == j {
		delete(r.byKey, j.key)
	}
	r.mu.Unlock()
}

// observe records metrics for one transition of the request tracked by t and
// publishes it under t's key. The request ID on ev may come from a client and
// is never used to find t.
func (r *Reader) observe(t *tracker, ev speech.Event) {
	ctx := context.Background()

	switch ev.State {
	case speech.StateRequesting:
		t.requestingAt = ev.Time
	case speech.StateDecoding:
		t.decodingAt = ev.Time
		r.metrics.TTSDuration.Record(ctx, ev.Time.Sub(t.requestingAt).Seconds())
		r.metrics.RecordProviderRequest(ctx, r.provider, "ok")
	case speech.StateScheduled:
		t.scheduled = true
		r.metrics.DecodeDuration.Record(ctx, ev.Time.Sub(t.decodingAt).Seconds())
		r.metrics.AudioSeconds.Add(ctx, ev.Duration.Seconds())
		r.metrics.ActivePlaybacks.Add(ctx, 1)
	case speech.StateFinished, speech.StateCancelled, speech.StateFailed:
		r.finish(ctx, t, ev)
	}

	r.events.Publish(Event{Event: ev, Key: t.key})
}

// finish records the terminal metrics for a request.
func (r *Reader) finish(ctx context.Context, t *tracker, ev speech.Event) {
	if t.scheduled {
		r.metrics.ActivePlaybacks.Add(ctx, -1)
		outcome := "finished"
		if ev.State != speech.StateFinished {
			outcome = "cancelled"
		}
		r.metrics.RecordPlayback(ctx, outcome)
		return
	}
	if ev.State != speech.StateFailed {
		return
	}
	kind := ErrorKind(ev.Err)
	if kind == "" {
		return
	}
	if t.decodingAt.IsZero() && !t.requestingAt.IsZero() {
		r.metrics.RecordProviderRequest(ctx, r.provider, "error")
	}
	r.metrics.RecordProviderError(ctx, r.provider, kind)
}

// ErrorKind classifies a pipeline error for metrics and API responses:
// "circuit_open", "service", "missing_audio", "decode", or "" for errors
// that are not the synthesis service's doing.
func ErrorKind(err error) string {
	var (
		se *speech.SynthesisServiceError
		me *speech.MissingAudioDataError
		de *speech.DecodeError
	)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return ""
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.As(err, &se):
		return "service"
	case errors.As(err, &me):
		return "missing_audio"
	case errors.As(err, &de):
		return "decode"
	}
	return ""
}
