// Package app wires all invoicevox subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API and watches the config file, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via [Providers] and the functional options
// (WithMetrics, WithLevelVar, etc.).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/invoicevox/internal/config"
	"github.com/MrWong99/invoicevox/internal/engine"
	"github.com/MrWong99/invoicevox/internal/health"
	"github.com/MrWong99/invoicevox/internal/narration"
	"github.com/MrWong99/invoicevox/internal/observe"
	"github.com/MrWong99/invoicevox/internal/resilience"
	"github.com/MrWong99/invoicevox/internal/web"
	"github.com/MrWong99/invoicevox/pkg/audio"
	"github.com/MrWong99/invoicevox/pkg/speech"
)

// Providers holds the two external dependencies of the application. Both are
// required. Populated by main.go via the config registry.
type Providers struct {
	Synthesizer speech.Synthesizer
	Output      audio.Output
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics  *observe.Metrics
	levelVar *slog.LevelVar

	configPath    string
	watchInterval time.Duration

	// Subsystems, initialised in New and torn down in Shutdown.
	sched   *audio.Scheduler
	guarded *resilience.Synthesizer
	reader  *engine.Reader
	health  *health.Handler
	web     *web.Server
	server  *http.Server
	watcher *config.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics injects the metrics instruments instead of the global ones.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets hot reloads change the log level of the handler that
// was built around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithConfigWatch makes Run poll the config file at path and apply
// hot-reloadable changes. interval <= 0 uses the watcher default.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. New performs all
// initialisation synchronously; nothing is served until Run is called.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Synthesizer == nil {
		return nil, errors.New("app: a synthesizer is required")
	}
	if providers.Output == nil {
		return nil, errors.New("app: an audio output is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Scheduler ─────────────────────────────────────────────────────
	a.sched = audio.NewScheduler(providers.Output, audio.WithFinishHook(func(pb *audio.Playback) {
		slog.Debug("playback released", "playback_id", pb.ID(), "err", pb.Err())
	}))

	// ── 2. Guarded synthesizer ───────────────────────────────────────────
	a.guarded = resilience.NewSynthesizer(providers.Synthesizer, cfg.Speech.Provider, resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.Speech.Breaker.MaxFailures,
		ResetTimeout: cfg.Speech.Breaker.ResetTimeout,
		OnStateChange: func(from, to resilience.State) {
			slog.Warn("synthesis breaker changed state",
				"provider", cfg.Speech.Provider, "from", from.String(), "to", to.String())
		},
	})

	// ── 3. Reader ────────────────────────────────────────────────────────
	reader, err := engine.New(a.guarded, a.sched, SpeechConfig(cfg.Speech),
		engine.WithMetrics(a.metrics),
		engine.WithProvider(cfg.Speech.Provider),
		engine.WithLanguage(cfg.Speech.Language),
	)
	if err != nil {
		a.sched.Close()
		return nil, fmt.Errorf("app: init reader: %w", err)
	}
	a.reader = reader

	// ── 4. Health + HTTP API ─────────────────────────────────────────────
	a.health = health.New(
		health.SchedulerChecker(a.sched),
		health.BreakerChecker(a.guarded.Breaker()),
	)
	a.web = web.NewServer(a.reader,
		web.WithHealth(a.health),
		web.WithObserveMetrics(a.metrics),
	)
	if cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           a.web.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	// ── 5. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.ApplyConfigChange, config.WithInterval(a.watchInterval))
		if err != nil {
			a.reader.Close()
			a.sched.Close()
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
	}

	// The reader stops its jobs before the scheduler releases the output.
	a.closers = append(a.closers, a.reader.Close, a.sched.Close)

	return a, nil
}

// SpeechConfig converts the YAML speech section to a [speech.Config].
func SpeechConfig(sc config.SpeechConfig) speech.Config {
	return speech.Config{
		Model:      sc.Model,
		Voice:      speech.Voice(sc.Voice),
		SampleRate: sc.SampleRate,
		Channels:   sc.Channels,
	}.WithDefaults()
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Reader returns the invoice reader.
func (a *App) Reader() *engine.Reader { return a.reader }

// Handler returns the HTTP handler serving the API, health probes and
// metrics.
func (a *App) Handler() http.Handler { return a.web.Handler() }

// Breaker returns the circuit breaker guarding the synthesizer.
func (a *App) Breaker() *resilience.CircuitBreaker { return a.guarded.Breaker() }

// ─── One-shot ────────────────────────────────────────────────────────────────

// SayKey is the supersede key of [App.Say]. A new Say replaces one that is
// still playing but leaves invoice and summary read-outs alone.
const SayKey = "say"

// Say reads text aloud under [SayKey] and blocks until playback ends or ctx
// is done.
func (a *App) Say(ctx context.Context, text string) error {
	pb, err := a.reader.ReadAloud(ctx, SayKey, text)
	if err != nil {
		return err
	}
	return pb.Wait(ctx)
}

// SayInvoices reads the summary of invoices aloud and blocks until playback
// ends or ctx is done.
func (a *App) SayInvoices(ctx context.Context, invoices []narration.Invoice) error {
	pb, err := a.reader.ReadSummary(ctx, invoices)
	if err != nil {
		return err
	}
	return pb.Wait(ctx)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API and watches the config file until ctx is cancelled
// or one of them fails. A cancelled ctx is not an error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.server.Addr, err)
		}
		slog.Info("http api listening", "addr", ln.Addr().String())

		g.Go(func() error {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: serve http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.shutdownTimeout())
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	slog.Info("app running", "provider", a.cfg.Speech.Provider, "output", a.cfg.Output.Name)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	return g.Wait()
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return config.DefaultShutdownTimeout
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfigChange applies the hot-reloadable parts of diff. It is the
// callback of the config watcher and may be called directly.
func (a *App) ApplyConfigChange(_, next *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(diff.NewLogLevel.Level())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.VoiceChanged {
		sc := a.reader.SpeechConfig()
		sc.Voice = speech.Voice(diff.NewVoice)
		sc.Model = diff.NewModel
		if err := a.reader.SetSpeechConfig(sc.WithDefaults()); err != nil {
			slog.Warn("voice change rejected", "voice", diff.NewVoice, "model", diff.NewModel, "err", err)
		} else {
			slog.Info("voice changed", "voice", sc.Voice, "model", sc.Model)
		}
	}
	if diff.LanguageChanged {
		a.reader.SetLanguage(diff.NewLanguage)
		slog.Info("narration language changed", "language", diff.NewLanguage)
	}
	if next != nil {
		a.cfg.Server.LogLevel = next.Server.LogLevel
		a.cfg.Speech.Voice = next.Speech.Voice
		a.cfg.Speech.Model = next.Speech.Model
		a.cfg.Speech.Language = next.Speech.Language
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order: the reader cancels every job,
// then the scheduler stops outstanding playbacks and closes the output. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
