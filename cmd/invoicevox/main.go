// Command invoicevox reads invoices aloud with Gemini text-to-speech.
//
// By default it serves the HTTP API until interrupted. With -say or
// -invoices it speaks once, waits for playback to finish and exits.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/invoicevox/internal/app"
	"github.com/MrWong99/invoicevox/internal/config"
	"github.com/MrWong99/invoicevox/internal/narration"
	"github.com/MrWong99/invoicevox/internal/observe"
	"github.com/MrWong99/invoicevox/pkg/audio"
	"github.com/MrWong99/invoicevox/pkg/audio/speaker"
	"github.com/MrWong99/invoicevox/pkg/audio/wavfile"
	"github.com/MrWong99/invoicevox/pkg/provider/tts/gemini"
	"github.com/MrWong99/invoicevox/pkg/speech"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	say := flag.String("say", "", "speak this text once and exit")
	invoicesPath := flag.String("invoices", "", "speak the summary of the invoices in this JSON file once and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "invoicevox: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "invoicevox: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(levelVar))

	oneShot := *say != "" || *invoicesPath != ""
	slog.Info("invoicevox starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"one_shot", oneShot,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    observe.DefaultServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []app.Option{app.WithLevelVar(levelVar)}
	if !oneShot {
		opts = append(opts, app.WithConfigWatch(*configPath, 0))
		printStartupSummary(cfg)
	}

	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	code := 0
	if oneShot {
		code = speakOnce(ctx, application, *say, *invoicesPath)
	} else {
		slog.Info("server ready; press Ctrl+C to shut down")
		if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("run error", "err", err)
			code = 1
		}
		slog.Info("shutdown signal received, stopping…")
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// speakOnce reads text, or the summary of the invoices file, and waits for
// playback to end.
func speakOnce(ctx context.Context, application *app.App, text, invoicesPath string) int {
	var err error
	if invoicesPath != "" {
		var invoices []narration.Invoice
		invoices, err = loadInvoices(invoicesPath)
		if err == nil {
			err = application.SayInvoices(ctx, invoices)
		}
	} else {
		err = application.Say(ctx, text)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("interrupted")
			return 130
		}
		slog.Error("speak failed", "err", err)
		return 1
	}
	return 0
}

// loadInvoices reads a JSON array of invoices from path.
func loadInvoices(path string) ([]narration.Invoice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read invoices: %w", err)
	}
	var invoices []narration.Invoice
	if err := json.Unmarshal(data, &invoices); err != nil {
		return nil, fmt.Errorf("parse invoices %q: %w", path, err)
	}
	return invoices, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSpeech("gemini", func(sc config.SpeechConfig) (speech.Synthesizer, error) {
		var opts []gemini.Option
		if sc.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(sc.BaseURL))
		}
		if sc.RequestTimeout > 0 {
			opts = append(opts, gemini.WithTimeout(sc.RequestTimeout))
		}
		return gemini.New(sc.APIKey, opts...)
	})

	reg.RegisterOutput("speaker", func(oc config.OutputConfig) (audio.Output, error) {
		var opts []speaker.Option
		if rate := config.OptInt(oc.Options, "device_sample_rate"); rate > 0 {
			opts = append(opts, speaker.WithSampleRate(rate))
		}
		if d := config.OptDuration(oc.Options, "buffer"); d > 0 {
			opts = append(opts, speaker.WithBuffer(d))
		}
		return speaker.New(opts...)
	})

	reg.RegisterOutput("wav", func(oc config.OutputConfig) (audio.Output, error) {
		opts := []wavfile.Option{
			wavfile.WithRealtime(config.OptBool(oc.Options, "realtime", true)),
		}
		if prefix := config.OptString(oc.Options, "prefix"); prefix != "" {
			opts = append(opts, wavfile.WithPrefix(prefix))
		}
		return wavfile.New(config.OptString(oc.Options, "dir"), opts...)
	})

	for _, kind := range []string{"speech", "output"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the synthesizer and output named in cfg.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	synth, err := reg.CreateSpeech(cfg.Speech)
	if err != nil {
		return nil, fmt.Errorf("create speech provider %q: %w", cfg.Speech.Provider, err)
	}
	slog.Info("provider created", "kind", "speech", "name", cfg.Speech.Provider)

	out, err := reg.CreateOutput(cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("create output %q: %w", cfg.Output.Name, err)
	}
	slog.Info("provider created", "kind", "output", "name", cfg.Output.Name)

	return &app.Providers{Synthesizer: synth, Output: out}, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       invoicevox: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Speech", cfg.Speech.Provider+" / "+cfg.Speech.Model)
	printRow("Voice", cfg.Speech.Voice)
	printRow("Format", fmt.Sprintf("%d Hz, %d ch", cfg.Speech.SampleRate, cfg.Speech.Channels))
	printRow("Language", string(cfg.Speech.Language))
	printRow("Output", cfg.Output.Name)
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	} else {
		printRow("Listen addr", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
