package app_test

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/invoicevox/internal/app"
	"github.com/MrWong99/invoicevox/internal/config"
	"github.com/MrWong99/invoicevox/internal/narration"
	"github.com/MrWong99/invoicevox/internal/observe"
	"github.com/MrWong99/invoicevox/internal/resilience"
	"github.com/MrWong99/invoicevox/pkg/audio"
	audiomock "github.com/MrWong99/invoicevox/pkg/audio/mock"
	"github.com/MrWong99/invoicevox/pkg/speech"
	speechmock "github.com/MrWong99/invoicevox/pkg/speech/mock"
)

// testConfig returns a minimal config without an HTTP listener.
func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Speech.APIKey = "test-key"
	return cfg
}

// testProviders returns a synthesizer that yields 100ms of silence and an
// output whose streams end immediately.
func testProviders() (*app.Providers, *speechmock.Synthesizer, *audiomock.Output) {
	synth := &speechmock.Synthesizer{
		Payload: base64.StdEncoding.EncodeToString(make([]byte, 2400*audio.BytesPerSample)),
	}
	out := &audiomock.Output{}
	return &app.Providers{Synthesizer: synth, Output: out}, synth, out
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	application, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Shutdown(ctx)
	})
	return application
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		providers *app.Providers
	}{
		{"nil providers", nil},
		{"no synthesizer", &app.Providers{Output: &audiomock.Output{}}},
		{"no output", &app.Providers{Synthesizer: &speechmock.Synthesizer{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := app.New(context.Background(), testConfig(), tt.providers); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestNew_InvalidVoice(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Speech.Voice = "Nobody"
	providers, _, out := testProviders()

	if _, err := app.New(context.Background(), cfg, providers, app.WithMetrics(testMetrics(t))); err == nil {
		t.Fatal("expected error for unknown voice")
	}
	if out.CloseCalls != 1 {
		t.Errorf("output CloseCalls = %d, want 1 after failed New", out.CloseCalls)
	}
}

func TestSpeechConfig(t *testing.T) {
	t.Parallel()

	got := app.SpeechConfig(config.SpeechConfig{Voice: "Puck"})
	if got.Voice != speech.VoicePuck {
		t.Errorf("Voice = %q, want Puck", got.Voice)
	}
	if got.Model != speech.DefaultModel || got.SampleRate != 24000 || got.Channels != 1 {
		t.Errorf("defaults not applied: %+v", got)
	}
}

func TestApp_Say(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Speech.Voice = "Charon"
	providers, synth, out := testProviders()
	application := newApp(t, cfg, providers)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Say(ctx, "مرحبا"); err != nil {
		t.Fatalf("Say: %v", err)
	}

	if synth.CallCount() != 1 {
		t.Fatalf("synthesizer calls = %d, want 1", synth.CallCount())
	}
	req := synth.Calls[0].Request
	if req.Text != "مرحبا" || req.Voice != speech.VoiceCharon {
		t.Errorf("request = %+v, want text مرحبا voice Charon", req)
	}
	if got := len(out.Calls()); got != 1 {
		t.Errorf("output Play calls = %d, want 1", got)
	}
}

func TestApp_SayDoesNotSupersedeSummary(t *testing.T) {
	t.Parallel()

	providers, _, _ := testProviders()
	out := &audiomock.Output{Hold: true}
	providers.Output = out
	application := newApp(t, testConfig(), providers)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	summary, err := application.Reader().ReadSummary(ctx, []narration.Invoice{
		{ID: "1", ClientName: "شركة الأفق", Amount: 100, Status: narration.StatusPaid},
	})
	if err != nil {
		t.Fatalf("ReadSummary: %v", err)
	}

	said := make(chan error, 1)
	go func() { said <- application.Say(ctx, "تنبيه") }()

	for len(out.Calls()) < 2 {
		select {
		case <-ctx.Done():
			t.Fatal("Say never reached the output")
		case <-time.After(5 * time.Millisecond):
		}
	}
	out.Finish(1)
	if err := <-said; err != nil {
		t.Fatalf("Say: %v", err)
	}

	select {
	case <-summary.Done():
		t.Fatalf("summary playback ended early: %v", summary.Err())
	default:
	}
	out.Finish(0)
	if err := summary.Wait(ctx); err != nil {
		t.Errorf("summary playback err = %v, want nil", err)
	}
}

func TestApp_SayInvoices(t *testing.T) {
	t.Parallel()

	providers, synth, _ := testProviders()
	application := newApp(t, testConfig(), providers)

	invoices := []narration.Invoice{
		{ID: "1", ClientName: "شركة النور", Amount: 1500, Status: narration.StatusPaid},
		{ID: "2", ClientName: "مؤسسة الأمل", Amount: 250.5, Status: narration.StatusOverdue},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.SayInvoices(ctx, invoices); err != nil {
		t.Fatalf("SayInvoices: %v", err)
	}

	want := narration.SummaryText(config.LanguageArabic, narration.ComputeStats(invoices))
	if got := synth.Calls[0].Request.Text; got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
}

func TestApp_Handler_Speak(t *testing.T) {
	t.Parallel()

	providers, _, _ := testProviders()
	application := newApp(t, testConfig(), providers)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/speak", strings.NewReader(`{"text":"hello"}`))
	application.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", rec.Code, rec.Body.String())
	}
}

func TestApp_BreakerOpensOnServiceErrors(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Speech.Breaker.MaxFailures = 2
	cfg.Speech.Breaker.ResetTimeout = time.Hour
	providers, synth, _ := testProviders()
	synth.Err = &speech.SynthesisServiceError{Provider: "gemini", StatusCode: 503, Cause: errors.New("unavailable")}
	application := newApp(t, cfg, providers)

	ctx := context.Background()
	for range 2 {
		if err := application.Say(ctx, "x"); err == nil {
			t.Fatal("expected service error")
		}
	}
	if got := application.Breaker().State(); got != resilience.StateOpen {
		t.Fatalf("breaker state = %v, want open", got)
	}

	err := application.Say(ctx, "x")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if synth.CallCount() != 2 {
		t.Errorf("synthesizer calls = %d, want 2", synth.CallCount())
	}

	rec := httptest.NewRecorder()
	application.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz status = %d, want 503", rec.Code)
	}
}

func TestApp_ApplyConfigChange(t *testing.T) {
	t.Parallel()

	lv := new(slog.LevelVar)
	providers, _, _ := testProviders()
	cfg := testConfig()
	application := newApp(t, cfg, providers, app.WithLevelVar(lv))

	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	next.Speech.Voice = "Leda"
	next.Speech.Language = config.LanguageEnglish

	application.ApplyConfigChange(cfg, next, config.Diff(cfg, next))

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
	if got := application.Reader().SpeechConfig().Voice; got != speech.VoiceLeda {
		t.Errorf("voice = %q, want Leda", got)
	}
	if got := application.Reader().Language(); got != config.LanguageEnglish {
		t.Errorf("language = %q, want en", got)
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	providers, _, out := testProviders()
	application, err := app.New(context.Background(), testConfig(), providers, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}

	if out.CloseCalls != 1 {
		t.Errorf("output CloseCalls = %d, want 1", out.CloseCalls)
	}
	if err := application.Say(ctx, "late"); !errors.Is(err, speech.ErrClosed) {
		t.Errorf("Say after Shutdown err = %v, want ErrClosed", err)
	}
}

func TestApp_Shutdown_ExpiredContext(t *testing.T) {
	t.Parallel()

	providers, _, _ := testProviders()
	application, err := app.New(context.Background(), testConfig(), providers, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := application.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Shutdown() err = %v, want context.Canceled", err)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	providers, _, _ := testProviders()
	application := newApp(t, cfg, providers)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}
}

func TestApp_Run_ListenError(t *testing.T) {
	t.Parallel()

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer taken.Close()

	cfg := testConfig()
	cfg.Server.ListenAddr = taken.Addr().String()
	providers, _, _ := testProviders()
	application := newApp(t, cfg, providers)

	if err := application.Run(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}
}

func TestApp_ConfigWatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "invoicevox.yaml")
	if err := os.WriteFile(path, []byte("speech:\n  api_key: k\n  voice: Kore\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	providers, _, _ := testProviders()
	application := newApp(t, cfg, providers, app.WithConfigWatch(path, 10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- application.Run(ctx) }()
	defer func() {
		cancel()
		<-errCh
	}()

	if err := os.WriteFile(path, []byte("speech:\n  api_key: k\n  voice: Puck\n  language: en\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for application.Reader().SpeechConfig().Voice != speech.VoicePuck {
		select {
		case <-deadline:
			t.Fatalf("voice = %q after reload, want Puck", application.Reader().SpeechConfig().Voice)
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := application.Reader().Language(); got != config.LanguageEnglish {
		t.Errorf("language = %q, want en", got)
	}
}
