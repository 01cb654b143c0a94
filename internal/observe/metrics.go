// Package observe provides the observability primitives for invoicevox:
// OpenTelemetry metrics, tracing, trace-aware structured logging and the HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. Tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all invoicevox metrics.
const meterName = "github.com/MrWong99/invoicevox"

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// --- Latency histograms ---

	// TTSDuration tracks the round trip to the synthesis service.
	TTSDuration metric.Float64Histogram

	// DecodeDuration tracks payload decoding, PCM conversion and buffer
	// assembly, i.e. everything between the response and scheduling.
	DecodeDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts synthesis calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed synthesis calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Playbacks counts finished playbacks by outcome. Use with attribute:
	//   attribute.String("outcome", "finished"|"cancelled")
	Playbacks metric.Int64Counter

	// AudioSeconds accumulates the duration of scheduled audio.
	AudioSeconds metric.Float64Counter

	// --- Gauges ---

	// ActivePlaybacks tracks the number of playbacks currently sounding.
	ActivePlaybacks metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Synthesis
// of a long invoice summary regularly takes several seconds.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TTSDuration, err = m.Float64Histogram("invoicevox.tts.duration",
		metric.WithDescription("Latency of the speech synthesis request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecodeDuration, err = m.Float64Histogram("invoicevox.decode.duration",
		metric.WithDescription("Latency of payload decoding and sample buffer assembly."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("invoicevox.provider.requests",
		metric.WithDescription("Total synthesis requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("invoicevox.provider.errors",
		metric.WithDescription("Total synthesis errors by provider and error kind."),
	); err != nil {
		return nil, err
	}
	if met.Playbacks, err = m.Int64Counter("invoicevox.playbacks",
		metric.WithDescription("Total completed playbacks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.AudioSeconds, err = m.Float64Counter("invoicevox.audio.seconds",
		metric.WithDescription("Total seconds of audio scheduled for playback."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.ActivePlaybacks, err = m.Int64UpDownCounter("invoicevox.active_playbacks",
		metric.WithDescription("Number of playbacks currently sounding."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("invoicevox.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter. kind is one of
// "service", "missing_audio", "decode" or "circuit_open".
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordPlayback increments the playback counter for outcome.
func (m *Metrics) RecordPlayback(ctx context.Context, outcome string) {
	m.Playbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
