package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/invoicevox/pkg/speech"
)

const (
	tracerName = "github.com/MrWong99/invoicevox"

	// RequestIDAttr is the span attribute holding the read-aloud request ID.
	RequestIDAttr = "invoicevox.request_id"
)

// Tracer returns the invoicevox [trace.Tracer] from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. When ctx carries a request ID (see
// [speech.WithRequestID]) the span is tagged with it under [RequestIDAttr].
// The caller must end the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := speech.RequestID(ctx); id != "" {
		opts = append(opts[:len(opts):len(opts)], trace.WithAttributes(attribute.String(RequestIDAttr, id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID of the active span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// RequestAttrs returns the identifiers of the request in ctx as log
// attributes: trace_id and span_id of the active span and request_id. Absent
// identifiers are left out.
func RequestAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := speech.RequestID(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	return attrs
}

// Logger returns the default logger with [RequestAttrs] of ctx attached.
func Logger(ctx context.Context) *slog.Logger {
	attrs := RequestAttrs(ctx)
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.New(slog.Default().Handler().WithAttrs(attrs))
}
