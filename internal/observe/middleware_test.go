package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/invoicevox/pkg/speech"
)

// testSetup creates both metrics and tracing infrastructure for middleware tests.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

// seen is what the wrapped handler observed in its request context.
type seen struct {
	correlationID string
	requestID     string
}

func serveThrough(t *testing.T, m *Metrics, req *http.Request, status int) (*httptest.ResponseRecorder, seen) {
	t.Helper()
	var s seen
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.correlationID = CorrelationID(r.Context())
		s.requestID = speech.RequestID(r.Context())
		w.WriteHeader(status)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, s
}

func spanAttr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestMiddleware_SpeakRequest(t *testing.T) {
	m, reader, exp := testSetup(t)

	rec, s := serveThrough(t, m, httptest.NewRequest("POST", "/api/speak", nil), http.StatusAccepted)

	if rec.Code != http.StatusAccepted {
		t.Errorf("response status = %d, want 202", rec.Code)
	}

	// Correlation and request IDs reach the handler and the response.
	if len(s.correlationID) != 32 {
		t.Errorf("correlation ID = %q, want 32 hex chars", s.correlationID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != s.correlationID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, s.correlationID)
	}
	if s.requestID == "" {
		t.Fatal("no request ID in the handler context")
	}
	if got := rec.Header().Get(RequestIDHeader); got != s.requestID {
		t.Errorf("%s = %q, want %q", RequestIDHeader, got, s.requestID)
	}

	// One server span carrying status and request ID.
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "HTTP POST /api/speak" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if v, ok := spanAttr(spans[0].Attributes, "http.response.status_code"); !ok || v.AsInt64() != 202 {
		t.Errorf("span status attribute = %v (present %v), want 202", v.AsInt64(), ok)
	}
	if v, ok := spanAttr(spans[0].Attributes, "invoicevox.request_id"); !ok || v.AsString() != s.requestID {
		t.Errorf("span request_id attribute = %q, want %q", v.AsString(), s.requestID)
	}

	// One duration sample tagged with method and path.
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "invoicevox.http.request.duration")
	if met == nil {
		t.Fatal("invoicevox.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("duration data = %T with %d points, want one histogram point", met.Data, len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	if v, _ := dp.Attributes.Value("method"); v.AsString() != "POST" {
		t.Errorf("method attribute = %q, want POST", v.AsString())
	}
	if v, _ := dp.Attributes.Value("path"); v.AsString() != "/api/speak" {
		t.Errorf("path attribute = %q, want /api/speak", v.AsString())
	}
}

func TestMiddleware_ClientHeaders(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	tests := []struct {
		name        string
		headers     map[string]string
		wantTraceID string
		wantReqID   string
	}{
		{
			name:        "traceparent continues the trace",
			headers:     map[string]string{"traceparent": "00-" + traceID + "-00f067aa0ba902b7-01"},
			wantTraceID: traceID,
		},
		{
			name:      "client request id is kept",
			headers:   map[string]string{RequestIDHeader: "client-42"},
			wantReqID: "client-42",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := testSetup(t)
			req := httptest.NewRequest("POST", "/api/invoices/speak", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			rec, s := serveThrough(t, m, req, http.StatusOK)

			if tt.wantTraceID != "" {
				if s.correlationID != tt.wantTraceID {
					t.Errorf("correlation ID = %q, want %q", s.correlationID, tt.wantTraceID)
				}
				if got := rec.Header().Get("X-Correlation-ID"); got != tt.wantTraceID {
					t.Errorf("X-Correlation-ID = %q, want %q", got, tt.wantTraceID)
				}
			}
			if tt.wantReqID != "" {
				if s.requestID != tt.wantReqID {
					t.Errorf("request ID = %q, want %q", s.requestID, tt.wantReqID)
				}
				if got := rec.Header().Get(RequestIDHeader); got != tt.wantReqID {
					t.Errorf("%s = %q, want %q", RequestIDHeader, got, tt.wantReqID)
				}
			}
		})
	}
}

func TestMiddleware_DefaultStatusIsOK(t *testing.T) {
	m, _, exp := testSetup(t)
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if v, _ := spanAttr(spans[0].Attributes, "http.response.status_code"); v.AsInt64() != 200 {
		t.Errorf("span status = %d, want 200", v.AsInt64())
	}
}

func TestStatusRecorder_Unwrap(t *testing.T) {
	inner := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: inner, statusCode: http.StatusOK}
	if rec.Unwrap() != http.ResponseWriter(inner) {
		t.Error("Unwrap did not return the wrapped writer")
	}
}
