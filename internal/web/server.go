// Package web serves the invoicevox HTTP API:
//
//	POST   /api/speak            {"text": "...", "key": "..."}
//	POST   /api/invoices/speak   {"invoice": {...}}
//	POST   /api/summary/speak    {"invoices": [...]}
//	DELETE /api/speak/{key}      stop the request under key
//	GET    /api/events           websocket stream of pipeline state events
//	GET    /healthz, /readyz     probes
//	GET    /metrics              Prometheus exposition
//
// Speak endpoints answer 202 once playback has started. The audio plays on
// the server's output; nothing is streamed back to the client.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/invoicevox/internal/engine"
	"github.com/MrWong99/invoicevox/internal/health"
	"github.com/MrWong99/invoicevox/internal/narration"
	"github.com/MrWong99/invoicevox/internal/observe"
	"github.com/MrWong99/invoicevox/pkg/audio"
	"github.com/MrWong99/invoicevox/pkg/speech"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Reader is the part of [engine.Reader] the API needs.
type Reader interface {
	ReadAloud(ctx context.Context, key, text string) (*audio.Playback, error)
	ReadInvoice(ctx context.Context, inv narration.Invoice) (*audio.Playback, error)
	ReadSummary(ctx context.Context, invoices []narration.Invoice) (*audio.Playback, error)
	Stop(key string) bool
	Events() *engine.Broadcaster
}

// Compile-time assertion that the engine satisfies Reader.
var _ Reader = (*engine.Reader)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithHealth mounts /healthz and /readyz served by h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler serves /metrics with h instead of [promhttp.Handler].
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithObserveMetrics records HTTP latency on m instead of
// [observe.DefaultMetrics].
func WithObserveMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server holds the API handlers.
type Server struct {
	reader         Reader
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
}

// NewServer returns a Server backed by reader.
func NewServer(reader Reader, opts ...Option) *Server {
	s := &Server{reader: reader}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}
	if s.health == nil {
		s.health = health.New()
	}
	return s
}

// Handler returns the routed API. All routes except the websocket feed run
// behind [observe.Middleware].
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/speak", s.handleSpeak)
	api.HandleFunc("POST /api/invoices/speak", s.handleInvoice)
	api.HandleFunc("POST /api/summary/speak", s.handleSummary)
	api.HandleFunc("DELETE /api/speak/{key...}", s.handleStop)
	api.Handle("GET /metrics", s.metricsHandler)
	s.health.Register(api)

	root := http.NewServeMux()
	root.HandleFunc("GET /api/events", s.handleEvents)
	root.Handle("/", observe.Middleware(s.metrics)(api))
	return root
}

type speakRequest struct {
	Text string `json:"text"`
	Key  string `json:"key,omitempty"`
}

type invoiceRequest struct {
	Invoice narration.Invoice `json:"invoice"`
}

type summaryRequest struct {
	Invoices []narration.Invoice `json:"invoices"`
}

type speakResponse struct {
	RequestID  string `json:"request_id"`
	PlaybackID string `json:"playback_id"`
	Key        string `json:"key,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// handleSpeak handles POST /api/speak.
func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pb, err := s.reader.ReadAloud(r.Context(), req.Key, req.Text)
	s.respond(w, r, req.Key, pb, err)
}

// handleInvoice handles POST /api/invoices/speak.
func (s *Server) handleInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Invoice.ID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invoice.id is required"})
		return
	}
	if !req.Invoice.Status.IsValid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invoice.status is required"})
		return
	}
	pb, err := s.reader.ReadInvoice(r.Context(), req.Invoice)
	s.respond(w, r, engine.InvoiceKey(req.Invoice.ID), pb, err)
}

// handleSummary handles POST /api/summary/speak.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pb, err := s.reader.ReadSummary(r.Context(), req.Invoices)
	s.respond(w, r, engine.SummaryKey, pb, err)
}

// handleStop handles DELETE /api/speak/{key}.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !s.reader.Stop(key) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "nothing is playing under key " + key})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, key string, pb *audio.Playback, err error) {
	if err != nil {
		status, kind := errorStatus(err)
		if status >= http.StatusInternalServerError {
			observe.Logger(r.Context()).Warn("speak request failed", "key", key, "kind", kind, "err", err)
		}
		writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
		return
	}
	writeJSON(w, http.StatusAccepted, speakResponse{
		RequestID:  speech.RequestID(r.Context()),
		PlaybackID: pb.ID(),
		Key:        key,
		DurationMS: pb.Duration().Milliseconds(),
	})
}

// errorStatus maps a read-aloud error to an HTTP status and a short kind.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, speech.ErrEmptyText):
		return http.StatusBadRequest, "empty_text"
	case errors.Is(err, speech.ErrClosed):
		return http.StatusServiceUnavailable, "closed"
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads the status.
		return 499, "cancelled"
	}
	switch kind := engine.ErrorKind(err); kind {
	case "circuit_open":
		return http.StatusServiceUnavailable, kind
	case "service", "missing_audio", "decode":
		return http.StatusBadGateway, kind
	}
	return http.StatusInternalServerError, "internal"
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("web: encode response", "err", err)
	}
}
