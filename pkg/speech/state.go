package speech

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// State is a step in the life of one read-aloud request.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateDecoding
	StateConverting
	StateAssembling
	// StateScheduled means playback has started on the output.
	StateScheduled
	// StateFinished means the scheduled audio played to the end.
	StateFinished
	// StateCancelled means the request or its playback was cancelled.
	StateCancelled
	// StateFailed means a stage returned an error. It is terminal.
	StateFailed
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateDecoding:
		return "decoding"
	case StateConverting:
		return "converting"
	case StateAssembling:
		return "assembling"
	case StateScheduled:
		return "scheduled"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateCancelled || s == StateFailed
}

// Event describes one state transition of a request.
type Event struct {
	RequestID string
	State     State
	Time      time.Time

	// Err is set for StateFailed and StateCancelled.
	Err error

	// PlaybackID and Duration are set from StateScheduled onwards.
	PlaybackID string
	Duration   time.Duration
}

// Observer receives state transitions. It is called synchronously from the
// goroutine driving the request, or from the scheduler's goroutine for the
// states after StateScheduled, and must not block.
type Observer func(Event)

type (
	requestIDKey struct{}
	observerKey  struct{}
)

// WithRequestObserver returns a context under which every request started by
// a [Pipeline] also reports its transitions to fn. fn sees only the events
// of requests run with this context, so callers can keep per-request state
// in its closure. Events of one request are delivered in order and never
// concurrently.
func WithRequestObserver(ctx context.Context, fn Observer) context.Context {
	return context.WithValue(ctx, observerKey{}, fn)
}

func requestObserver(ctx context.Context) Observer {
	fn, _ := ctx.Value(observerKey{}).(Observer)
	return fn
}

// WithRequestID returns a context carrying id as the request identifier used
// in pipeline events.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the identifier stored by [WithRequestID], or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ensureRequestID returns ctx with a request ID, generating one if absent.
func ensureRequestID(ctx context.Context) (context.Context, string) {
	if id := RequestID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}
