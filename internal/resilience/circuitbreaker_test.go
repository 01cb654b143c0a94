package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("synthesis unavailable")

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "gemini"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 1 {
		t.Errorf("defaults = (%d, %v, %d), want (5, 30s, 1)", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.Name() != "gemini" {
		t.Errorf("Name() = %q, want gemini", cb.Name())
	}
}

// step is one action in a breaker scenario: "ok" and "fail" run a call,
// "wait" sleeps past the short reset timeout, "reset" calls Reset and
// "check" only inspects the state.
type step struct {
	op        string
	wantErr   error
	wantState State
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	const short = 10 * time.Millisecond

	tripped := []step{
		{"fail", errTest, StateClosed},
		{"fail", errTest, StateClosed},
		{"fail", errTest, StateOpen},
	}

	tests := []struct {
		name  string
		reset time.Duration
		steps []step
	}{
		{
			name:  "closed forwards calls",
			reset: time.Hour,
			steps: []step{{"ok", nil, StateClosed}, {"ok", nil, StateClosed}},
		},
		{
			name:  "opens after consecutive failures and rejects",
			reset: time.Hour,
			steps: append(append([]step{}, tripped...),
				step{"ok", ErrCircuitOpen, StateOpen},
			),
		},
		{
			name:  "success resets the failure count",
			reset: time.Hour,
			steps: []step{
				{"fail", errTest, StateClosed},
				{"fail", errTest, StateClosed},
				{"ok", nil, StateClosed},
				{"fail", errTest, StateClosed},
				{"fail", errTest, StateClosed},
			},
		},
		{
			name:  "reports half-open once the timeout elapsed",
			reset: short,
			steps: append(append([]step{}, tripped...),
				step{"wait", nil, StateHalfOpen},
			),
		},
		{
			name:  "successful probe closes",
			reset: short,
			steps: append(append([]step{}, tripped...),
				step{"wait", nil, StateHalfOpen},
				step{"ok", nil, StateClosed},
				step{"fail", errTest, StateClosed},
			),
		},
		{
			name:  "failed probe re-opens",
			reset: short,
			steps: append(append([]step{}, tripped...),
				step{"wait", nil, StateHalfOpen},
				step{"fail", errTest, StateOpen},
				step{"ok", ErrCircuitOpen, StateOpen},
			),
		},
		{
			name:  "reset closes an open breaker",
			reset: time.Hour,
			steps: append(append([]step{}, tripped...),
				step{"reset", nil, StateClosed},
				step{"ok", nil, StateClosed},
			),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCircuitBreaker(CircuitBreakerConfig{
				Name:         "gemini",
				MaxFailures:  3,
				ResetTimeout: tt.reset,
			})
			for i, s := range tt.steps {
				var err error
				switch s.op {
				case "ok":
					err = cb.Execute(func() error { return nil })
				case "fail":
					err = cb.Execute(func() error { return errTest })
				case "wait":
					time.Sleep(tt.reset + 5*time.Millisecond)
				case "reset":
					cb.Reset()
				}
				if !errors.Is(err, s.wantErr) || (s.wantErr == nil && err != nil) {
					t.Fatalf("step %d (%s): err = %v, want %v", i, s.op, err, s.wantErr)
				}
				if got := cb.State(); got != s.wantState {
					t.Fatalf("step %d (%s): state = %v, want %v", i, s.op, got, s.wantState)
				}
			}
		})
	}
}

func TestCircuitBreaker_OpenSkipsCall(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "gemini", MaxFailures: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(func() error { return errTest })

	called := false
	if err := cb.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("guarded call ran while the breaker was open")
	}
}

func TestState_String(t *testing.T) {
	for state, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}

func TestCircuitBreaker_HalfOpenProbeBudget(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  1,
	})
	_ = cb.Execute(func() error { return errTest })
	time.Sleep(15 * time.Millisecond)

	probing := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(probing)
			<-release
			return nil
		})
	}()
	<-probing

	// The single probe slot is taken.
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_IsFailureFiltersErrors(t *testing.T) {
	errIgnored := errors.New("not the service's fault")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "test",
		MaxFailures: 2,
		IsFailure:   func(err error) bool { return !errors.Is(err, errIgnored) },
	})

	for range 5 {
		if err := cb.Execute(func() error { return errIgnored }); !errors.Is(err, errIgnored) {
			t.Fatalf("err = %v, want errIgnored passed through", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed: ignored errors must not count", cb.State())
	}

	_ = cb.Execute(func() error { return errTest })
	_ = cb.Execute(func() error { return errTest })
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions []string
	)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		OnStateChange: func(from, to State) {
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
		},
	})

	_ = cb.Execute(func() error { return errTest })
	time.Sleep(15 * time.Millisecond)
	_ = cb.Execute(func() error { return nil })

	mu.Lock()
	defer mu.Unlock()
	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}
