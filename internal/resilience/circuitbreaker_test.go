package resilience_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hapticphonix/larynx/internal/resilience"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type transition struct{ from, to resilience.State }

func newBreaker(t *testing.T, maxFailures, halfOpenMax int) (*resilience.CircuitBreaker, *fakeClock, *[]transition) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var log []transition
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "nats",
		MaxFailures:  maxFailures,
		ResetTimeout: 5 * time.Second,
		HalfOpenMax:  halfOpenMax,
		Now:          clock.Now,
		OnStateChange: func(_ string, from, to resilience.State) {
			log = append(log, transition{from, to})
		},
	})
	return cb, clock, &log
}

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	cb, _, _ := newBreaker(t, 3, 1)

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	_ = cb.Execute(succeed) // resets the streak
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	if cb.State() != resilience.StateClosed {
		t.Fatalf("state = %v, want closed after an interrupted streak", cb.State())
	}

	if err := cb.Execute(fail); !errors.Is(err, errBoom) {
		t.Fatalf("third failure should return the call's error, got %v", err)
	}
	if cb.State() != resilience.StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, resilience.ErrCircuitOpen) || called {
		t.Errorf("open breaker: err=%v called=%v", err, called)
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()
	cb, clock, log := newBreaker(t, 1, 2)

	_ = cb.Execute(fail)
	clock.Advance(5 * time.Second)
	if cb.State() != resilience.StateHalfOpen {
		t.Fatalf("state = %v, want half-open after the reset timeout", cb.State())
	}

	if err := cb.Execute(succeed); err != nil {
		t.Fatal(err)
	}
	if cb.State() != resilience.StateHalfOpen {
		t.Fatalf("one probe of two should keep the breaker half-open, got %v", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatal(err)
	}
	if cb.State() != resilience.StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}

	want := []transition{
		{resilience.StateClosed, resilience.StateOpen},
		{resilience.StateOpen, resilience.StateHalfOpen},
		{resilience.StateHalfOpen, resilience.StateClosed},
	}
	if len(*log) != len(want) {
		t.Fatalf("transitions = %v, want %v", *log, want)
	}
	for i := range want {
		if (*log)[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, (*log)[i], want[i])
		}
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	cb, clock, _ := newBreaker(t, 1, 1)

	_ = cb.Execute(fail)
	clock.Advance(6 * time.Second)
	_ = cb.Execute(fail)
	if cb.State() != resilience.StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	// The reset timeout restarts from the failed probe.
	clock.Advance(4 * time.Second)
	if err := cb.Execute(succeed); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen before the new timeout, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()
	cb, clock, _ := newBreaker(t, 1, 1)
	_ = cb.Execute(fail)
	clock.Advance(5 * time.Second)

	inProbe := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- cb.Execute(func() error {
			close(inProbe)
			<-release
			return nil
		})
	}()
	<-inProbe

	if err := cb.Execute(succeed); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("second concurrent probe: got %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if cb.State() != resilience.StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()
	cb, _, _ := newBreaker(t, 1, 1)
	_ = cb.Execute(fail)
	cb.Reset()
	if cb.State() != resilience.StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Errorf("closed breaker rejected a call: %v", err)
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})
	for range 4 {
		_ = cb.Execute(fail)
	}
	if cb.State() != resilience.StateClosed {
		t.Fatalf("four failures should not open a default breaker")
	}
	_ = cb.Execute(fail)
	if cb.State() != resilience.StateOpen {
		t.Fatalf("five failures should open a default breaker")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[resilience.State]string{
		resilience.StateClosed:   "closed",
		resilience.StateOpen:     "open",
		resilience.StateHalfOpen: "half-open",
		resilience.State(42):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
