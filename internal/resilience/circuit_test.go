package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

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

func newTestBreaker(threshold int, reset time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker("registry", BreakerConfig{FailureThreshold: threshold, ResetTimeout: reset})
	b.now = clock.Now
	return b, clock
}

func fail(_ context.Context) error { return errors.New("fail") }
func succeed(_ context.Context) error { return nil }

func TestBreaker_ClosedPassesThrough(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	var calls int
	err := b.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if b.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	if b.State() != CircuitOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}

	err := b.Execute(context.Background(), func(_ context.Context) error {
		t.Error("should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), succeed)
	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), fail)

	if b.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)

	_ = b.Execute(context.Background(), fail)
	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	clock.Advance(31 * time.Second)
	if b.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after reset timeout, got %s", b.State())
	}

	if err := b.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("probe should pass: %v", err)
	}
	if b.State() != CircuitClosed {
		t.Errorf("expected closed after successful probe, got %s", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)

	_ = b.Execute(context.Background(), fail)
	clock.Advance(31 * time.Second)
	_ = b.Execute(context.Background(), fail)

	if b.State() != CircuitOpen {
		t.Errorf("expected reopened circuit, got %s", b.State())
	}
}

func TestBreaker_CancellationDoesNotTrip(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)

	_ = b.Execute(context.Background(), func(_ context.Context) error { return context.Canceled })
	if b.State() != CircuitClosed {
		t.Errorf("caller cancellation must not open the circuit, got %s", b.State())
	}
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	b := NewBreaker("bodacc", BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange: func(name string, from, to CircuitState) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = b.Execute(context.Background(), fail)
	if len(transitions) != 1 || transitions[0] != "bodacc:closed->open" {
		t.Errorf("unexpected transitions: %v", transitions)
	}
}

func TestCall_ReturnsValue(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	v, err := Call(context.Background(), b, func(_ context.Context) (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Fatalf("expected 42, nil; got %d, %v", v, err)
	}

	v, err = Call(context.Background(), b, func(_ context.Context) (int, error) { return 7, errors.New("x") })
	if err == nil || v != 0 {
		t.Errorf("expected zero value on error; got %d, %v", v, err)
	}
}

func TestBreakers_GetReturnsSameInstance(t *testing.T) {
	r := NewBreakers(DefaultBreakerConfig())

	var wg sync.WaitGroup
	got := make([]*Breaker, 10)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = r.Get("registry")
		}(i)
	}
	wg.Wait()

	for _, b := range got {
		if b != got[0] {
			t.Fatal("expected a single breaker per source")
		}
	}
	if states := r.States(); states["registry"] != "closed" {
		t.Errorf("unexpected states: %v", states)
	}
}

func TestBreakerConfigFrom(t *testing.T) {
	cfg := BreakerConfigFrom(0, 0)
	if cfg.FailureThreshold != 5 || cfg.ResetTimeout != 60*time.Second {
		t.Errorf("expected defaults, got %+v", cfg)
	}
	cfg = BreakerConfigFrom(2, 10)
	if cfg.FailureThreshold != 2 || cfg.ResetTimeout != 10*time.Second {
		t.Errorf("unexpected config: %+v", cfg)
	}
}
