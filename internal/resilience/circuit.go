// Package resilience guards calls to external registries with per-source
// circuit breakers and classifies upstream failures.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the reset timeout elapses.
	CircuitOpen
	// CircuitHalfOpen lets a probe through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before a probe is allowed.
	ResetTimeout time.Duration
	// ShouldTrip decides whether an error counts as a failure. Nil counts
	// every error except caller cancellation.
	ShouldTrip func(err error) bool
	// OnStateChange is called on every transition.
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultBreakerConfig returns the defaults used for registry sources.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		OnStateChange:    logStateChange,
	}
}

// BreakerConfigFrom builds a BreakerConfig from config values, keeping
// defaults for non-positive inputs.
func BreakerConfigFrom(failureThreshold, resetSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetSecs) * time.Second
	}
	return cfg
}

func logStateChange(name string, from, to CircuitState) {
	zap.L().Warn("resilience: circuit state change",
		zap.String("source", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

// Breaker is a circuit breaker for one external source.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// NewBreaker creates a breaker for the named source.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Name returns the source name the breaker guards.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// Call is Execute for functions returning a value.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.acquire(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.record(err)
	if err != nil {
		return zero, err
	}
	return v, nil
}

// State returns the current state, reporting half-open once the reset
// timeout of an open circuit has elapsed.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return b.state
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return eris.Wrapf(ErrCircuitOpen, "resilience: %s", b.name)
		}
		b.transition(CircuitHalfOpen)
		b.probing = true
		return nil
	case CircuitHalfOpen:
		// One probe at a time.
		if b.probing {
			return eris.Wrapf(ErrCircuitOpen, "resilience: %s probing", b.name)
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	trip := b.cfg.ShouldTrip
	if trip == nil {
		trip = defaultShouldTrip
	}

	if err == nil || !trip(err) {
		b.failures = 0
		b.probing = false
		if b.state != CircuitClosed {
			b.transition(CircuitClosed)
		}
		return
	}

	b.failures++
	switch b.state {
	case CircuitHalfOpen:
		b.probing = false
		b.openedAt = b.now()
		b.transition(CircuitOpen)
	case CircuitClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			b.transition(CircuitOpen)
		}
	}
}

func (b *Breaker) transition(to CircuitState) {
	from := b.state
	b.state = to
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

func defaultShouldTrip(err error) bool {
	return !eris.Is(err, context.Canceled)
}

// Breakers holds one breaker per source name. Safe for concurrent use and
// meant to live for the whole process so state carries across analyses.
type Breakers struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*Breaker
}

// NewBreakers creates an empty registry.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (r *Breakers) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.cfg)
		r.breakers[name] = b
	}
	return b
}

// States returns a snapshot of every breaker state, keyed by source name.
func (r *Breakers) States() map[string]string {
	r.mu.Lock()
	names := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		names = append(names, b)
	}
	r.mu.Unlock()

	out := make(map[string]string, len(names))
	for _, b := range names {
		out[b.name] = b.State().String()
	}
	return out
}
