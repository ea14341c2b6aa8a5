// Package resilience implements the retry, circuit-breaker, and error
// classification primitives shared by every network-touching component.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is one of the three states of a per-host circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected without attempting
// the network, per the CircuitOpen error taxonomy kind.
var ErrCircuitOpen = eris.New("circuit breaker open")

// CircuitBreakerConfig configures a single host's breaker.
type CircuitBreakerConfig struct {
	FailureThreshold  int
	ResetTimeout      time.Duration
	HalfOpenMaxProbes int
	// ShouldTrip decides whether an error counts as a breaker failure.
	// 429 responses must return false here - they are transient
	// back-pressure, not host unavailability.
	ShouldTrip    func(error) bool
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig matches the thresholds named in the spec:
// 5 consecutive failures to open, 60s before a half-open probe.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      60 * time.Second,
		HalfOpenMaxProbes: 1,
		ShouldTrip:        TripsBreaker,
	}
}

// CircuitBreaker guards calls to a single host.
type CircuitBreaker struct {
	mu                sync.Mutex
	cfg               CircuitBreakerConfig
	state             CircuitState
	consecutiveFails  int
	openedAt          time.Time
	halfOpenInFlight  int
	totalTrips        int64
}

// NewCircuitBreaker creates a breaker in the Closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = 1
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = TripsBreaker
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// State returns the current state, lazily promoting Open to HalfOpen
// once ResetTimeout has elapsed.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *CircuitBreaker) stateLocked() CircuitState {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.ResetTimeout {
		b.transition(StateHalfOpen)
	}
	return b.state
}

func (b *CircuitBreaker) transition(to CircuitState) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if to == StateOpen {
		b.openedAt = time.Now()
		b.totalTrips++
	}
	if to == StateHalfOpen {
		b.halfOpenInFlight = 0
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

// allowRequest reports whether a call may proceed, reserving a
// half-open probe slot if applicable.
func (b *CircuitBreaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.stateLocked() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxProbes {
			return false
		}
		b.halfOpenInFlight++
		return true
	default: // StateOpen
		return false
	}
}

func (b *CircuitBreaker) recordResult(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.consecutiveFails = 0
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
		return
	}

	if !b.cfg.ShouldTrip(err) {
		// A non-tripping failure (e.g. 429) does not move the breaker,
		// even from HalfOpen - it stays a probe pending a real result.
		return
	}

	if b.state == StateHalfOpen {
		b.transition(StateOpen)
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.cfg.FailureThreshold {
		b.transition(StateOpen)
	}
}

// Execute runs fn if the breaker allows it, recording the outcome.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	b.recordResult(err)
	return err
}

// ExecuteVal is the generic value-returning variant of Execute.
func ExecuteVal[T any](ctx context.Context, b *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if !b.allowRequest() {
		return zero, ErrCircuitOpen
	}
	v, err := fn(ctx)
	b.recordResult(err)
	return v, err
}

// Reset forces the breaker back to Closed. Used by tests and by operator
// tooling; never called on the hot path.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFails = 0
	b.halfOpenInFlight = 0
}

// Counters exposes trip count and current consecutive-failure count for
// observability.
func (b *CircuitBreaker) Counters() (trips int64, consecutiveFails int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalTrips, b.consecutiveFails
}

// HostBreakers lazily creates and caches one CircuitBreaker per host.
type HostBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewHostBreakers creates a registry that hands out per-host breakers
// built from cfg.
func NewHostBreakers(cfg CircuitBreakerConfig) *HostBreakers {
	return &HostBreakers{breakers: make(map[string]*CircuitBreaker), cfg: cfg}
}

// Get returns the breaker for host, creating it on first use.
func (h *HostBreakers) Get(host string) *CircuitBreaker {
	h.mu.RLock()
	b, ok := h.breakers[host]
	h.mu.RUnlock()
	if ok {
		return b
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.breakers[host]; ok {
		return b
	}
	b = NewCircuitBreaker(h.cfg)
	h.breakers[host] = b
	return b
}

// States returns a snapshot of every known host's current state.
func (h *HostBreakers) States() map[string]CircuitState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]CircuitState, len(h.breakers))
	for host, b := range h.breakers {
		out[host] = b.State()
	}
	return out
}
