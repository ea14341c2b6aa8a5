package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     time.Minute,
		ShouldTrip:       func(error) bool { return true },
	})

	failing := func(ctx context.Context) error { return eris.New("boom") }

	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), failing)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen, "underlying calls should still be attempted until the threshold trips")
	}

	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Fatal("network call must not happen while circuit is open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func Test429DoesNotTripBreaker(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     time.Minute,
		ShouldTrip:       TripsBreaker,
	})

	rateLimited := NewTransientError(eris.New("429"), 429)
	for i := 0; i < 20; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error { return rateLimited })
		require.Error(t, err)
	}

	assert.Equal(t, StateClosed, cb.State(), "429 responses must never open the breaker")
}

func TestHalfOpenPromotesToClosedOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return eris.New("fail") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenReturnsToOpenOnFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return eris.New("fail") })
	time.Sleep(15 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return eris.New("still failing") })
	assert.Equal(t, StateOpen, cb.State())
}

func TestHostBreakersReuseSameInstance(t *testing.T) {
	hb := NewHostBreakers(DefaultCircuitBreakerConfig())
	a := hb.Get("example.test")
	b := hb.Get("example.test")
	assert.Same(t, a, b)

	c := hb.Get("other.test")
	assert.NotSame(t, a, c)
}
