package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, reset time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitConfig{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
	})
	cb.nowFunc = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	boom := eris.New("boom")

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	boom := eris.New("boom")

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error { return nil }))

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)
	boom := eris.New("boom")

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	require.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// Successful probe closes the circuit.
	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)
	boom := eris.New("boom")

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	*now = now.Add(2 * time.Minute)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrCircuitOpen)

	err = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_ShouldTripFilter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		ShouldTrip:       IsTransient,
	})

	// Permanent errors pass through without tripping the breaker.
	permanent := eris.New("malformed payload")
	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error { return permanent })
		require.Error(t, err)
	}
	assert.Equal(t, CircuitClosed, cb.State())

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return NewTransientError(eris.New("overloaded"), 529)
	})
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestBreakerVal_ReturnsValue(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	val, err := BreakerVal(context.Background(), cb, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
}
