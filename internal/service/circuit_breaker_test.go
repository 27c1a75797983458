package service

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "meshbridge/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures uint32, timeout time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker("test", maxFailures, timeout, testLogger())
	cb.now = clock.now
	return cb, clock
}

func failing(ctx context.Context) error { return errors.New("write failed") }

func succeeding(ctx context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)
	ctx := context.Background()

	assert.EqualError(t, cb.Execute(ctx, failing), "write failed")
	assert.Equal(t, StateClosed, cb.GetState())
	assert.EqualError(t, cb.Execute(ctx, failing), "write failed")
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCircuitOpen))
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb, clock := newTestBreaker(1, 10*time.Second)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failing))
	require.Equal(t, StateOpen, cb.GetState())

	clock.advance(11 * time.Second)
	require.NoError(t, cb.Execute(ctx, succeeding))
	assert.Equal(t, StateHalfOpen, cb.GetState())

	require.NoError(t, cb.Execute(ctx, succeeding))
	require.NoError(t, cb.Execute(ctx, succeeding))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(1, 10*time.Second)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failing))
	clock.advance(11 * time.Second)
	require.Error(t, cb.Execute(ctx, failing))
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, failing)
	require.NoError(t, cb.Execute(ctx, succeeding))
	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, failing)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_StatsAndReset(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	require.NoError(t, cb.Execute(ctx, succeeding))
	require.Error(t, cb.Execute(ctx, failing))

	stats := cb.GetStats()
	assert.Equal(t, "test", stats.Name)
	assert.Equal(t, "open", stats.State)
	assert.Equal(t, uint32(1), stats.Failures)
	assert.Equal(t, uint32(1), stats.Successes)
	assert.Equal(t, uint32(2), stats.Requests)

	cb.Reset()
	stats = cb.GetStats()
	assert.Equal(t, "closed", stats.State)
	assert.Zero(t, stats.Requests)
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("inbound", 0, 0, testLogger())
	assert.Equal(t, uint32(5), cb.maxFailures)
	assert.Equal(t, 30*time.Second, cb.timeout)
}
