package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// fakeClock lets tests move past the open timeout without sleeping
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

func newTestBreaker(maxFailures uint32, timeout time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cb := NewWithLogger("gateway:test", maxFailures, timeout, quietLogger())
	cb.now = clock.Now
	return cb, clock
}

var errBoom = errors.New("gateway unavailable")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "CLOSED"},
		{StateOpen, "OPEN"},
		{StateHalfOpen, "HALF_OPEN"},
		{State(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	cb := New("svc", 0, time.Second)

	assert.Equal(t, uint32(1), cb.maxFailures)
	assert.Equal(t, uint32(defaultHalfOpenMaxCalls), cb.halfOpenMaxCalls)
	assert.Equal(t, StateClosed, cb.GetStats().State)
	assert.NotNil(t, cb.logger)
}

func TestExecute_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	}
	assert.Equal(t, StateOpen, cb.GetStats().State)

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called, "open circuit must not call through")
	assert.True(t, IsCircuitBreakerError(err))
	assert.True(t, IsCircuitBreakerError(fmt.Errorf("wrapped: %w", err)))
}

func TestExecute_SuccessResetsFailureStreak(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	require.NoError(t, cb.Execute(ctx, succeed))
	require.Error(t, cb.Execute(ctx, fail))

	assert.Equal(t, StateClosed, cb.GetStats().State)
}

func TestExecute_HalfOpenRecovery(t *testing.T) {
	cb, clock := newTestBreaker(1, 30*time.Second)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	require.Equal(t, StateOpen, cb.GetStats().State)

	clock.Advance(31 * time.Second)
	for i := 0; i < defaultHalfOpenMaxCalls; i++ {
		require.NoError(t, cb.Execute(ctx, succeed))
	}
	assert.Equal(t, StateClosed, cb.GetStats().State)
}

func TestExecute_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(1, 30*time.Second)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	clock.Advance(time.Minute)

	require.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.GetStats().State)
}

func TestExecute_FailurePredicate(t *testing.T) {
	notFound := errors.New("USERNAME_NOT_OCCUPIED")
	cb, _ := newTestBreaker(1, time.Minute)
	cb.WithFailurePredicate(func(err error) bool { return !errors.Is(err, notFound) })

	err := cb.Execute(context.Background(), func(context.Context) error { return notFound })

	assert.ErrorIs(t, err, notFound)
	assert.Equal(t, StateClosed, cb.GetStats().State)
}

func TestExecute_ConcurrentCallsAreCounted(t *testing.T) {
	cb, _ := newTestBreaker(1000, time.Minute)
	var calls int64
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(context.Context) error {
				atomic.AddInt64(&calls, 1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), atomic.LoadInt64(&calls))
	assert.Equal(t, uint64(50), cb.GetStats().Requests)
}
