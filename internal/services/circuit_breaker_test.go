package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(config CircuitBreakerConfig) (*CircuitBreaker, *time.Time) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	cb := NewCircuitBreaker("publisher", config, logger)
	now := time.Now()
	cb.now = func() time.Time { return now }
	return cb, &now
}

func failing(context.Context) error { return errors.New("downstream unavailable") }
func passing(context.Context) error { return nil }

func TestCircuitBreaker_ConfigDefaults(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{})
	assert.Equal(t, DefaultCircuitBreakerConfig(), cb.config)
	assert.Equal(t, Closed, cb.GetState())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 3, OpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.Error(t, cb.Execute(ctx, failing))
		assert.Equal(t, Closed, cb.GetState())
	}
	assert.Error(t, cb.Execute(ctx, failing))
	assert.Equal(t, Open, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	stats := cb.GetStats()
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, int64(3), stats.Failures)
	assert.Equal(t, "open", stats.State)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 2})
	ctx := context.Background()

	assert.Error(t, cb.Execute(ctx, failing))
	assert.NoError(t, cb.Execute(ctx, passing))
	assert.Error(t, cb.Execute(ctx, failing))
	assert.Equal(t, Closed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, now := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Second})
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failing))
	require.Equal(t, Open, cb.GetState())

	*now = now.Add(2 * time.Second)
	assert.NoError(t, cb.Execute(ctx, passing))
	assert.Equal(t, HalfOpen, cb.GetState())
	assert.NoError(t, cb.Execute(ctx, passing))
	assert.Equal(t, Closed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Second})
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failing))
	*now = now.Add(2 * time.Second)
	assert.Error(t, cb.Execute(ctx, failing))
	assert.Equal(t, Open, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ctx, passing), ErrCircuitOpen)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	require.Error(t, cb.Execute(context.Background(), failing))
	require.Equal(t, Open, cb.GetState())

	cb.Reset()
	assert.Equal(t, Closed, cb.GetState())
	assert.NoError(t, cb.Execute(context.Background(), passing))
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1000})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = cb.Execute(context.Background(), passing)
			} else {
				_ = cb.Execute(context.Background(), failing)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(50), cb.GetStats().TotalRequests)
}

func TestCircuitBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half-open", HalfOpen.String())
	assert.Equal(t, "unknown", CircuitBreakerState(9).String())
}
