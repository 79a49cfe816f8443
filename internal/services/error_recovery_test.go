package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/utils"
)

func newTestRecoveryManager() *ErrorRecoveryManager {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	erm := NewErrorRecoveryManager(logger)
	erm.RegisterRetryPolicy(OperationProposalPersist, &RetryPolicy{
		MaxRetries:   1,
		InitialDelay: time.Millisecond,
		Retryable:    utils.IsPersistenceError,
	})
	return erm
}

func TestDefaultRetryPolicies(t *testing.T) {
	policies := DefaultRetryPolicies()
	require.Contains(t, policies, OperationProposalPersist)
	assert.Equal(t, 1, policies[OperationProposalPersist].MaxRetries)
	assert.Contains(t, policies, OperationJobRecord)
}

func TestExecuteWithRetry_RecoversOnSecondAttempt(t *testing.T) {
	erm := newTestRecoveryManager()
	attempts := 0

	err := erm.ExecuteWithRetry(context.Background(), OperationProposalPersist, func(context.Context) error {
		attempts++
		if attempts == 1 {
			return utils.NewPersistenceError("save proposal", errors.New("connection reset"))
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestExecuteWithRetry_RetriesOnlyOnce(t *testing.T) {
	erm := newTestRecoveryManager()
	attempts := 0

	err := erm.ExecuteWithRetry(context.Background(), OperationProposalPersist, func(context.Context) error {
		attempts++
		return utils.NewPersistenceError("save proposal", errors.New("disk full"))
	})

	assert.True(t, utils.IsPersistenceError(err))
	assert.Equal(t, 2, attempts)
}

func TestExecuteWithRetry_SkipsNonRetryable(t *testing.T) {
	erm := newTestRecoveryManager()
	attempts := 0

	err := erm.ExecuteWithRetry(context.Background(), OperationProposalPersist, func(context.Context) error {
		attempts++
		return errors.New("invalid proposal")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestExecuteWithRetry_UnknownOperationRunsOnce(t *testing.T) {
	erm := newTestRecoveryManager()
	attempts := 0

	err := erm.ExecuteWithRetry(context.Background(), "unregistered", func(context.Context) error {
		attempts++
		return errors.New("boom")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestExecuteWithRetry_CancelledContext(t *testing.T) {
	erm := newTestRecoveryManager()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := erm.ExecuteWithRetry(ctx, OperationProposalPersist, func(context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestExecuteWithRetry_CancelledDuringBackoff(t *testing.T) {
	erm := newTestRecoveryManager()
	erm.RegisterRetryPolicy("slow", &RetryPolicy{MaxRetries: 3, InitialDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	attempts := 0
	start := time.Now()
	err := erm.ExecuteWithRetry(ctx, "slow", func(context.Context) error {
		attempts++
		return errors.New("unavailable")
	})

	assert.EqualError(t, err, "unavailable")
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestErrorRecoveryManager_CircuitBreakerRegistry(t *testing.T) {
	erm := newTestRecoveryManager()

	first := erm.CircuitBreaker("notifications", CircuitBreakerConfig{FailureThreshold: 1})
	second := erm.CircuitBreaker("notifications", CircuitBreakerConfig{FailureThreshold: 9})
	assert.Same(t, first, second)

	_ = first.Execute(context.Background(), failing)
	status := erm.CircuitBreakerStatus()
	require.Contains(t, status, "notifications")
	assert.Equal(t, "open", status["notifications"].State)
}

func TestJitter(t *testing.T) {
	assert.Equal(t, time.Second, jitter(time.Second, false))
	for i := 0; i < 20; i++ {
		d := jitter(time.Second, true)
		assert.GreaterOrEqual(t, d, 875*time.Millisecond)
		assert.LessOrEqual(t, d, 1125*time.Millisecond)
	}
}
