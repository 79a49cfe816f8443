package services

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/utils"
)

// Operation names with registered retry policies
const (
	OperationProposalPersist = "proposal_persist"
	OperationJobRecord       = "job_record"
	OperationConnect         = "connect" // matches database.RedisConnectOperation
)

// RetryPolicy defines retry behavior for failed operations
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
	// Retryable limits which errors are retried; nil retries every error.
	Retryable func(error) bool
}

// ErrorRecoveryManager applies named retry policies and owns the circuit
// breakers protecting downstream calls.
type ErrorRecoveryManager struct {
	logger          *logrus.Logger
	retryPolicies   map[string]*RetryPolicy
	circuitBreakers map[string]*CircuitBreaker
	mu              sync.RWMutex
}

// NewErrorRecoveryManager creates a manager loaded with DefaultRetryPolicies
func NewErrorRecoveryManager(logger *logrus.Logger) *ErrorRecoveryManager {
	if logger == nil {
		logger = logrus.New()
	}
	erm := &ErrorRecoveryManager{
		logger:          logger,
		retryPolicies:   make(map[string]*RetryPolicy),
		circuitBreakers: make(map[string]*CircuitBreaker),
	}
	for name, policy := range DefaultRetryPolicies() {
		erm.retryPolicies[name] = policy
	}
	return erm
}

// RegisterRetryPolicy registers or replaces the policy for an operation
func (erm *ErrorRecoveryManager) RegisterRetryPolicy(name string, policy *RetryPolicy) {
	erm.mu.Lock()
	defer erm.mu.Unlock()
	erm.retryPolicies[name] = policy
}

// RetryPolicy returns the policy registered for an operation, or nil
func (erm *ErrorRecoveryManager) RetryPolicy(name string) *RetryPolicy {
	erm.mu.RLock()
	defer erm.mu.RUnlock()
	return erm.retryPolicies[name]
}

// CircuitBreaker returns the named breaker, creating it with config on first use
func (erm *ErrorRecoveryManager) CircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	erm.mu.Lock()
	defer erm.mu.Unlock()

	if cb, ok := erm.circuitBreakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, config, erm.logger)
	erm.circuitBreakers[name] = cb
	return cb
}

// CircuitBreakerStatus returns the statistics of every breaker
func (erm *ErrorRecoveryManager) CircuitBreakerStatus() map[string]CircuitBreakerStats {
	erm.mu.RLock()
	defer erm.mu.RUnlock()

	status := make(map[string]CircuitBreakerStats, len(erm.circuitBreakers))
	for name, cb := range erm.circuitBreakers {
		status[name] = cb.GetStats()
	}
	return status
}

// ExecuteWithRetry runs an operation under its named retry policy. Waiting
// between attempts is interrupted by context cancellation.
//
// Parameters:
//   - ctx: Context for cancellation.
//   - operationName: Name of the registered policy; unknown names run once.
//   - operation: The call to attempt.
//
// Returns:
//   - nil on the first successful attempt.
//   - The last operation error, or the context error when cancelled.
func (erm *ErrorRecoveryManager) ExecuteWithRetry(ctx context.Context, operationName string, operation func(ctx context.Context) error) error {
	start := time.Now()
	policy := erm.RetryPolicy(operationName)
	if policy == nil {
		policy = &RetryPolicy{}
	}

	delay := policy.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				erm.logger.WithFields(logrus.Fields{
					"operation": operationName,
					"attempts":  attempt + 1,
					"duration":  time.Since(start),
				}).Info("Operation recovered after retry")
			}
			return nil
		}
		lastErr = err

		if attempt == policy.MaxRetries || (policy.Retryable != nil && !policy.Retryable(err)) {
			break
		}

		erm.logger.WithFields(logrus.Fields{
			"operation": operationName,
			"attempt":   attempt + 1,
			"error":     err.Error(),
			"delay":     delay,
		}).Warn("Operation failed, retrying")

		timer := time.NewTimer(jitter(delay, policy.JitterEnabled))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		if policy.BackoffFactor > 1 {
			delay = time.Duration(float64(delay) * policy.BackoffFactor)
		}
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	erm.logger.WithFields(logrus.Fields{
		"operation": operationName,
		"duration":  time.Since(start),
		"error":     lastErr.Error(),
	}).Error("Operation failed after all retries")

	return lastErr
}

// jitter spreads a delay by up to ±12.5%
func jitter(delay time.Duration, enabled bool) time.Duration {
	if !enabled || delay <= 0 {
		return delay
	}
	spread := float64(delay) * 0.25 * (rand.Float64() - 0.5)
	return delay + time.Duration(spread)
}

// DefaultRetryPolicies returns the policies of the matching job. A failed
// proposal write is retried exactly once.
func DefaultRetryPolicies() map[string]*RetryPolicy {
	return map[string]*RetryPolicy{
		OperationProposalPersist: {
			MaxRetries:    1,
			InitialDelay:  200 * time.Millisecond,
			MaxDelay:      time.Second,
			BackoffFactor: 2.0,
			Retryable:     utils.IsPersistenceError,
		},
		OperationJobRecord: {
			MaxRetries:    2,
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      time.Second,
			BackoffFactor: 2.0,
			JitterEnabled: true,
		},
		OperationConnect: {
			MaxRetries:    4,
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2.0,
			JitterEnabled: true,
		},
	}
}
