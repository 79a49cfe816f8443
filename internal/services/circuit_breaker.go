package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen is returned without calling the protected function while the breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState is the breaker position
type CircuitBreakerState int

const (
	Closed CircuitBreakerState = iota
	Open
	HalfOpen
)

// String returns the lower-case state name
func (s CircuitBreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" mapstructure:"failure_threshold"` // consecutive failures before opening
	SuccessThreshold int           `json:"success_threshold" mapstructure:"success_threshold"` // half-open successes before closing
	OpenTimeout      time.Duration `json:"open_timeout" mapstructure:"open_timeout"`           // wait before probing half-open
	MaxProbes        int           `json:"max_probes" mapstructure:"max_probes"`               // concurrent calls allowed half-open
}

// DefaultCircuitBreakerConfig opens after 5 failures for 30 seconds
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		MaxProbes:        1,
	}
}

// CircuitBreakerStats holds statistics for the circuit breaker
type CircuitBreakerStats struct {
	State           string    `json:"state"`
	TotalRequests   int64     `json:"total_requests"`
	Rejected        int64     `json:"rejected"`
	Failures        int64     `json:"failures"`
	LastFailureTime time.Time `json:"last_failure_time"`
	StateChanges    int64     `json:"state_changes"`
}

// CircuitBreaker stops calling a failing downstream, such as the event
// publisher, until it has had time to recover. The protected function runs
// without the breaker lock held.
type CircuitBreaker struct {
	name    string
	config  CircuitBreakerConfig
	logger  *logrus.Logger
	now     func() time.Time
	mu      sync.Mutex
	state   CircuitBreakerState
	fails   int
	passes  int
	probes  int
	changed time.Time
	stats   CircuitBreakerStats
}

// NewCircuitBreaker creates a new circuit breaker; zero config fields take the defaults
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger *logrus.Logger) *CircuitBreaker {
	defaults := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = defaults.OpenTimeout
	}
	if config.MaxProbes <= 0 {
		config.MaxProbes = defaults.MaxProbes
	}

	return &CircuitBreaker{
		name:    name,
		config:  config,
		logger:  logger,
		now:     time.Now,
		state:   Closed,
		changed: time.Now(),
	}
}

// Execute runs fn unless the breaker is open.
//
// Parameters:
//   - ctx: Passed through to fn.
//   - fn: The protected call.
//
// Returns:
//   - ErrCircuitOpen when rejected, otherwise fn's error.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.acquire() {
		cb.logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.name,
			"state":           cb.GetState().String(),
		}).Warn("Circuit breaker is open, rejecting request")
		return ErrCircuitOpen
	}

	err := fn(ctx)
	cb.release(err)
	return err
}

func (cb *CircuitBreaker) acquire() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.TotalRequests++
	if cb.state == Open && cb.now().Sub(cb.changed) >= cb.config.OpenTimeout {
		cb.setState(HalfOpen)
	}

	switch cb.state {
	case Closed:
		return true
	case HalfOpen:
		if cb.probes < cb.config.MaxProbes {
			cb.probes++
			return true
		}
	}
	cb.stats.Rejected++
	return false
}

func (cb *CircuitBreaker) release(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == HalfOpen && cb.probes > 0 {
		cb.probes--
	}

	if err == nil {
		cb.fails = 0
		if cb.state == HalfOpen {
			cb.passes++
			if cb.passes >= cb.config.SuccessThreshold {
				cb.setState(Closed)
			}
		}
		return
	}

	cb.stats.Failures++
	cb.stats.LastFailureTime = cb.now()
	cb.fails++

	if cb.state == HalfOpen || cb.fails >= cb.config.FailureThreshold {
		cb.setState(Open)
	}

	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"state":           cb.state.String(),
		"failure_count":   cb.fails,
		"error":           err.Error(),
	}).Warn("Circuit breaker: failed execution")
}

// setState must be called with the lock held
func (cb *CircuitBreaker) setState(next CircuitBreakerState) {
	if cb.state == next {
		return
	}
	previous := cb.state
	cb.state = next
	cb.changed = cb.now()
	cb.passes = 0
	cb.probes = 0
	if next == Closed {
		cb.fails = 0
	}
	cb.stats.StateChanges++

	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"old_state":       previous.String(),
		"new_state":       next.String(),
	}).Info("Circuit breaker state changed")
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns the current statistics
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	stats := cb.stats
	stats.State = cb.state.String()
	return stats
}

// Reset manually closes the breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(Closed)
	cb.fails = 0
}
