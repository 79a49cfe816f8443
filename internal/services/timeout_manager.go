package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Operation types with their own deadline
const (
	OperationFetch       = "fetch"
	OperationPersist     = "persist"
	OperationPublish     = "publish"
	OperationHealthCheck = "health_check"
)

// TimeoutConfig defines the deadline of each I/O step of a matching job
type TimeoutConfig struct {
	Fetch       time.Duration
	Persist     time.Duration
	Publish     time.Duration
	HealthCheck time.Duration
}

// DefaultTimeoutConfig returns the default deadlines
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Fetch:       30 * time.Second,
		Persist:     5 * time.Second,
		Publish:     5 * time.Second,
		HealthCheck: 3 * time.Second,
	}
}

// TimeoutManager derives bounded contexts for I/O. Scoring is never bounded
// because it does not block.
type TimeoutManager struct {
	config         *TimeoutConfig
	logger         *logrus.Logger
	defaultTimeout time.Duration
}

// NewTimeoutManager creates a new timeout manager; zero fields take the defaults
func NewTimeoutManager(config *TimeoutConfig, logger *logrus.Logger) *TimeoutManager {
	defaults := DefaultTimeoutConfig()
	if config == nil {
		config = defaults
	}
	merged := *config
	if merged.Fetch <= 0 {
		merged.Fetch = defaults.Fetch
	}
	if merged.Persist <= 0 {
		merged.Persist = defaults.Persist
	}
	if merged.Publish <= 0 {
		merged.Publish = defaults.Publish
	}
	if merged.HealthCheck <= 0 {
		merged.HealthCheck = defaults.HealthCheck
	}

	return &TimeoutManager{
		config:         &merged,
		logger:         logger,
		defaultTimeout: 30 * time.Second,
	}
}

// WithTimeout returns a child of parent bounded by the operation's deadline
func (tm *TimeoutManager) WithTimeout(parent context.Context, operationType string) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tm.TimeoutFor(operationType))
}

// Run executes fn under the operation's deadline and logs when it expires
func (tm *TimeoutManager) Run(parent context.Context, operationType string, fn func(ctx context.Context) error) error {
	ctx, cancel := tm.WithTimeout(parent, operationType)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	if err != nil && ctx.Err() == context.DeadlineExceeded && parent.Err() == nil {
		tm.logger.WithFields(logrus.Fields{
			"operation": operationType,
			"timeout":   tm.TimeoutFor(operationType),
			"elapsed":   time.Since(start),
		}).Warn("Operation timed out")
	}
	return err
}

// TimeoutFor returns the deadline of an operation type
func (tm *TimeoutManager) TimeoutFor(operationType string) time.Duration {
	switch operationType {
	case OperationFetch:
		return tm.config.Fetch
	case OperationPersist:
		return tm.config.Persist
	case OperationPublish:
		return tm.config.Publish
	case OperationHealthCheck:
		return tm.config.HealthCheck
	default:
		return tm.defaultTimeout
	}
}
