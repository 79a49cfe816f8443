package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultJobRetentionDays keeps job records for roughly a quarter
const DefaultJobRetentionDays = 90

// CleanupConfig defines retention of matching job records. Proposals are
// append-only and never pruned.
type CleanupConfig struct {
	JobRetentionDays int `yaml:"job_retention_days" mapstructure:"job_retention_days"`
}

// CleanupService prunes finished job records past their retention
type CleanupService struct {
	jobs                 JobRepository
	config               CleanupConfig
	errorRecoveryManager *ErrorRecoveryManager
	logger               *logrus.Logger
	now                  func() time.Time
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(jobs JobRepository, config CleanupConfig, erm *ErrorRecoveryManager, logger *logrus.Logger) *CleanupService {
	if logger == nil {
		logger = logrus.New()
	}
	if erm == nil {
		erm = NewErrorRecoveryManager(logger)
	}
	if config.JobRetentionDays <= 0 {
		config.JobRetentionDays = DefaultJobRetentionDays
	}
	return &CleanupService{
		jobs:                 jobs,
		config:               config,
		errorRecoveryManager: erm,
		logger:               logger,
		now:                  time.Now,
	}
}

// RunCleanup deletes terminal job records that started before the cutoff.
//
// Parameters:
//   - ctx: Bounds the delete, including retries.
//
// Returns:
//   - The number of records removed.
//   - Error if the delete keeps failing.
func (c *CleanupService) RunCleanup(ctx context.Context) (int64, error) {
	cutoff := c.now().UTC().AddDate(0, 0, -c.config.JobRetentionDays)

	var removed int64
	err := c.errorRecoveryManager.ExecuteWithRetry(ctx, OperationJobRecord, func(ctx context.Context) error {
		n, err := c.jobs.PruneBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		removed = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup job records: %w", err)
	}

	if removed > 0 {
		c.logger.WithFields(logrus.Fields{
			"removed":        removed,
			"retention_days": c.config.JobRetentionDays,
			"cutoff":         cutoff.Format(time.RFC3339),
		}).Info("Cleaned up old job records")
	}
	return removed, nil
}
