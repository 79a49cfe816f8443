package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
)

// TriggerSource labels scheduled runs in job records
const TriggerSource = "schedule"

// JobRunner executes one matching job
type JobRunner interface {
	Run(ctx context.Context, trigger models.JobTrigger) (*models.JobSummary, error)
}

// Cleaner prunes expired job records
type Cleaner interface {
	RunCleanup(ctx context.Context) (int64, error)
}

// Config holds the cron expressions, with a leading seconds field
type Config struct {
	MatchingCron string
	CleanupCron  string
	LookbackDays int
}

// Scheduler runs matching and retention on cron schedules. A run still in
// progress when its next tick fires makes that tick a no-op.
type Scheduler struct {
	cron    *cron.Cron
	runner  JobRunner
	cleaner Cleaner
	config  Config
	ctx     context.Context
	logger  *logrus.Logger
}

// NewScheduler creates a new Scheduler. ctx bounds every scheduled run.
func NewScheduler(ctx context.Context, runner JobRunner, cleaner Cleaner, config Config, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		runner:  runner,
		cleaner: cleaner,
		config:  config,
		ctx:     ctx,
		logger:  logger,
	}
}

// RegisterAll registers the matching and cleanup tasks. An empty expression
// leaves its task unscheduled.
func (s *Scheduler) RegisterAll() error {
	if s.config.MatchingCron != "" && s.runner != nil {
		if _, err := s.cron.AddFunc(s.config.MatchingCron, s.RunMatchingNow); err != nil {
			return fmt.Errorf("failed to register matching task: %w", err)
		}
	}
	if s.config.CleanupCron != "" && s.cleaner != nil {
		if _, err := s.cron.AddFunc(s.config.CleanupCron, s.RunCleanupNow); err != nil {
			return fmt.Errorf("failed to register cleanup task: %w", err)
		}
	}
	return nil
}

// Entries returns the number of registered tasks
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Start starts the cron scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithField("tasks", s.Entries()).Info("Scheduler started")
}

// Stop stops the scheduler and waits for running tasks
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// RunMatchingNow runs a scheduled matching job immediately
func (s *Scheduler) RunMatchingNow() {
	trigger := models.JobTrigger{
		Job:           models.MatchingJobName,
		LookbackDays:  s.config.LookbackDays,
		TriggerSource: TriggerSource,
	}
	summary, err := s.runner.Run(s.ctx, trigger)
	if err != nil {
		s.logger.WithError(err).Error("Scheduled matching job failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"job_id":              summary.JobID,
		"proposals_persisted": summary.Statistics.ProposalsPersisted,
	}).Info("Scheduled matching job completed")
}

// RunCleanupNow runs retention immediately
func (s *Scheduler) RunCleanupNow() {
	removed, err := s.cleaner.RunCleanup(s.ctx)
	if err != nil {
		s.logger.WithError(err).Error("Scheduled cleanup failed")
		return
	}
	s.logger.WithField("removed", removed).Debug("Scheduled cleanup completed")
}
