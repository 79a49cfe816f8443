package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/logging"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/telemetry"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/utils"
)

// ErrJobCancelled is returned with the partial summary of a cancelled run
var ErrJobCancelled = errors.New("job cancelled")

// DefaultConcurrency is the size of the per-funder worker pool
const DefaultConcurrency = 4

// Notifier publishes the outbound events of a run
type Notifier interface {
	NotifyMatchFound(ctx context.Context, p *models.MatchProposal) (bool, error)
	NotifyApprovalNeeded(ctx context.Context, p *models.MatchProposal) (bool, error)
	NotifyJobResult(ctx context.Context, summary *models.JobSummary) error
}

// OrchestratorConfig tunes a matching run
type OrchestratorConfig struct {
	Concurrency int
}

// OrchestratorDeps are the collaborators of the orchestrator. Jobs and
// Notifier may be nil; every other field is required.
// Assembler produces the scored candidates of one funder
type Assembler interface {
	Assemble(opportunities []models.OpportunityAlert, funder models.FunderAlert) []*Candidate
}

type OrchestratorDeps struct {
	Alerts    AlertStore
	Matches   MatchRepository
	Jobs      JobRepository
	Assembler Assembler
	Notifier  Notifier
	Recovery  *ErrorRecoveryManager
	Timeouts  *TimeoutManager
}

// MatchOrchestrator runs matching jobs through
// Idle → FetchingAlerts → Scoring → Persisting → NotifyEligible → Done.
// Single units fail in isolation; only an unreachable store at job start
// aborts the run.
type MatchOrchestrator struct {
	alerts      AlertStore
	matches     MatchRepository
	jobs        JobRepository
	assembler   Assembler
	notifier    Notifier
	recovery    *ErrorRecoveryManager
	timeouts    *TimeoutManager
	concurrency int
	logger      *logrus.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewMatchOrchestrator creates a new orchestrator.
//
// Parameters:
//   - deps: Stores, assembler and notifier.
//   - config: Pool size; zero means DefaultConcurrency.
//   - logger: Logger for job progress.
//
// Returns:
//   - The orchestrator.
func NewMatchOrchestrator(deps OrchestratorDeps, config OrchestratorConfig, logger *logrus.Logger) *MatchOrchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	if deps.Recovery == nil {
		deps.Recovery = NewErrorRecoveryManager(logger)
	}
	if deps.Timeouts == nil {
		deps.Timeouts = NewTimeoutManager(nil, logger)
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	return &MatchOrchestrator{
		alerts:      deps.Alerts,
		matches:     deps.Matches,
		jobs:        deps.Jobs,
		assembler:   deps.Assembler,
		notifier:    deps.Notifier,
		recovery:    deps.Recovery,
		timeouts:    deps.Timeouts,
		concurrency: config.Concurrency,
		logger:      logger,
		tracer:      telemetry.Tracer(),
		now:         time.Now,
	}
}

// funderWork carries one funder through the pooled phases
type funderWork struct {
	funder    models.FunderAlert
	proposals []*models.MatchProposal
	scored    bool
}

// jobRun is the mutable state of one run
type jobRun struct {
	mu      sync.Mutex
	state   models.JobState
	summary models.JobSummary
	log     *logrus.Entry
}

func (r *jobRun) count(update func(s *models.JobStatistics)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	update(&r.summary.Statistics)
}

// Run executes one matching job.
//
// Parameters:
//   - ctx: Cancelling it stops the run at the next funder boundary.
//   - trigger: The job trigger; omitted fields take their defaults.
//
// Returns:
//   - The run summary, also when the run failed or was cancelled.
//   - An InputDataError for an unusable trigger, an InfrastructureError when
//     a store is unreachable at job start, ErrJobCancelled on cancellation.
func (o *MatchOrchestrator) Run(ctx context.Context, trigger models.JobTrigger) (*models.JobSummary, error) {
	trigger = trigger.Normalize()
	if err := trigger.Validate(); err != nil {
		return nil, err
	}

	started := o.now().UTC()
	run := &jobRun{
		state: models.JobStateIdle,
		summary: models.JobSummary{
			Job:           trigger.Job,
			JobID:         trigger.Key(started),
			RunID:         uuid.NewString(),
			State:         models.JobStateIdle,
			StartedAt:     started,
			LookbackDays:  trigger.LookbackDays,
			TriggerSource: trigger.TriggerSource,
		},
	}
	run.log = logging.WithComponent(o.logger, "orchestrator").WithFields(logrus.Fields{
		logging.FieldJobID: run.summary.JobID,
		logging.FieldRunID: run.summary.RunID,
	})

	ctx, span := o.tracer.Start(ctx, "matching.job", trace.WithAttributes(
		attribute.String("job.id", run.summary.JobID),
		attribute.String("job.run_id", run.summary.RunID),
		attribute.Int("job.lookback_days", trigger.LookbackDays),
		attribute.String("job.trigger_source", trigger.TriggerSource),
	))
	defer span.End()

	run.log.WithField("lookback_days", trigger.LookbackDays).Info("Matching job started")

	if infraErr := o.start(ctx, run); infraErr != nil {
		return o.abort(ctx, span, run, infraErr)
	}

	o.transition(ctx, run, models.JobStateFetchingAlerts)
	opportunities, funders, infraErr := o.fetch(ctx, run, started.AddDate(0, 0, -trigger.LookbackDays))
	if infraErr != nil {
		return o.abort(ctx, span, run, infraErr)
	}

	work := make([]*funderWork, len(funders))
	for i, f := range funders {
		work[i] = &funderWork{funder: f}
	}

	o.transition(ctx, run, models.JobStateScoring)
	o.pool(ctx, run, work, func(ctx context.Context, w *funderWork) {
		o.scoreFunder(ctx, run, w, opportunities)
	})
	if ctx.Err() != nil {
		return o.cancel(ctx, span, run)
	}

	o.transition(ctx, run, models.JobStatePersisting)
	var eligible []*models.MatchProposal
	var eligibleMu sync.Mutex
	o.pool(ctx, run, work, func(ctx context.Context, w *funderWork) {
		persisted := o.persistFunder(context.WithoutCancel(ctx), run, w)
		eligibleMu.Lock()
		eligible = append(eligible, persisted...)
		eligibleMu.Unlock()
		run.count(func(s *models.JobStatistics) { s.FundersProcessed++ })
	})
	if ctx.Err() != nil {
		return o.cancel(ctx, span, run)
	}

	o.transition(ctx, run, models.JobStateNotifyEligible)
	o.notify(ctx, run, eligible)

	o.transition(ctx, run, models.JobStateDone)
	summary := o.finish(ctx, run, models.JobStatusCompleted, "")
	span.SetAttributes(
		attribute.Int("job.proposals_persisted", summary.Statistics.ProposalsPersisted),
		attribute.Int("job.errors", summary.Statistics.Errors),
	)
	return summary, nil
}

// start verifies both stores answer and records the run
func (o *MatchOrchestrator) start(ctx context.Context, run *jobRun) *utils.InfrastructureError {
	checks := []struct {
		component string
		check     func(context.Context) error
	}{
		{"alert_store", o.alerts.HealthCheck},
		{"match_repository", o.matches.HealthCheck},
	}
	for _, c := range checks {
		if err := o.timeouts.Run(ctx, OperationHealthCheck, c.check); err != nil {
			return utils.NewInfrastructureError(c.component, err)
		}
	}

	if o.jobs == nil {
		return nil
	}
	record := &models.JobRecord{
		RunID:         run.summary.RunID,
		JobID:         run.summary.JobID,
		LookbackDays:  run.summary.LookbackDays,
		TriggerSource: run.summary.TriggerSource,
		State:         models.JobStateIdle,
		StartedAt:     run.summary.StartedAt,
	}
	err := o.recovery.ExecuteWithRetry(ctx, OperationJobRecord, func(ctx context.Context) error {
		return o.jobs.Create(ctx, record)
	})
	if err != nil {
		return utils.NewInfrastructureError("job_repository", err)
	}
	return nil
}

// fetch loads and decodes the active alerts; undecodable records are skipped
func (o *MatchOrchestrator) fetch(ctx context.Context, run *jobRun, since time.Time) ([]models.OpportunityAlert, []models.FunderAlert, *utils.InfrastructureError) {
	var opportunityRows, funderRows []models.AlertRecord
	err := o.timeouts.Run(ctx, OperationFetch, func(ctx context.Context) error {
		var err error
		if opportunityRows, err = o.alerts.FetchActiveAlerts(ctx, models.AlertTypeInvestment, since); err != nil {
			return err
		}
		funderRows, err = o.alerts.FetchActiveAlerts(ctx, models.AlertTypeFunding, since)
		return err
	})
	if err != nil {
		return nil, nil, utils.NewInfrastructureError("alert_store", err)
	}

	skipped := 0
	opportunities := make([]models.OpportunityAlert, 0, len(opportunityRows))
	for _, rec := range opportunityRows {
		opp, err := models.DecodeOpportunity(rec)
		if err != nil {
			skipped++
			run.log.WithError(err).Warn("Skipping opportunity alert")
			continue
		}
		opportunities = append(opportunities, opp)
	}

	funders := make([]models.FunderAlert, 0, len(funderRows))
	for _, rec := range funderRows {
		funder, err := models.DecodeFunder(rec)
		if err != nil {
			skipped++
			run.log.WithError(err).Warn("Skipping funder alert")
			continue
		}
		funders = append(funders, funder)
	}

	run.count(func(s *models.JobStatistics) {
		s.OpportunitiesFetched = len(opportunities)
		s.FundersFetched = len(funders)
		s.InputsSkipped = skipped
	})
	run.log.WithFields(logrus.Fields{
		"opportunities": len(opportunities),
		"funders":       len(funders),
		"skipped":       skipped,
	}).Info("Fetched active alerts")
	return opportunities, funders, nil
}

// pool runs fn for every funder with bounded parallelism. Funders not yet
// started when ctx is cancelled are skipped.
func (o *MatchOrchestrator) pool(ctx context.Context, run *jobRun, work []*funderWork, fn func(context.Context, *funderWork)) {
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for _, w := range work {
		w := w
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			fn(ctx, w)
			return nil
		})
	}
	_ = g.Wait()
}

// scoreFunder assembles and classifies the proposals of one funder in memory
func (o *MatchOrchestrator) scoreFunder(ctx context.Context, run *jobRun, w *funderWork, opportunities []models.OpportunityAlert) {
	_, span := o.tracer.Start(ctx, "matching.funder", trace.WithAttributes(
		attribute.String("funder.id", w.funder.ID),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			span.SetStatus(codes.Error, "panic during assembly")
			run.log.WithFields(logrus.Fields{
				logging.FieldFunderID: w.funder.ID,
				"panic":               fmt.Sprint(r),
			}).Error("Bundle assembly panicked, recording failed proposal")

			w.proposals = o.assemblyFailure(w.funder, opportunities, run.summary.JobID, r)
			w.scored = len(w.proposals) > 0
			if !w.scored {
				run.count(func(s *models.JobStatistics) { s.Errors++ })
			}
		}
	}()

	candidates := o.assembler.Assemble(opportunities, w.funder)
	proposals := make([]*models.MatchProposal, 0, len(candidates))
	for _, c := range candidates {
		proposals = append(proposals, o.buildProposal(c, w.funder, run.summary.JobID))
	}
	w.proposals = proposals
	w.scored = true

	span.SetAttributes(
		attribute.Int("funder.candidates", len(candidates)),
		attribute.Int("funder.proposals", len(proposals)),
	)
	run.count(func(s *models.JobStatistics) { s.CandidatesScored += len(candidates) })
}

// assemblyFailure stands in for a funder whose assembly panicked: one failed
// proposal over the opportunities in the funder's sectors, or over all
// opportunities when none match.
func (o *MatchOrchestrator) assemblyFailure(funder models.FunderAlert, opportunities []models.OpportunityAlert, jobID string, cause any) []*models.MatchProposal {
	accepted := make(map[string]bool)
	for _, sector := range funder.Sectors() {
		accepted[sector] = true
	}
	var members []models.OpportunityAlert
	for _, opp := range opportunities {
		if accepted[opp.SectorKey()] {
			members = append(members, opp)
		}
	}
	if len(members) == 0 {
		members = opportunities
	}
	if len(members) == 0 {
		return nil
	}

	c := &Candidate{Members: members, Total: TotalAmount(members)}
	c.Err = utils.NewScoringError(funder.ID, c.MemberIDs(), fmt.Errorf("panic during assembly: %v", cause))
	return []*models.MatchProposal{o.buildProposal(c, funder, jobID)}
}

// buildProposal turns a selected or failed candidate into a proposal
func (o *MatchOrchestrator) buildProposal(c *Candidate, funder models.FunderAlert, jobID string) *models.MatchProposal {
	memberIDs := c.MemberIDs()
	p := &models.MatchProposal{
		NaturalKey:     models.NaturalKey(memberIDs, funder.ID, jobID),
		JobID:          jobID,
		MatchType:      models.MatchTypeForSize(len(memberIDs)),
		OpportunityIDs: memberIDs,
		FunderID:       funder.ID,
		TotalAmount:    c.Total,
		Status:         models.ProposalStatusProposed,
	}

	if c.Failed() {
		p.ConfidenceLevel = models.ConfidenceLow
		p.Failed = true
		p.FailureReason = failureReason(c.Err)
		return p
	}

	eval := c.Evaluation
	p.Scores = eval.Scores
	p.OverallScore = eval.Overall
	p.CriteriaMet = eval.CriteriaMet
	p.Warnings = eval.Warnings
	p.BundleMetrics = ComputeBundleMetrics(c.Members, eval.CriteriaMet)

	class := ClassifyConfidence(eval.Overall)
	p.ConfidenceLevel = class.Level
	p.Failed = class.Failed
	p.FailureReason = class.FailureReason
	p.RequiresApproval = class.Level == models.ConfidenceMedium && !class.Failed
	return p
}

func failureReason(err error) string {
	var scoringErr *utils.ScoringError
	if errors.As(err, &scoringErr) {
		return scoringErr.Summary()
	}
	if err == nil {
		return "scoring error"
	}
	return err.Error()
}

// persistFunder writes one funder's proposals in descending score order and
// returns those eligible for notification. Writes that still fail after the
// retry are dropped and counted.
func (o *MatchOrchestrator) persistFunder(ctx context.Context, run *jobRun, w *funderWork) []*models.MatchProposal {
	if !w.scored {
		return nil
	}

	var eligible []*models.MatchProposal
	for _, p := range w.proposals {
		var id string
		var inserted bool
		err := o.recovery.ExecuteWithRetry(ctx, OperationProposalPersist, func(ctx context.Context) error {
			return o.timeouts.Run(ctx, OperationPersist, func(ctx context.Context) error {
				var err error
				id, inserted, err = o.matches.Save(ctx, p)
				return err
			})
		})

		log := run.log.WithFields(logrus.Fields{
			logging.FieldFunderID:   p.FunderID,
			logging.FieldNaturalKey: p.NaturalKey,
			logging.FieldScore:      p.OverallScore.StringFixed(2),
			logging.FieldConfidence: string(p.ConfidenceLevel),
		})
		if err != nil {
			run.count(func(s *models.JobStatistics) { s.Errors++ })
			log.WithError(err).Error("Failed to persist proposal")
			continue
		}
		p.ID = id

		run.count(func(s *models.JobStatistics) {
			if inserted {
				s.ProposalsPersisted++
			} else {
				s.DuplicatesIgnored++
			}
			switch {
			case p.Failed:
				s.Failed++
			case p.ConfidenceLevel == models.ConfidenceHigh:
				s.High++
			case p.ConfidenceLevel == models.ConfidenceMedium:
				s.Medium++
			default:
				s.Low++
			}
		})
		log.WithFields(logrus.Fields{
			logging.FieldProposalID: id,
			"inserted":              inserted,
		}).Debug("Proposal persisted")

		if !p.Failed && (p.ConfidenceLevel == models.ConfidenceHigh || p.RequiresApproval) {
			eligible = append(eligible, p)
		}
	}
	return eligible
}

// notify publishes match and approval events. Publishing failures are counted
// and never fail the run.
func (o *MatchOrchestrator) notify(ctx context.Context, run *jobRun, eligible []*models.MatchProposal) {
	if o.notifier == nil {
		return
	}
	for _, p := range eligible {
		var sent bool
		var err error
		if p.ConfidenceLevel == models.ConfidenceHigh {
			sent, err = o.notifier.NotifyMatchFound(ctx, p)
		} else {
			sent, err = o.notifier.NotifyApprovalNeeded(ctx, p)
		}

		if err != nil {
			run.count(func(s *models.JobStatistics) { s.NotificationErrors++ })
			run.log.WithError(err).WithField(logging.FieldProposalID, p.ID).Warn("Failed to publish notification")
			continue
		}
		if !sent {
			continue
		}
		run.count(func(s *models.JobStatistics) {
			if p.ConfidenceLevel == models.ConfidenceHigh {
				s.NotificationsEmitted++
			} else {
				s.ApprovalsRequested++
			}
		})
	}
}

// transition moves the run to next and records it; recording is best effort
func (o *MatchOrchestrator) transition(ctx context.Context, run *jobRun, next models.JobState) {
	run.mu.Lock()
	current := run.state
	if !current.CanTransition(next) {
		run.mu.Unlock()
		run.log.WithFields(logrus.Fields{"from": current, "to": next}).Warn("Ignoring invalid job state transition")
		return
	}
	run.state = next
	run.summary.State = next
	run.mu.Unlock()

	run.log.WithField("state", string(next)).Debug("Job state changed")
	if o.jobs == nil || next.IsTerminal() {
		return
	}
	if err := o.jobs.UpdateState(ctx, run.summary.RunID, next); err != nil {
		run.log.WithError(err).Warn("Failed to record job state")
	}
}

func (o *MatchOrchestrator) abort(ctx context.Context, span trace.Span, run *jobRun, infraErr *utils.InfrastructureError) (*models.JobSummary, error) {
	span.RecordError(infraErr)
	span.SetStatus(codes.Error, infraErr.Error())
	o.transition(ctx, run, models.JobStateFailed)
	run.log.WithError(infraErr).Error("Matching job aborted")
	return o.finish(ctx, run, models.JobStatusFailed, infraErr.Error()), infraErr
}

func (o *MatchOrchestrator) cancel(ctx context.Context, span trace.Span, run *jobRun) (*models.JobSummary, error) {
	span.SetStatus(codes.Error, ErrJobCancelled.Error())
	o.transition(ctx, run, models.JobStateFailed)
	run.count(func(s *models.JobStatistics) { s.FundersCancelled = s.FundersFetched - s.FundersProcessed })
	run.log.Warn("Matching job cancelled")
	return o.finish(ctx, run, models.JobStatusCancelled, ErrJobCancelled.Error()), ErrJobCancelled
}

// finish stamps, records, logs and publishes the summary. It runs detached
// from ctx so cancelled runs are still recorded.
func (o *MatchOrchestrator) finish(ctx context.Context, run *jobRun, status models.JobStatus, errMsg string) *models.JobSummary {
	ctx = context.WithoutCancel(ctx)

	run.mu.Lock()
	completed := o.now().UTC()
	run.summary.Status = status
	run.summary.Error = errMsg
	run.summary.CompletedAt = completed
	run.summary.DurationSeconds = completed.Sub(run.summary.StartedAt).Seconds()
	summary := run.summary
	run.mu.Unlock()

	if o.jobs != nil {
		err := o.recovery.ExecuteWithRetry(ctx, OperationJobRecord, func(ctx context.Context) error {
			return o.jobs.Complete(ctx, summary.RunID, summary.State, &summary, errMsg)
		})
		if err != nil {
			run.log.WithError(err).Warn("Failed to record job summary")
		}
	}

	stats := summary.Statistics
	run.log.WithFields(logrus.Fields{
		"status":              string(summary.Status),
		"duration_seconds":    summary.DurationSeconds,
		"funders_processed":   stats.FundersProcessed,
		"proposals_persisted": stats.ProposalsPersisted,
		"duplicates_ignored":  stats.DuplicatesIgnored,
		"high":                stats.High,
		"medium":              stats.Medium,
		"low":                 stats.Low,
		"failed":              stats.Failed,
		"errors":              stats.Errors,
	}).Info("Matching job finished")

	if o.notifier != nil {
		if err := o.notifier.NotifyJobResult(ctx, &summary); err != nil {
			run.log.WithError(err).Warn("Failed to publish job result")
		}
	}
	return &summary
}
