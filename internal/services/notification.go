package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/logging"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/messaging"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
)

// DedupStore remembers which proposals were already announced
type DedupStore interface {
	IsNotified(ctx context.Context, key string) (bool, error)
	MarkNotified(ctx context.Context, key string) (bool, error)
}

// NotificationSubjects are the destinations of the three outbound events
type NotificationSubjects struct {
	Found    string
	Approval string
	Result   string
}

// NotificationService publishes match events at-least-once. A dedup mark is
// checked before publishing and set afterwards, so a crash in between can
// only repeat an event, never lose one.
type NotificationService struct {
	publisher messaging.Publisher
	dedup     DedupStore
	breaker   *CircuitBreaker
	timeouts  *TimeoutManager
	subjects  NotificationSubjects
	logger    *logrus.Logger
}

// NewNotificationService creates a new notification service.
//
// Parameters:
//   - publisher: Transport the events are written to.
//   - dedup: Notification marks; nil publishes every time.
//   - subjects: Subject per event type.
//   - timeouts: Deadline source for publish calls; nil uses the defaults.
//   - logger: Logger for delivery diagnostics.
//
// Returns:
//   - A ready-to-use notification service.
func NewNotificationService(publisher messaging.Publisher, dedup DedupStore, subjects NotificationSubjects, timeouts *TimeoutManager, logger *logrus.Logger) *NotificationService {
	if logger == nil {
		logger = logrus.New()
	}
	if timeouts == nil {
		timeouts = NewTimeoutManager(nil, logger)
	}
	return &NotificationService{
		publisher: publisher,
		dedup:     dedup,
		breaker:   NewCircuitBreaker("notifications", DefaultCircuitBreakerConfig(), logger),
		timeouts:  timeouts,
		subjects:  subjects,
		logger:    logger,
	}
}

// NotifyMatchFound announces a high-confidence proposal.
// Returns true when an event was published, false when it had already been sent.
func (ns *NotificationService) NotifyMatchFound(ctx context.Context, p *models.MatchProposal) (bool, error) {
	event := models.NewMatchFoundEvent(p)
	event.Summary = MatchSummary(p)
	return ns.publishOnce(ctx, models.EventMatchFound, ns.subjects.Found, p, event)
}

// NotifyApprovalNeeded asks reviewers to look at a medium-confidence proposal
func (ns *NotificationService) NotifyApprovalNeeded(ctx context.Context, p *models.MatchProposal) (bool, error) {
	return ns.publishOnce(ctx, models.EventMatchApprovalNeeded, ns.subjects.Approval, p, models.NewApprovalNeededEvent(p))
}

// NotifyJobResult publishes the summary of a finished run. Summaries are not deduplicated.
func (ns *NotificationService) NotifyJobResult(ctx context.Context, summary *models.JobSummary) error {
	if summary == nil {
		return fmt.Errorf("job summary is nil")
	}
	return ns.publish(ctx, models.EventMatchResult, ns.subjects.Result, summary)
}

// GetBreakerStats exposes the publish circuit breaker counters
func (ns *NotificationService) GetBreakerStats() CircuitBreakerStats {
	return ns.breaker.GetStats()
}

func (ns *NotificationService) publishOnce(ctx context.Context, eventType models.EventType, subject string, p *models.MatchProposal, payload any) (bool, error) {
	key := DedupKey(eventType, p.NaturalKey)
	log := ns.logger.WithFields(logrus.Fields{
		logging.FieldProposalID: p.ID,
		logging.FieldNaturalKey: p.NaturalKey,
		"event":                 string(eventType),
	})

	if ns.dedup != nil {
		sent, err := ns.dedup.IsNotified(ctx, key)
		if err != nil {
			log.WithError(err).Warn("Dedup lookup failed, publishing anyway")
		} else if sent {
			log.Debug("Notification already sent")
			return false, nil
		}
	}

	if err := ns.publish(ctx, eventType, subject, payload); err != nil {
		return false, err
	}

	if ns.dedup != nil {
		if _, err := ns.dedup.MarkNotified(ctx, key); err != nil {
			log.WithError(err).Warn("Failed to record notification mark")
		}
	}
	log.Info("Notification published")
	return true, nil
}

func (ns *NotificationService) publish(ctx context.Context, eventType models.EventType, subject string, payload any) error {
	data, err := messaging.EncodeEvent(eventType, payload)
	if err != nil {
		return err
	}
	err = ns.breaker.Execute(ctx, func(ctx context.Context) error {
		return ns.timeouts.Run(ctx, OperationPublish, func(ctx context.Context) error {
			return ns.publisher.Publish(ctx, subject, data)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", eventType, subject, err)
	}
	return nil
}

// DedupKey scopes a natural key to one event type
func DedupKey(eventType models.EventType, naturalKey string) string {
	return string(eventType) + ":" + naturalKey
}

// MatchSummary renders a one-line description of a proposal for people
func MatchSummary(p *models.MatchProposal) string {
	title := cases.Title(language.English)
	subject := fmt.Sprintf("%d opportunities", len(p.OpportunityIDs))
	if len(p.OpportunityIDs) == 1 {
		subject = "opportunity " + p.OpportunityIDs[0]
	}
	if p.BundleMetrics != nil && p.BundleMetrics.Name != "" {
		subject = p.BundleMetrics.Name
	}
	return fmt.Sprintf("%s %s match for funder %s: %s (score %s)",
		title.String(string(p.ConfidenceLevel)),
		string(p.MatchType),
		p.FunderID,
		subject,
		p.OverallScore.StringFixed(2),
	)
}
