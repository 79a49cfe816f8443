package services

import (
	"context"
	"time"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
)

// AlertStore reads upstream alerts. The engine never writes through it.
type AlertStore interface {
	FetchActiveAlerts(ctx context.Context, alertType models.AlertType, since time.Time) ([]models.AlertRecord, error)
	HealthCheck(ctx context.Context) error
}

// MatchRepository is the append-only proposal store keyed by natural key
type MatchRepository interface {
	// Save returns the stored id and whether this call inserted the row
	Save(ctx context.Context, proposal *models.MatchProposal) (id string, inserted bool, err error)
	List(ctx context.Context, filter models.MatchFilter) ([]models.MatchProposal, error)
	UpdateStatus(ctx context.Context, id string, status models.ProposalStatus) error
	HealthCheck(ctx context.Context) error
}

// JobRepository records the lifecycle of each matching run
type JobRepository interface {
	Create(ctx context.Context, job *models.JobRecord) error
	UpdateState(ctx context.Context, runID string, state models.JobState) error
	Complete(ctx context.Context, runID string, state models.JobState, summary *models.JobSummary, errMsg string) error
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
