package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
	"github.com/jackc/pgx/v5"
)

// ErrJobNotFound is returned when a run id has no record
var ErrJobNotFound = errors.New("matching job not found")

const (
	insertJobSQL = `INSERT INTO matching_jobs (run_id, job_id, lookback_days, trigger_source, state, started_at)
	VALUES ($1, $2, $3, $4, $5, $6)`
	updateJobStateSQL = `UPDATE matching_jobs SET state = $2 WHERE run_id = $1`
	completeJobSQL    = `UPDATE matching_jobs SET state = $2, completed_at = $3, summary = $4, error = $5 WHERE run_id = $1`
	selectJobSQL      = `SELECT run_id, job_id, lookback_days, trigger_source, state, started_at, completed_at, summary, error
	FROM matching_jobs WHERE run_id = $1`
	pruneJobsSQL = `DELETE FROM matching_jobs WHERE started_at < $1 AND state IN ($2, $3)`
)

// PostgresJobRepository records one row per matching run
type PostgresJobRepository struct {
	pool DatabasePool
}

func NewPostgresJobRepository(pool DatabasePool) *PostgresJobRepository {
	return &PostgresJobRepository{pool: pool}
}

func (r *PostgresJobRepository) Create(ctx context.Context, job *models.JobRecord) error {
	_, err := r.pool.Exec(ctx, insertJobSQL,
		job.RunID, job.JobID, job.LookbackDays, job.TriggerSource, string(job.State), job.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create job record: %w", err)
	}
	return nil
}

func (r *PostgresJobRepository) UpdateState(ctx context.Context, runID string, state models.JobState) error {
	tag, err := r.pool.Exec(ctx, updateJobStateSQL, runID, string(state))
	if err != nil {
		return fmt.Errorf("failed to update job state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Complete stores the terminal state together with the run summary
func (r *PostgresJobRepository) Complete(ctx context.Context, runID string, state models.JobState, summary *models.JobSummary, errMsg string) error {
	encoded, err := encodeSummary(summary)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, completeJobSQL, runID, string(state), time.Now().UTC(), encoded, errMsg)
	if err != nil {
		return fmt.Errorf("failed to complete job record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *PostgresJobRepository) Get(ctx context.Context, runID string) (*models.JobRecord, error) {
	var (
		job         models.JobRecord
		completedAt *time.Time
		summary     []byte
	)
	err := r.pool.QueryRow(ctx, selectJobSQL, runID).Scan(
		&job.RunID, &job.JobID, &job.LookbackDays, &job.TriggerSource, &job.State,
		&job.StartedAt, &completedAt, &summary, &job.Error,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job record: %w", err)
	}
	job.CompletedAt = completedAt
	if job.Summary, err = decodeSummary(summary); err != nil {
		return nil, err
	}
	return &job, nil
}

// PruneBefore deletes finished runs started before cutoff
func (r *PostgresJobRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, pruneJobsSQL, cutoff.UTC(), string(models.JobStateDone), string(models.JobStateFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to prune job records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func encodeSummary(summary *models.JobSummary) (any, error) {
	if summary == nil {
		return nil, nil
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job summary: %w", err)
	}
	return string(raw), nil
}

func decodeSummary(raw []byte) (*models.JobSummary, error) {
	if !isJSONPresent(raw) {
		return nil, nil
	}
	var summary models.JobSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, fmt.Errorf("failed to decode job summary: %w", err)
	}
	return &summary, nil
}
