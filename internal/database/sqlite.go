package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/utils"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// SQLiteStore implements the alert store, match repository and job
// repository on a single embedded database. Timestamps are unix milliseconds.
type SQLiteStore struct {
	db     *sql.DB
	logger *logrus.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path and runs migrations
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logrus.New()
	}

	dsn := path
	if path != MemoryPath {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection serializes writers and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
	}

	logger.WithField("path", path).Info("SQLite store opened")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service20_alerts (
			id         TEXT PRIMARY KEY,
			alert_type TEXT NOT NULL,
			status     TEXT NOT NULL,
			criteria   TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_active ON service20_alerts(alert_type, status, created_at)`,

		`CREATE TABLE IF NOT EXISTS opportunity_matches (
			id                TEXT PRIMARY KEY,
			natural_key       TEXT NOT NULL UNIQUE,
			job_id            TEXT NOT NULL,
			match_type        TEXT NOT NULL,
			opportunity_ids   TEXT NOT NULL,
			funder_id         TEXT NOT NULL,
			sector_score      REAL NOT NULL,
			financial_score   REAL NOT NULL,
			timeline_score    REAL NOT NULL,
			roi_score         REAL NOT NULL,
			technical_score   REAL NOT NULL,
			overall_score     TEXT NOT NULL,
			confidence_level  TEXT NOT NULL,
			failed            INTEGER NOT NULL DEFAULT 0,
			failure_reason    TEXT NOT NULL DEFAULT '',
			requires_approval INTEGER NOT NULL DEFAULT 0,
			total_amount      TEXT NOT NULL DEFAULT '0',
			bundle_metrics    TEXT,
			criteria_met      TEXT NOT NULL DEFAULT '[]',
			warnings          TEXT NOT NULL DEFAULT '[]',
			status            TEXT NOT NULL DEFAULT 'proposed',
			created_at        INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_created ON opportunity_matches(created_at)`,

		`CREATE TABLE IF NOT EXISTS matching_jobs (
			run_id         TEXT PRIMARY KEY,
			job_id         TEXT NOT NULL,
			lookback_days  INTEGER NOT NULL,
			trigger_source TEXT NOT NULL DEFAULT '',
			state          TEXT NOT NULL,
			started_at     INTEGER NOT NULL,
			completed_at   INTEGER,
			summary        TEXT,
			error          TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_started ON matching_jobs(started_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SeedAlert writes an alert row. Upstream systems own alerts; this exists
// for local environments and tests.
func (s *SQLiteStore) SeedAlert(ctx context.Context, rec models.AlertRecord) error {
	criteria := string(rec.Criteria)
	if criteria == "" {
		criteria = "{}"
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO service20_alerts (id, alert_type, status, criteria, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, string(rec.AlertType), string(rec.Status), criteria, rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to seed alert %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) FetchActiveAlerts(ctx context.Context, alertType models.AlertType, since time.Time) ([]models.AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, alert_type, status, criteria, created_at FROM service20_alerts
		WHERE alert_type = ? AND status = ? AND created_at >= ?
		ORDER BY created_at DESC, id`,
		string(alertType), string(models.AlertStatusActive), since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query %s alerts: %w", alertType, err)
	}
	defer rows.Close()

	var records []models.AlertRecord
	for rows.Next() {
		var (
			rec       models.AlertRecord
			criteria  []byte
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.AlertType, &rec.Status, &criteria, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		rec.Criteria = criteria
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read alerts: %w", err)
	}
	return records, nil
}

// Save inserts the proposal unless its natural key already exists
func (s *SQLiteStore) Save(ctx context.Context, p *models.MatchProposal) (string, bool, error) {
	if err := prepareProposal(p, s.now()); err != nil {
		return "", false, fmt.Errorf("failed to validate proposal: %w", err)
	}
	args, err := proposalArgs(p)
	if err != nil {
		return "", false, fmt.Errorf("failed to encode proposal: %w", err)
	}
	args = append(args, p.CreatedAt.UnixMilli())

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO opportunity_matches (`+matchColumns+`) VALUES (`+placeholders+`)
		ON CONFLICT(natural_key) DO NOTHING`, args...)
	if err != nil {
		return "", false, utils.NewPersistenceError("save proposal", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, utils.NewPersistenceError("save proposal", err)
	}
	if affected == 1 {
		return p.ID, true, nil
	}

	var id string
	if err := s.db.QueryRowContext(ctx,
		`SELECT id FROM opportunity_matches WHERE natural_key = ?`, p.NaturalKey).Scan(&id); err != nil {
		return "", false, utils.NewPersistenceError("resolve duplicate proposal", err)
	}
	s.logger.WithFields(logrus.Fields{
		"natural_key": p.NaturalKey,
		"proposal_id": id,
	}).Debug("Proposal already stored")
	return id, false, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter models.MatchFilter) ([]models.MatchProposal, error) {
	query, args, err := buildMatchListQuery(filter, sqlitePlaceholder)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewPersistenceError("list proposals", err)
	}
	defer rows.Close()

	proposals := []models.MatchProposal{}
	for rows.Next() {
		var (
			pr        proposalRow
			createdAt int64
		)
		if err := rows.Scan(append(pr.fields(), &createdAt)...); err != nil {
			return nil, utils.NewPersistenceError("list proposals", fmt.Errorf("failed to scan proposal: %w", err))
		}
		p, err := pr.decode()
		if err != nil {
			return nil, utils.NewPersistenceError("list proposals", err)
		}
		p.CreatedAt = time.UnixMilli(createdAt).UTC()
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewPersistenceError("list proposals", err)
	}
	return proposals, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status models.ProposalStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid proposal status %q", status)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE opportunity_matches SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return utils.NewPersistenceError("update proposal status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrProposalNotFound
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, job *models.JobRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO matching_jobs (run_id, job_id, lookback_days, trigger_source, state, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		job.RunID, job.JobID, job.LookbackDays, job.TriggerSource, string(job.State), job.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to create job record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateState(ctx context.Context, runID string, state models.JobState) error {
	res, err := s.db.ExecContext(ctx, `UPDATE matching_jobs SET state = ? WHERE run_id = ?`, string(state), runID)
	if err != nil {
		return fmt.Errorf("failed to update job state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *SQLiteStore) Complete(ctx context.Context, runID string, state models.JobState, summary *models.JobSummary, errMsg string) error {
	encoded, err := encodeSummary(summary)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE matching_jobs SET state = ?, completed_at = ?, summary = ?, error = ? WHERE run_id = ?`,
		string(state), s.now().UnixMilli(), encoded, errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to complete job record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, runID string) (*models.JobRecord, error) {
	var (
		job         models.JobRecord
		startedAt   int64
		completedAt sql.NullInt64
		summary     sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, job_id, lookback_days, trigger_source, state, started_at, completed_at, summary, error
		FROM matching_jobs WHERE run_id = ?`, runID).Scan(
		&job.RunID, &job.JobID, &job.LookbackDays, &job.TriggerSource, &job.State,
		&startedAt, &completedAt, &summary, &job.Error,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job record: %w", err)
	}
	job.StartedAt = time.UnixMilli(startedAt).UTC()
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64).UTC()
		job.CompletedAt = &t
	}
	if job.Summary, err = decodeSummary([]byte(summary.String)); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM matching_jobs WHERE started_at < ? AND state IN (?, ?)`,
		cutoff.UnixMilli(), string(models.JobStateDone), string(models.JobStateFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to prune job records: %w", err)
	}
	return res.RowsAffected()
}
