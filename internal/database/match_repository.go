package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/utils"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
)

// ErrProposalNotFound is returned when a status update targets no row
var ErrProposalNotFound = errors.New("match proposal not found")

const insertMatchSQL = `INSERT INTO opportunity_matches (` + matchColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	ON CONFLICT (natural_key) DO NOTHING
	RETURNING id`

const selectMatchIDByKeySQL = `SELECT id FROM opportunity_matches WHERE natural_key = $1`

const updateMatchStatusSQL = `UPDATE opportunity_matches SET status = $1 WHERE id = $2`

// PostgresMatchRepository is the append-only proposal store. The unique
// natural_key constraint is its only concurrency guard.
type PostgresMatchRepository struct {
	pool   DatabasePool
	logger *logrus.Logger
	now    func() time.Time
}

// NewPostgresMatchRepository creates a new match repository.
//
// Parameters:
//   - pool: The database connection pool.
//   - logger: Logger for duplicate and failure reporting.
//
// Returns:
//   - A repository writing to opportunity_matches.
func NewPostgresMatchRepository(pool DatabasePool, logger *logrus.Logger) *PostgresMatchRepository {
	if logger == nil {
		logger = logrus.New()
	}
	return &PostgresMatchRepository{pool: pool, logger: logger, now: time.Now}
}

// Save inserts the proposal unless its natural key already exists. A
// duplicate returns the stored row's id with inserted=false.
func (r *PostgresMatchRepository) Save(ctx context.Context, p *models.MatchProposal) (string, bool, error) {
	if err := prepareProposal(p, r.now()); err != nil {
		return "", false, fmt.Errorf("failed to validate proposal: %w", err)
	}
	args, err := proposalArgs(p)
	if err != nil {
		return "", false, fmt.Errorf("failed to encode proposal: %w", err)
	}
	args = append(args, p.CreatedAt)

	var id string
	err = r.pool.QueryRow(ctx, insertMatchSQL, args...).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, utils.NewPersistenceError("save proposal", err)
	}

	if err := r.pool.QueryRow(ctx, selectMatchIDByKeySQL, p.NaturalKey).Scan(&id); err != nil {
		return "", false, utils.NewPersistenceError("resolve duplicate proposal", err)
	}
	r.logger.WithFields(logrus.Fields{
		"natural_key": p.NaturalKey,
		"proposal_id": id,
	}).Debug("Proposal already stored")
	return id, false, nil
}

// List returns proposals matching the filter, newest first
func (r *PostgresMatchRepository) List(ctx context.Context, filter models.MatchFilter) ([]models.MatchProposal, error) {
	query, args, err := buildMatchListQuery(filter, postgresPlaceholder)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, utils.NewPersistenceError("list proposals", err)
	}
	defer rows.Close()

	proposals := []models.MatchProposal{}
	for rows.Next() {
		p, err := scanPostgresProposal(rows)
		if err != nil {
			return nil, utils.NewPersistenceError("list proposals", err)
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewPersistenceError("list proposals", err)
	}
	return proposals, nil
}

// UpdateStatus changes the informational status, the only permitted mutation
func (r *PostgresMatchRepository) UpdateStatus(ctx context.Context, id string, status models.ProposalStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid proposal status %q", status)
	}
	tag, err := r.pool.Exec(ctx, updateMatchStatusSQL, string(status), id)
	if err != nil {
		return utils.NewPersistenceError("update proposal status", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProposalNotFound
	}
	return nil
}

func (r *PostgresMatchRepository) HealthCheck(ctx context.Context) error {
	return pingPool(ctx, r.pool)
}

func scanPostgresProposal(row rowScanner) (models.MatchProposal, error) {
	var pr proposalRow
	dest := append(pr.fields(), &pr.p.CreatedAt)
	if err := row.Scan(dest...); err != nil {
		return models.MatchProposal{}, fmt.Errorf("failed to scan proposal: %w", err)
	}
	return pr.decode()
}
