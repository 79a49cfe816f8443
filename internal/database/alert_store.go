package database

import (
	"context"
	"fmt"
	"time"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
)

const selectActiveAlertsSQL = `SELECT id, alert_type, status, criteria, created_at
	FROM service20_alerts
	WHERE alert_type = $1 AND status = $2 AND created_at >= $3
	ORDER BY created_at DESC, id`

// PostgresAlertStore reads opportunity and funder alerts. It never writes.
type PostgresAlertStore struct {
	pool DatabasePool
}

func NewPostgresAlertStore(pool DatabasePool) *PostgresAlertStore {
	return &PostgresAlertStore{pool: pool}
}

// FetchActiveAlerts returns active alerts of one type created at or after since.
//
// Parameters:
//   - ctx: Context for cancellation.
//   - alertType: investment or funding.
//   - since: Lower bound of the lookback window.
//
// Returns:
//   - Raw records; criteria decoding is left to the caller.
//   - Error if the query fails.
func (s *PostgresAlertStore) FetchActiveAlerts(ctx context.Context, alertType models.AlertType, since time.Time) ([]models.AlertRecord, error) {
	rows, err := s.pool.Query(ctx, selectActiveAlertsSQL, string(alertType), string(models.AlertStatusActive), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query %s alerts: %w", alertType, err)
	}
	defer rows.Close()

	var records []models.AlertRecord
	for rows.Next() {
		var (
			rec      models.AlertRecord
			criteria []byte
		)
		if err := rows.Scan(&rec.ID, &rec.AlertType, &rec.Status, &criteria, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		rec.Criteria = criteria
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read alerts: %w", err)
	}
	return records, nil
}

func (s *PostgresAlertStore) HealthCheck(ctx context.Context) error {
	return pingPool(ctx, s.pool)
}
