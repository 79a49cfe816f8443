package database

import (
	"context"
	"fmt"
)

// Table names
const (
	AlertsTable  = "service20_alerts"
	MatchesTable = "opportunity_matches"
	JobsTable    = "matching_jobs"
)

// postgresSchema creates the engine's tables. The alerts table belongs to
// upstream systems and is only created here for local environments.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS service20_alerts (
		id TEXT PRIMARY KEY,
		alert_type TEXT NOT NULL,
		status TEXT NOT NULL,
		criteria JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_service20_alerts_active
		ON service20_alerts (alert_type, status, created_at)`,
	`CREATE TABLE IF NOT EXISTS opportunity_matches (
		id TEXT PRIMARY KEY,
		natural_key TEXT NOT NULL UNIQUE,
		job_id TEXT NOT NULL,
		match_type TEXT NOT NULL,
		opportunity_ids JSONB NOT NULL,
		funder_id TEXT NOT NULL,
		sector_score DOUBLE PRECISION NOT NULL,
		financial_score DOUBLE PRECISION NOT NULL,
		timeline_score DOUBLE PRECISION NOT NULL,
		roi_score DOUBLE PRECISION NOT NULL,
		technical_score DOUBLE PRECISION NOT NULL,
		overall_score NUMERIC(5,2) NOT NULL,
		confidence_level TEXT NOT NULL,
		failed BOOLEAN NOT NULL DEFAULT FALSE,
		failure_reason TEXT NOT NULL DEFAULT '',
		requires_approval BOOLEAN NOT NULL DEFAULT FALSE,
		total_amount NUMERIC(20,2) NOT NULL DEFAULT 0,
		bundle_metrics JSONB,
		criteria_met JSONB NOT NULL DEFAULT '[]'::jsonb,
		warnings JSONB NOT NULL DEFAULT '[]'::jsonb,
		status TEXT NOT NULL DEFAULT 'proposed',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_opportunity_matches_created
		ON opportunity_matches (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_opportunity_matches_funder
		ON opportunity_matches (funder_id, confidence_level)`,
	`CREATE TABLE IF NOT EXISTS matching_jobs (
		run_id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		lookback_days INTEGER NOT NULL,
		trigger_source TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		summary JSONB,
		error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_matching_jobs_started
		ON matching_jobs (started_at)`,
}

// Migrate applies the Postgres schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool DatabasePool) error {
	for i, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
