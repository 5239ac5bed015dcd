package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaStatements holds the full schema as idempotent statements,
// executed in order by EnsureSchema.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS roasters (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		base_url TEXT NOT NULL,
		cadence_full TEXT NOT NULL DEFAULT '',
		cadence_price_only TEXT NOT NULL DEFAULT '',
		concurrency_limit INTEGER NOT NULL DEFAULT 3,
		learned_strategy TEXT NOT NULL DEFAULT '',
		fallback_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		budget_limit INTEGER NOT NULL DEFAULT 0,
		budget_remaining INTEGER NOT NULL DEFAULT 0,
		fallback_disabled_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS scrape_jobs (
		id TEXT PRIMARY KEY,
		roaster_id TEXT NOT NULL REFERENCES roasters(id),
		job_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		attempt INTEGER NOT NULL DEFAULT 0,
		scheduled_at TIMESTAMPTZ NOT NULL,
		next_attempt_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		last_error_kind TEXT,
		last_error_msg TEXT,
		strategies_tried JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// One live job per (roaster, type). Terminal rows fall out of the
	// index so history accumulates freely.
	`CREATE UNIQUE INDEX IF NOT EXISTS scrape_jobs_live_uniq
		ON scrape_jobs (roaster_id, job_type)
		WHERE status IN ('queued', 'running', 'retrying')`,

	`CREATE INDEX IF NOT EXISTS scrape_jobs_claim_idx
		ON scrape_jobs (status, next_attempt_at)`,

	`CREATE TABLE IF NOT EXISTS products (
		id TEXT NOT NULL,
		roaster_id TEXT NOT NULL REFERENCES roasters(id),
		platform_key TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		price_cents INTEGER NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT '',
		available BOOLEAN NOT NULL DEFAULT TRUE,
		image_url TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		fetched_via TEXT NOT NULL DEFAULT '',
		first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (roaster_id, platform_key)
	)`,
}

// EnsureSchema creates any missing tables and indexes. Safe to run on
// every startup.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
