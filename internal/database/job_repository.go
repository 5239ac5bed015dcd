package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/beancrawl/internal/domain"
)

// pqUniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const pqUniqueViolation = "23505"

// jobSelectColumns lists columns for SELECT queries on scrape_jobs
// (aliased as j).
const jobSelectColumns = `j.id, j.roaster_id, j.job_type, j.status, j.attempt,
	j.scheduled_at, j.next_attempt_at, j.started_at, j.completed_at,
	j.last_error_kind, j.last_error_msg, j.strategies_tried, j.created_at, j.updated_at`

// JobRepository handles database operations for the durable job queue.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Enqueue inserts a queued job. The partial unique index on live
// (roaster, type) pairs turns a concurrent duplicate into
// domain.ErrDuplicateJob.
func (r *JobRepository) Enqueue(ctx context.Context, job *domain.Job) error {
	nextAttemptAt := job.NextAttemptAt
	if nextAttemptAt.IsZero() {
		nextAttemptAt = job.ScheduledAt
	}

	query := `
		INSERT INTO scrape_jobs (id, roaster_id, job_type, status, scheduled_at, next_attempt_at)
		VALUES ($1, $2, $3, 'queued', $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query, job.ID, job.RoasterID, job.JobType, job.ScheduledAt, nextAttemptAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return fmt.Errorf("%w: roaster %s type %s", domain.ErrDuplicateJob, job.RoasterID, job.JobType)
		}
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	return nil
}

// ClaimNext selects and locks the oldest due job whose roaster has
// concurrency headroom, marking it running in the same transaction.
// Returns domain.ErrNoJobAvailable when nothing is claimable.
func (r *JobRepository) ClaimNext(ctx context.Context, now time.Time) (*domain.Job, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	job, selectErr := claimSelect(ctx, tx, now)
	if selectErr != nil {
		return nil, selectErr
	}

	if updateErr := claimMarkRunning(ctx, tx, job.ID, now); updateErr != nil {
		return nil, updateErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", commitErr)
	}

	job.Status = domain.JobStatusRunning
	if job.StartedAt == nil {
		startedAt := now
		job.StartedAt = &startedAt
	}
	return job, nil
}

// claimSelect selects and locks the oldest claimable job within a
// transaction. The running-count subquery enforces the per-roaster
// concurrency limit; locking the roaster row serializes claims for
// the same roaster, since the subquery only sees committed rows and
// an uncommitted claim would otherwise not count against the limit.
func claimSelect(ctx context.Context, tx *sqlx.Tx, now time.Time) (*domain.Job, error) {
	query := `
		SELECT ` + jobSelectColumns + `
		FROM scrape_jobs j
		JOIN roasters r ON r.id = j.roaster_id
		WHERE j.status IN ('queued', 'retrying')
		  AND j.next_attempt_at <= $1
		  AND (
			SELECT COUNT(*) FROM scrape_jobs running
			WHERE running.roaster_id = j.roaster_id AND running.status = 'running'
		  ) < r.concurrency_limit
		ORDER BY j.next_attempt_at ASC, j.created_at ASC
		LIMIT 1
		FOR UPDATE OF j, r SKIP LOCKED
	`

	var job domain.Job
	err := tx.GetContext(ctx, &job, query, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("failed to select claimable job: %w", err)
	}

	return &job, nil
}

// claimMarkRunning transitions a claimed job to running within a
// transaction. started_at is set on the first claim only.
func claimMarkRunning(ctx context.Context, tx *sqlx.Tx, id string, now time.Time) error {
	query := `
		UPDATE scrape_jobs
		SET status = 'running', started_at = COALESCE(started_at, $2), updated_at = NOW()
		WHERE id = $1
	`

	_, err := tx.ExecContext(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("failed to mark claimed job running: %w", err)
	}

	return nil
}

// MarkSucceeded completes a job successfully.
func (r *JobRepository) MarkSucceeded(ctx context.Context, jobID string, tried domain.StrategyList) error {
	query := `
		UPDATE scrape_jobs
		SET status = 'succeeded',
			completed_at = NOW(),
			last_error_kind = NULL,
			last_error_msg = NULL,
			strategies_tried = $2,
			updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`

	return r.execTransition(ctx, jobID, query, tried)
}

// MarkRetrying schedules a failed job for another attempt.
func (r *JobRepository) MarkRetrying(
	ctx context.Context,
	jobID string,
	nextAttemptAt time.Time,
	errKind domain.ErrorKind,
	errMsg string,
	tried domain.StrategyList,
) error {
	query := `
		UPDATE scrape_jobs
		SET status = 'retrying',
			attempt = attempt + 1,
			next_attempt_at = $2,
			last_error_kind = $3,
			last_error_msg = $4,
			strategies_tried = $5,
			updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`

	return r.execTransition(ctx, jobID, query, nextAttemptAt, errKind, errMsg, tried)
}

// MarkDead dead-letters a job.
func (r *JobRepository) MarkDead(
	ctx context.Context,
	jobID string,
	errKind domain.ErrorKind,
	errMsg string,
	tried domain.StrategyList,
) error {
	query := `
		UPDATE scrape_jobs
		SET status = 'dead',
			attempt = attempt + 1,
			completed_at = NOW(),
			last_error_kind = $2,
			last_error_msg = $3,
			strategies_tried = $4,
			updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`

	return r.execTransition(ctx, jobID, query, errKind, errMsg, tried)
}

// execTransition runs a running-only state transition and maps a
// missed row to not-found or terminal.
func (r *JobRepository) execTransition(ctx context.Context, jobID, query string, args ...any) error {
	allArgs := append([]any{jobID}, args...)
	res, err := r.db.ExecContext(ctx, query, allArgs...)
	if err != nil {
		return fmt.Errorf("failed to transition job: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	job, getErr := r.GetJob(ctx, jobID)
	if getErr != nil {
		return getErr
	}
	return fmt.Errorf("%w: job %s is %s", domain.ErrJobTerminal, jobID, job.Status)
}

// GetJob returns a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM scrape_jobs j WHERE j.id = $1`

	var job domain.Job
	err := r.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
// An empty status matches all jobs.
func (r *JobRepository) ListJobs(ctx context.Context, status domain.JobStatus, limit, offset int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobSelectColumns + `
		FROM scrape_jobs j
		WHERE ($1 = '' OR j.status = $1)
		ORDER BY j.created_at DESC
		LIMIT $2 OFFSET $3
	`

	var jobs []*domain.Job
	if err := r.db.SelectContext(ctx, &jobs, query, status, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// CountByStatus returns job counts grouped by status.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	query := `SELECT status, COUNT(*) AS count FROM scrape_jobs GROUP BY status`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var (
			status domain.JobStatus
			count  int
		)
		if scanErr := rows.Scan(&status, &count); scanErr != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", scanErr)
		}
		counts[status] = count
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate job counts: %w", rowsErr)
	}

	return counts, nil
}
