// Package queue defines the durable job queue contract: FIFO per
// roaster, global dequeue bounded by per-roaster concurrency, and
// atomic claims so a job is never dispatched twice.
package queue

import (
	"context"
	"time"

	"github.com/jonesrussell/beancrawl/internal/domain"
)

// Store is the durable backing store for the job queue. Any store
// providing an atomic compare-and-set on job status qualifies; the
// repository ships a Postgres implementation and an in-memory one.
type Store interface {
	// Enqueue inserts a queued job. Returns domain.ErrDuplicateJob when a
	// non-terminal job with the same (roasterID, jobType) already exists,
	// so outages cannot pile up duplicate work.
	Enqueue(ctx context.Context, job *domain.Job) error

	// ClaimNext atomically claims the oldest queued or due retrying job
	// whose roaster currently has fewer running jobs than its concurrency
	// limit, transitions it to running, and returns it. Returns
	// domain.ErrNoJobAvailable when nothing is eligible.
	ClaimNext(ctx context.Context, now time.Time) (*domain.Job, error)

	// MarkSucceeded finalizes a running job. Terminal and immutable.
	MarkSucceeded(ctx context.Context, jobID string, tried domain.StrategyList) error

	// MarkRetrying schedules a failed job for another attempt after
	// nextAttemptAt, incrementing its attempt count.
	MarkRetrying(
		ctx context.Context,
		jobID string,
		nextAttemptAt time.Time,
		errKind domain.ErrorKind,
		errMsg string,
		tried domain.StrategyList,
	) error

	// MarkDead dead-letters a job with full error context for manual
	// review. Terminal and immutable; dead jobs never auto-retry.
	MarkDead(
		ctx context.Context,
		jobID string,
		errKind domain.ErrorKind,
		errMsg string,
		tried domain.StrategyList,
	) error

	// GetJob returns a job by ID or domain.ErrJobNotFound.
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)

	// ListJobs returns jobs, newest first, optionally filtered by status
	// (empty means all).
	ListJobs(ctx context.Context, status domain.JobStatus, limit, offset int) ([]*domain.Job, error)

	// CountByStatus returns job counts grouped by status.
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
}
