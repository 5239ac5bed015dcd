// Package schedule turns per-roaster cron cadences into queued jobs.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/beancrawl/internal/domain"
	"github.com/jonesrussell/beancrawl/internal/logger"
)

// DefaultTickInterval is how often the scheduler re-evaluates cadences.
const DefaultTickInterval = 15 * time.Second

// RoasterLister supplies the roasters to schedule.
type RoasterLister interface {
	ListRoasters(ctx context.Context) ([]*domain.Roaster, error)
}

// Enqueuer accepts new jobs. Duplicate submissions return
// domain.ErrDuplicateJob.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *domain.Job) error
}

// Scheduler enqueues full-refresh and price-only jobs when each
// roaster's cron cadence fires. It is not safe for concurrent use; run
// it from a single goroutine via Run.
type Scheduler struct {
	roasters RoasterLister
	queue    Enqueuer
	parser   cron.Parser
	interval time.Duration
	logger   logger.Interface
	now      func() time.Time

	// nextDue tracks the next fire time per (roaster, job type). Seeded
	// on first sight so a restart does not backfill missed cycles.
	nextDue map[string]time.Time
}

// New creates a scheduler.
func New(roasters RoasterLister, queue Enqueuer, interval time.Duration, log logger.Interface) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Scheduler{
		roasters: roasters,
		queue:    queue,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval: interval,
		logger:   log.WithComponent("scheduler"),
		now:      time.Now,
		nextDue:  make(map[string]time.Time),
	}
}

// WithClock overrides the scheduler's clock. Test hook.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "tick_interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates every roaster's cadences once and enqueues any due
// jobs. A roaster with an unparseable cadence is skipped without
// affecting the rest.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	roasters, err := s.roasters.ListRoasters(ctx)
	if err != nil {
		s.logger.Error("failed to list roasters", "error", err)
		return
	}

	for _, roaster := range roasters {
		if err := s.tickRoaster(ctx, roaster, now); err != nil {
			s.logger.Error("skipping roaster this tick",
				"roaster_id", roaster.ID,
				"error", err,
			)
		}
	}
}

// tickRoaster schedules both job types for one roaster. Both cadences
// are parsed up front so a bad expression in either skips the whole
// roaster rather than enqueuing a half-schedule.
func (s *Scheduler) tickRoaster(ctx context.Context, roaster *domain.Roaster, now time.Time) error {
	type cadence struct {
		jobType domain.JobType
		expr    string
		sched   cron.Schedule
	}

	cadences := []cadence{
		{jobType: domain.JobTypeFullRefresh, expr: roaster.CadenceFull},
		{jobType: domain.JobTypePriceOnly, expr: roaster.CadencePriceOnly},
	}

	active := cadences[:0]
	for _, c := range cadences {
		if c.expr == "" {
			continue
		}
		sched, err := s.parser.Parse(c.expr)
		if err != nil {
			return fmt.Errorf("parse %s cadence %q: %w", c.jobType, c.expr, err)
		}
		c.sched = sched
		active = append(active, c)
	}

	for _, c := range active {
		s.fireIfDue(ctx, roaster, c.jobType, c.sched, now)
	}
	return nil
}

func (s *Scheduler) fireIfDue(
	ctx context.Context,
	roaster *domain.Roaster,
	jobType domain.JobType,
	sched cron.Schedule,
	now time.Time,
) {
	key := roaster.ID + "/" + string(jobType)

	due, seen := s.nextDue[key]
	if !seen {
		s.nextDue[key] = sched.Next(now)
		return
	}
	if now.Before(due) {
		return
	}
	s.nextDue[key] = sched.Next(now)

	job := &domain.Job{
		ID:          uuid.New().String(),
		RoasterID:   roaster.ID,
		JobType:     jobType,
		ScheduledAt: due,
	}

	err := s.queue.Enqueue(ctx, job)
	switch {
	case errors.Is(err, domain.ErrDuplicateJob):
		// A live job for this (roaster, type) already exists; this cycle
		// folds into it.
		s.logger.Debug("cycle already queued",
			"roaster_id", roaster.ID,
			"job_type", string(jobType),
		)
	case err != nil:
		s.logger.Error("failed to enqueue job",
			"roaster_id", roaster.ID,
			"job_type", string(jobType),
			"error", err,
		)
	default:
		s.logger.Info("job enqueued",
			"job_id", job.ID,
			"roaster_id", roaster.ID,
			"job_type", string(jobType),
			"scheduled_at", due.Format(time.RFC3339),
		)
	}
}
