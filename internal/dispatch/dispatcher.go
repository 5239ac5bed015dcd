// Package dispatch runs the worker pool that drains the job queue.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonesrussell/beancrawl/internal/alert"
	"github.com/jonesrussell/beancrawl/internal/cascade"
	"github.com/jonesrussell/beancrawl/internal/domain"
	"github.com/jonesrussell/beancrawl/internal/logger"
	"github.com/jonesrussell/beancrawl/internal/metrics"
	"github.com/jonesrussell/beancrawl/internal/queue"
	"github.com/jonesrussell/beancrawl/internal/retry"
	"github.com/jonesrussell/beancrawl/internal/sink"
)

const (
	// DefaultWorkers is the worker pool size.
	DefaultWorkers = 4
	// DefaultPollInterval is how long an idle worker waits before
	// asking for work again.
	DefaultPollInterval = 2 * time.Second
)

// Dispatcher claims queued jobs and runs them through the strategy
// cascade, applying the retry policy to failures.
type Dispatcher struct {
	store        queue.Store
	cascade      *cascade.Cascade
	policy       *retry.Policy
	sink         sink.ResultSink
	alerts       alert.Sink
	metrics      *metrics.Metrics
	workers      int
	pollInterval time.Duration
	logger       logger.Interface
	now          func() time.Time
}

// New creates a dispatcher.
func New(
	store queue.Store,
	casc *cascade.Cascade,
	policy *retry.Policy,
	resultSink sink.ResultSink,
	alerts alert.Sink,
	m *metrics.Metrics,
	workers int,
	log logger.Interface,
) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Dispatcher{
		store:        store,
		cascade:      casc,
		policy:       policy,
		sink:         resultSink,
		alerts:       alerts,
		metrics:      m,
		workers:      workers,
		pollInterval: DefaultPollInterval,
		logger:       log.WithComponent("dispatcher"),
		now:          time.Now,
	}
}

// WithClock overrides the dispatcher's clock. Test hook.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// WithPollInterval overrides the idle poll interval.
func (d *Dispatcher) WithPollInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.pollInterval = interval
	}
	return d
}

// Run starts the worker pool and blocks until the context is
// cancelled and every worker has drained its current job.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started", "workers", d.workers)

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.worker(ctx, id)
		}(i)
	}
	wg.Wait()

	d.logger.Info("dispatcher stopped")
	return ctx.Err()
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	log := d.logger.With("worker", id)

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := d.store.ClaimNext(ctx, d.now())
		switch {
		case errors.Is(err, domain.ErrNoJobAvailable):
			if !sleep(ctx, d.pollInterval) {
				return
			}
			continue
		case err != nil:
			log.Error("failed to claim job", "error", err)
			if !sleep(ctx, d.pollInterval) {
				return
			}
			continue
		}

		d.Process(ctx, job)
	}
}

// Process runs one claimed job to its next state transition. Exported
// so single-shot tooling can drive the pipeline without the pool.
func (d *Dispatcher) Process(ctx context.Context, job *domain.Job) {
	log := d.logger.With("job_id", job.ID, "roaster_id", job.RoasterID)

	result, err := d.cascade.Execute(ctx, job)
	if err != nil {
		// Infrastructure failure or shutdown mid-job. The attempt still
		// counts; the retry schedule picks the job back up. Attempts made
		// before the abort stay on the job record.
		tried := job.StrategiesTried
		if result != nil && len(result.Attempts) > 0 {
			tried = result.Tried()
		}
		d.recordFailure(ctx, job, domain.ErrorKindTransient,
			fmt.Sprintf("cascade aborted: %v", err), tried, log)
		return
	}

	tried := result.Tried()
	d.recordAttemptMetrics(result)

	if result.Outcome != cascade.OutcomeKindSuccess {
		d.recordFailure(ctx, job, result.FailureKind, result.FailureMsg, tried, log)
		return
	}

	if err := d.sink.Record(ctx, job, result.Winner, result.Payload); err != nil {
		log.Error("result sink failed", "error", err)
		d.recordFailure(ctx, job, domain.ErrorKindTransient,
			fmt.Sprintf("record result: %v", err), tried, log)
		return
	}

	// Marks must land even when the run context was cancelled mid-job,
	// or the job would replay after restart with its work already done.
	markCtx := context.WithoutCancel(ctx)
	if err := d.store.MarkSucceeded(markCtx, job.ID, tried); err != nil {
		log.Error("failed to mark job succeeded", "error", err)
		return
	}

	d.metrics.RecordSuccess(len(result.Payload.Products))
	log.Info("job succeeded",
		"strategy", string(result.Winner),
		"products", len(result.Payload.Products),
	)
}

func (d *Dispatcher) recordFailure(
	ctx context.Context,
	job *domain.Job,
	kind domain.ErrorKind,
	msg string,
	tried domain.StrategyList,
	log logger.Interface,
) {
	markCtx := context.WithoutCancel(ctx)
	attemptNum := job.Attempt + 1

	if d.policy.ShouldRetry(attemptNum, kind) {
		nextAt := d.now().Add(d.policy.DelayFor(kind, attemptNum))
		if err := d.store.MarkRetrying(markCtx, job.ID, nextAt, kind, msg, tried); err != nil {
			log.Error("failed to schedule retry", "error", err)
			return
		}
		d.metrics.RecordRetry()
		log.Warn("job scheduled for retry",
			"attempt", attemptNum,
			"error_kind", string(kind),
			"next_attempt_at", nextAt.Format(time.RFC3339),
		)
		return
	}

	if err := d.store.MarkDead(markCtx, job.ID, kind, msg, tried); err != nil {
		log.Error("failed to dead-letter job", "error", err)
		return
	}
	d.metrics.RecordDead()
	log.Error("job dead-lettered",
		"attempt", attemptNum,
		"error_kind", string(kind),
		"last_error", msg,
	)

	if err := d.alerts.Emit(markCtx, alert.Event{
		Reason:    alert.ReasonJobDead,
		RoasterID: job.RoasterID,
		JobID:     job.ID,
		Detail:    msg,
		At:        d.now(),
	}); err != nil {
		log.Error("failed to emit dead-job alert", "error", err)
	}
}

func (d *Dispatcher) recordAttemptMetrics(result *cascade.Result) {
	rateLimited := 0
	budgetDenied := 0
	for _, a := range result.Attempts {
		switch a.Outcome {
		case domain.OutcomeRateLimited:
			rateLimited++
		case domain.OutcomeBudgetDenied:
			budgetDenied++
		}
	}
	d.metrics.RecordAttempts(len(result.Attempts), rateLimited, budgetDenied)
}

// sleep waits for the interval or context cancellation, reporting
// false on cancellation.
func sleep(ctx context.Context, interval time.Duration) bool {
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
