package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/beancrawl/internal/alert"
	"github.com/jonesrussell/beancrawl/internal/budget"
	"github.com/jonesrussell/beancrawl/internal/cascade"
	"github.com/jonesrussell/beancrawl/internal/dispatch"
	"github.com/jonesrussell/beancrawl/internal/domain"
	"github.com/jonesrussell/beancrawl/internal/fetch"
	"github.com/jonesrussell/beancrawl/internal/logger"
	"github.com/jonesrussell/beancrawl/internal/memstore"
	"github.com/jonesrussell/beancrawl/internal/metrics"
	"github.com/jonesrussell/beancrawl/internal/ratelimit"
	"github.com/jonesrussell/beancrawl/internal/retry"
)

type scriptedStrategy struct {
	name    domain.Strategy
	payload *fetch.Payload
	err     error
}

func (s *scriptedStrategy) Name() domain.Strategy { return s.name }

func (s *scriptedStrategy) Fetch(_ context.Context, _ domain.Roaster, _ domain.JobType) (*fetch.Payload, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.payload, nil
}

// captureSink records Record calls and optionally fails them.
type captureSink struct {
	mu      sync.Mutex
	records int
	err     error
}

func (c *captureSink) Record(_ context.Context, _ *domain.Job, _ domain.Strategy, _ *fetch.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records++
	return c.err
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records
}

// captureAlerts records emitted events.
type captureAlerts struct {
	mu     sync.Mutex
	events []alert.Event
}

func (c *captureAlerts) Emit(_ context.Context, e alert.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *captureAlerts) all() []alert.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]alert.Event(nil), c.events...)
}

type harness struct {
	store   *memstore.Store
	sink    *captureSink
	alerts  *captureAlerts
	metrics *metrics.Metrics
	disp    *dispatch.Dispatcher
}

func newHarness(t *testing.T, strategies ...fetch.Strategy) *harness {
	t.Helper()

	store := memstore.New()
	require.NoError(t, store.UpsertRoaster(context.Background(), &domain.Roaster{
		ID:              "r1",
		Name:            "Test Roaster",
		BaseURL:         "https://roaster.example.com",
		FallbackEnabled: true,
		BudgetLimit:     100,
		BudgetRemaining: 100,
	}))

	log := logger.NewNoOp()
	alerts := &captureAlerts{}
	casc := cascade.New(
		fetch.NewRegistry(strategies...),
		ratelimit.NewMemoryLimiter(ratelimit.Limits{}, nil),
		budget.NewLedger(store, alerts, log),
		store,
		cascade.Costs{},
		time.Minute,
		log,
	)

	resultSink := &captureSink{}
	m := metrics.NewMetrics()
	policy := retry.NewPolicy(retry.Config{
		BaseDelay:     time.Second,
		MaxDelay:      16 * time.Second,
		MaxAttempts:   3,
		BudgetBackoff: 15 * time.Minute,
	})

	return &harness{
		store:   store,
		sink:    resultSink,
		alerts:  alerts,
		metrics: m,
		disp:    dispatch.New(store, casc, policy, resultSink, alerts, m, 1, log),
	}
}

func (h *harness) claim(t *testing.T) *domain.Job {
	t.Helper()

	require.NoError(t, h.store.Enqueue(context.Background(), &domain.Job{
		ID:          "j1",
		RoasterID:   "r1",
		JobType:     domain.JobTypeFullRefresh,
		ScheduledAt: time.Now(),
	}))
	job, err := h.store.ClaimNext(context.Background(), time.Now())
	require.NoError(t, err)
	return job
}

func TestProcess_SuccessRecordsAndMarks(t *testing.T) {
	h := newHarness(t, &scriptedStrategy{
		name: domain.StrategyShopify,
		payload: &fetch.Payload{
			Products:    []domain.Product{{PlatformKey: "p1"}, {PlatformKey: "p2"}},
			ContentHash: "abc",
			FetchedVia:  domain.StrategyShopify,
		},
	})
	ctx := context.Background()

	h.disp.Process(ctx, h.claim(t))

	assert.Equal(t, 1, h.sink.count())

	job, err := h.store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
	assert.Equal(t, domain.StrategyList{domain.StrategyShopify}, job.StrategiesTried)
	assert.Equal(t, int64(1), h.metrics.GetJobsSucceeded())
}

func TestProcess_TransientFailureSchedulesRetry(t *testing.T) {
	h := newHarness(t, &scriptedStrategy{
		name: domain.StrategyShopify,
		err:  domain.Transientf("gateway timeout"),
	})
	ctx := context.Background()

	before := time.Now()
	h.disp.Process(ctx, h.claim(t))

	job, err := h.store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRetrying, job.Status)
	assert.Equal(t, 1, job.Attempt)
	require.NotNil(t, job.LastErrorKind)
	assert.Equal(t, "transient", *job.LastErrorKind)

	// First retry lands one base delay out, plus jitter.
	assert.True(t, job.NextAttemptAt.After(before.Add(time.Second-time.Millisecond)),
		"next attempt %v too close to %v", job.NextAttemptAt, before)
	assert.True(t, job.NextAttemptAt.Before(before.Add(5*time.Second)))

	assert.Empty(t, h.alerts.all())
	assert.Equal(t, 0, h.sink.count())
}

func TestProcess_AbortedRunKeepsTriedRecord(t *testing.T) {
	h := newHarness(t, &scriptedStrategy{
		name: domain.StrategyShopify,
		err:  domain.Transientf("gateway timeout"),
	})
	ctx := context.Background()

	h.disp.Process(ctx, h.claim(t))

	job, err := h.store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyList{domain.StrategyShopify}, job.StrategiesTried)

	// An aborted run must not wipe the record of earlier attempts.
	claimed, err := h.store.ClaimNext(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	h.disp.Process(cancelled, claimed)

	job, err = h.store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRetrying, job.Status)
	assert.Equal(t, 2, job.Attempt)
	assert.Equal(t, domain.StrategyList{domain.StrategyShopify}, job.StrategiesTried)
	require.NotNil(t, job.LastErrorMsg)
	assert.Contains(t, *job.LastErrorMsg, "cascade aborted")
}

func TestProcess_PermanentFailureDeadLettersImmediately(t *testing.T) {
	h := newHarness(t, &scriptedStrategy{
		name: domain.StrategyShopify,
		err:  domain.Permanentf("endpoint removed"),
	})
	ctx := context.Background()

	h.disp.Process(ctx, h.claim(t))

	job, err := h.store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDead, job.Status)

	events := h.alerts.all()
	require.Len(t, events, 1)
	assert.Equal(t, alert.ReasonJobDead, events[0].Reason)
	assert.Equal(t, "r1", events[0].RoasterID)
	assert.Equal(t, "j1", events[0].JobID)
	assert.Equal(t, int64(1), h.metrics.GetJobsDead())
}

func TestProcess_ExhaustedAttemptsDeadLetter(t *testing.T) {
	h := newHarness(t, &scriptedStrategy{
		name: domain.StrategyShopify,
		err:  domain.Transientf("flaky upstream"),
	})
	ctx := context.Background()

	job := h.claim(t)
	h.disp.Process(ctx, job)

	// Drive the remaining attempts: claim far in the future so the
	// retry delay has elapsed.
	for i := 0; i < 2; i++ {
		job, err := h.store.ClaimNext(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		h.disp.Process(ctx, job)
	}

	final, err := h.store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDead, final.Status, "attempt cap of 3 reached")
	assert.Equal(t, 3, final.Attempt)
	assert.Len(t, h.alerts.all(), 1)
}

func TestProcess_SinkFailureRetriesJob(t *testing.T) {
	h := newHarness(t, &scriptedStrategy{
		name: domain.StrategyShopify,
		payload: &fetch.Payload{
			Products:   []domain.Product{{PlatformKey: "p1"}},
			FetchedVia: domain.StrategyShopify,
		},
	})
	h.sink.err = errors.New("catalog store unavailable")
	ctx := context.Background()

	h.disp.Process(ctx, h.claim(t))

	job, err := h.store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRetrying, job.Status)
	require.NotNil(t, job.LastErrorKind)
	assert.Equal(t, "transient", *job.LastErrorKind)
	assert.Equal(t, int64(0), h.metrics.GetJobsSucceeded())
}

func TestRun_DrainsQueueAndStopsOnCancel(t *testing.T) {
	h := newHarness(t, &scriptedStrategy{
		name: domain.StrategyShopify,
		payload: &fetch.Payload{
			Products:   []domain.Product{{PlatformKey: "p1"}},
			FetchedVia: domain.StrategyShopify,
		},
	})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, h.store.Enqueue(ctx, &domain.Job{
		ID:          "j1",
		RoasterID:   "r1",
		JobType:     domain.JobTypeFullRefresh,
		ScheduledAt: time.Now(),
	}))

	h.disp.WithPollInterval(10 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- h.disp.Run(ctx) }()

	require.Eventually(t, func() bool {
		job, err := h.store.GetJob(context.Background(), "j1")
		return err == nil && job.Status == domain.JobStatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}
