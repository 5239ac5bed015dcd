package database_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/beancrawl/internal/database"
	"github.com/jonesrussell/beancrawl/internal/domain"
	"github.com/jonesrussell/beancrawl/internal/testhelpers"
)

// setupTestDB starts a PostgreSQL container and applies the schema.
// Skipped in short mode and when Docker is unavailable.
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testhelpers.StartPostgres(ctx)
	if err != nil {
		t.Skipf("skipping test: could not start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() { _ = container.Stop(context.Background()) })

	db, err := container.Connect()
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.EnsureSchema(ctx, db); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}

	return db
}

func seedRoaster(t *testing.T, repo *database.RoasterRepository, id string) {
	t.Helper()

	err := repo.Upsert(context.Background(), &domain.Roaster{
		ID:               id,
		Name:             "Integration Roaster",
		BaseURL:          "https://roaster.example.com",
		CadenceFull:      "0 */6 * * *",
		ConcurrencyLimit: 1,
		FallbackEnabled:  true,
		BudgetLimit:      10,
		BudgetRemaining:  10,
	})
	if err != nil {
		t.Fatalf("failed to seed roaster: %v", err)
	}
}

func TestIntegration_JobLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	roasters := database.NewRoasterRepository(db)
	jobs := database.NewJobRepository(db)
	seedRoaster(t, roasters, "r1")

	now := time.Now().UTC().Truncate(time.Millisecond)
	job := &domain.Job{
		ID:          "j1",
		RoasterID:   "r1",
		JobType:     domain.JobTypeFullRefresh,
		ScheduledAt: now,
	}
	if err := jobs.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// The partial unique index rejects a second live job for the pair.
	dup := &domain.Job{ID: "j2", RoasterID: "r1", JobType: domain.JobTypeFullRefresh, ScheduledAt: now}
	if err := jobs.Enqueue(ctx, dup); !errors.Is(err, domain.ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}

	claimed, err := jobs.ClaimNext(ctx, now)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if claimed.ID != "j1" {
		t.Fatalf("expected j1, got %s", claimed.ID)
	}
	if claimed.Status != domain.JobStatusRunning {
		t.Errorf("expected running, got %s", claimed.Status)
	}

	// The running job holds the roaster's concurrency slot.
	if _, err := jobs.ClaimNext(ctx, now); !errors.Is(err, domain.ErrNoJobAvailable) {
		t.Fatalf("expected ErrNoJobAvailable, got %v", err)
	}

	tried := domain.StrategyList{domain.StrategyShopify}
	if err := jobs.MarkSucceeded(ctx, "j1", tried); err != nil {
		t.Fatalf("mark succeeded failed: %v", err)
	}

	stored, err := jobs.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("get job failed: %v", err)
	}
	if stored.Status != domain.JobStatusSucceeded {
		t.Errorf("expected succeeded, got %s", stored.Status)
	}
	if len(stored.StrategiesTried) != 1 || stored.StrategiesTried[0] != domain.StrategyShopify {
		t.Errorf("unexpected strategies tried: %v", stored.StrategiesTried)
	}

	// Terminal rows fall out of the index; re-enqueue works.
	if err := jobs.Enqueue(ctx, dup); err != nil {
		t.Fatalf("re-enqueue after success failed: %v", err)
	}

	// Double transition is rejected with the actual state.
	if err := jobs.MarkSucceeded(ctx, "j1", nil); !errors.Is(err, domain.ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal, got %v", err)
	}

	counts, err := jobs.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if counts[domain.JobStatusSucceeded] != 1 || counts[domain.JobStatusQueued] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

// Concurrent claimers against a limit-1 roaster must not both win: an
// uncommitted claim is invisible to the running-count subquery, so the
// claim query also locks the roaster row to serialize claimers.
func TestIntegration_ConcurrentClaimsHonorConcurrencyLimit(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	roasters := database.NewRoasterRepository(db)
	jobs := database.NewJobRepository(db)
	seedRoaster(t, roasters, "r1")

	now := time.Now().UTC()
	for _, jobType := range []domain.JobType{domain.JobTypeFullRefresh, domain.JobTypePriceOnly} {
		err := jobs.Enqueue(ctx, &domain.Job{
			ID: "j-" + string(jobType), RoasterID: "r1", JobType: jobType, ScheduledAt: now,
		})
		if err != nil {
			t.Fatalf("enqueue %s failed: %v", jobType, err)
		}
	}

	const claimers = 8
	var (
		wg      sync.WaitGroup
		claimed int64
	)
	start := make(chan struct{})
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			job, err := jobs.ClaimNext(ctx, now)
			if errors.Is(err, domain.ErrNoJobAvailable) {
				return
			}
			if err != nil {
				t.Errorf("claim failed: %v", err)
				return
			}
			if job.RoasterID != "r1" {
				t.Errorf("unexpected roaster %s", job.RoasterID)
			}
			atomic.AddInt64(&claimed, 1)
		}()
	}
	close(start)
	wg.Wait()

	if claimed != 1 {
		t.Errorf("expected exactly 1 claim for a limit-1 roaster, got %d", claimed)
	}

	counts, err := jobs.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if counts[domain.JobStatusRunning] != 1 || counts[domain.JobStatusQueued] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestIntegration_RetryAndDeadLetter(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	roasters := database.NewRoasterRepository(db)
	jobs := database.NewJobRepository(db)
	seedRoaster(t, roasters, "r1")

	now := time.Now().UTC()
	if err := jobs.Enqueue(ctx, &domain.Job{
		ID: "j1", RoasterID: "r1", JobType: domain.JobTypeFullRefresh, ScheduledAt: now,
	}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	claimed, err := jobs.ClaimNext(ctx, now)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	nextAt := now.Add(time.Minute)
	err = jobs.MarkRetrying(ctx, claimed.ID, nextAt, domain.ErrorKindTransient, "503",
		domain.StrategyList{domain.StrategyShopify})
	if err != nil {
		t.Fatalf("mark retrying failed: %v", err)
	}

	// Not due yet.
	if _, err := jobs.ClaimNext(ctx, now); !errors.Is(err, domain.ErrNoJobAvailable) {
		t.Fatalf("expected ErrNoJobAvailable before next_attempt_at, got %v", err)
	}

	claimed, err = jobs.ClaimNext(ctx, nextAt.Add(time.Second))
	if err != nil {
		t.Fatalf("claim after backoff failed: %v", err)
	}
	if claimed.Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", claimed.Attempt)
	}

	err = jobs.MarkDead(ctx, claimed.ID, domain.ErrorKindPermanent, "endpoint removed", nil)
	if err != nil {
		t.Fatalf("mark dead failed: %v", err)
	}

	stored, err := jobs.GetJob(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("get job failed: %v", err)
	}
	if stored.Status != domain.JobStatusDead {
		t.Errorf("expected dead, got %s", stored.Status)
	}
	if stored.Attempt != 2 {
		t.Errorf("expected attempt 2, got %d", stored.Attempt)
	}
	if stored.LastErrorKind == nil || *stored.LastErrorKind != "permanent" {
		t.Errorf("unexpected last error kind: %v", stored.LastErrorKind)
	}
}

func TestIntegration_BudgetLedger(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	roasters := database.NewRoasterRepository(db)
	seedRoaster(t, roasters, "r1")

	// 10 budget covers three debits of 3.
	for i := 0; i < 3; i++ {
		ok, err := roasters.Debit(ctx, "r1", 3)
		if err != nil {
			t.Fatalf("debit %d failed: %v", i, err)
		}
		if !ok {
			t.Fatalf("debit %d unexpectedly denied", i)
		}
	}

	// One unit remains; a cost of 3 is refused without going negative.
	ok, err := roasters.Debit(ctx, "r1", 3)
	if err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	if ok {
		t.Fatal("expected debit to be denied")
	}

	flipped, err := roasters.DisableFallback(ctx, "r1", time.Now().UTC())
	if err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	if !flipped {
		t.Error("expected first disable to flip")
	}

	flipped, err = roasters.DisableFallback(ctx, "r1", time.Now().UTC())
	if err != nil {
		t.Fatalf("repeat disable failed: %v", err)
	}
	if flipped {
		t.Error("expected repeat disable to be a no-op")
	}

	if err := roasters.ResetBudget(ctx, "r1", nil); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	roaster, err := roasters.GetRoaster(ctx, "r1")
	if err != nil {
		t.Fatalf("get roaster failed: %v", err)
	}
	if !roaster.FallbackEnabled {
		t.Error("expected fallback re-enabled after reset")
	}
	if roaster.BudgetRemaining != 10 {
		t.Errorf("expected budget restored to 10, got %d", roaster.BudgetRemaining)
	}
	if roaster.FallbackDisabledAt != nil {
		t.Errorf("expected fallback_disabled_at cleared, got %v", roaster.FallbackDisabledAt)
	}
}

func TestIntegration_UpsertPreservesRuntimeState(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	roasters := database.NewRoasterRepository(db)
	seedRoaster(t, roasters, "r1")

	if err := roasters.SetLearnedStrategy(ctx, "r1", domain.StrategyWooCommerce); err != nil {
		t.Fatalf("set learned failed: %v", err)
	}
	if _, err := roasters.Debit(ctx, "r1", 3); err != nil {
		t.Fatalf("debit failed: %v", err)
	}

	// A config reseed must not clobber learned strategy or budget state.
	seedRoaster(t, roasters, "r1")

	roaster, err := roasters.GetRoaster(ctx, "r1")
	if err != nil {
		t.Fatalf("get roaster failed: %v", err)
	}
	if roaster.LearnedStrategy != domain.StrategyWooCommerce {
		t.Errorf("learned strategy clobbered: %s", roaster.LearnedStrategy)
	}
	if roaster.BudgetRemaining != 7 {
		t.Errorf("budget clobbered: %d", roaster.BudgetRemaining)
	}
}

func TestIntegration_ProductCatalog(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	roasters := database.NewRoasterRepository(db)
	products := database.NewProductRepository(db)
	seedRoaster(t, roasters, "r1")

	err := products.UpsertProducts(ctx, "r1", []domain.Product{
		{PlatformKey: "shopify:1", Title: "Kenya AA", PriceCents: 1800, Currency: "USD", Available: true},
		{PlatformKey: "shopify:2", Title: "Ethiopia Guji", PriceCents: 1900, Currency: "USD", Available: true},
	})
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	listed, err := products.ListProducts(ctx, "r1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 products, got %d", len(listed))
	}
	var firstSeen time.Time
	for _, p := range listed {
		if p.PlatformKey == "shopify:1" {
			firstSeen = p.FirstSeenAt
		}
	}

	// A price change updates in place without resetting first_seen_at.
	err = products.UpsertProducts(ctx, "r1", []domain.Product{
		{PlatformKey: "shopify:1", Title: "Kenya AA", PriceCents: 1950, Currency: "USD", Available: true},
	})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	listed, err = products.ListProducts(ctx, "r1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for _, p := range listed {
		if p.PlatformKey != "shopify:1" {
			continue
		}
		if p.PriceCents != 1950 {
			t.Errorf("expected updated price 1950, got %d", p.PriceCents)
		}
		if !p.FirstSeenAt.Equal(firstSeen) {
			t.Errorf("first_seen_at changed: %v vs %v", p.FirstSeenAt, firstSeen)
		}
	}
}
