// Package app assembles the configured pipeline: stores, limiter,
// cache, cascade, scheduler, dispatcher, and the ops server.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/beancrawl/internal/alert"
	"github.com/jonesrussell/beancrawl/internal/budget"
	"github.com/jonesrussell/beancrawl/internal/cache"
	"github.com/jonesrussell/beancrawl/internal/cascade"
	"github.com/jonesrussell/beancrawl/internal/config"
	"github.com/jonesrussell/beancrawl/internal/database"
	"github.com/jonesrussell/beancrawl/internal/dispatch"
	"github.com/jonesrussell/beancrawl/internal/domain"
	"github.com/jonesrussell/beancrawl/internal/fetch"
	"github.com/jonesrussell/beancrawl/internal/logger"
	"github.com/jonesrussell/beancrawl/internal/memstore"
	"github.com/jonesrussell/beancrawl/internal/metrics"
	"github.com/jonesrussell/beancrawl/internal/ops"
	"github.com/jonesrussell/beancrawl/internal/queue"
	"github.com/jonesrussell/beancrawl/internal/ratelimit"
	"github.com/jonesrussell/beancrawl/internal/retry"
	"github.com/jonesrussell/beancrawl/internal/schedule"
	"github.com/jonesrussell/beancrawl/internal/sink"
)

// RoasterStore is the full roaster state surface the pipeline needs.
type RoasterStore interface {
	UpsertRoaster(ctx context.Context, roaster *domain.Roaster) error
	GetRoaster(ctx context.Context, id string) (*domain.Roaster, error)
	ListRoasters(ctx context.Context) ([]*domain.Roaster, error)
	SetLearnedStrategy(ctx context.Context, id string, strategy domain.Strategy) error
}

// Stores bundles the persistence backends behind one storage choice.
type Stores struct {
	Queue    queue.Store
	Budget   budget.Store
	Roasters RoasterStore
	Products sink.ProductWriter

	db *sqlx.DB
}

// Close releases the underlying database handle, if any.
func (s *Stores) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// pgRoasterStore narrows RoasterRepository's Upsert name to the
// RoasterStore interface.
type pgRoasterStore struct {
	*database.RoasterRepository
}

func (s pgRoasterStore) UpsertRoaster(ctx context.Context, roaster *domain.Roaster) error {
	return s.Upsert(ctx, roaster)
}

// BuildStores constructs the storage layer selected by cfg.Storage.
func BuildStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	if cfg.Storage == config.StorageMemory {
		mem := memstore.New()
		return &Stores{Queue: mem, Budget: mem, Roasters: mem, Products: mem}, nil
	}

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	roasterRepo := database.NewRoasterRepository(db)
	return &Stores{
		Queue:    database.NewJobRepository(db),
		Budget:   roasterRepo,
		Roasters: pgRoasterStore{roasterRepo},
		Products: database.NewProductRepository(db),
		db:       db,
	}, nil
}

// App is the assembled service.
type App struct {
	cfg        *config.Config
	log        logger.Interface
	stores     *Stores
	metrics    *metrics.Metrics
	scheduler  *schedule.Scheduler
	dispatcher *dispatch.Dispatcher
	opsServer  *ops.Server
	closeRedis func() error
}

// New builds the full pipeline from configuration.
func New(ctx context.Context, cfg *config.Config, log logger.Interface) (*App, error) {
	stores, err := BuildStores(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build stores: %w", err)
	}

	var (
		limiter     ratelimit.Limiter
		resultCache cache.Cache
		closeRedis  func() error
	)
	scopes := map[string]ratelimit.Limits{
		cascade.GlobalScrapeScope: cfg.RateLimit.Global,
	}
	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if pingErr := client.Ping(ctx).Err(); pingErr != nil {
			stores.Close()
			return nil, fmt.Errorf("ping redis: %w", pingErr)
		}
		limiter = ratelimit.NewRedisLimiter(client, cfg.RateLimit.PerRoaster, scopes)
		resultCache = cache.NewRedisCache(client)
		closeRedis = client.Close
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.PerRoaster, scopes)
		mem := cache.NewMemoryCache()
		mem.StartSweeper(ctx, cache.DefaultSweepInterval)
		resultCache = mem
	}

	m := metrics.NewMetrics()
	alerts := alert.NewLogSink(log)
	ledger := budget.NewLedger(stores.Budget, alerts, log)

	registry := fetch.NewRegistry(
		fetch.NewShopifyStrategy(nil),
		fetch.NewWooStrategy(nil),
		fetch.NewScrapeStrategy(),
	)

	casc := cascade.New(registry, limiter, ledger, stores.Roasters, cfg.Costs, cfg.FetchTimeout, log)
	policy := retry.NewPolicy(cfg.Retry)
	resultSink := sink.NewCatalogSink(stores.Products, resultCache, log)

	dispatcher := dispatch.New(
		stores.Queue, casc, policy, resultSink, alerts, m,
		cfg.Dispatcher.Workers, log,
	).WithPollInterval(cfg.Dispatcher.PollInterval)

	scheduler := schedule.New(stores.Roasters, stores.Queue, cfg.Scheduler.TickInterval, log)

	app := &App{
		cfg:        cfg,
		log:        log.WithComponent("app"),
		stores:     stores,
		metrics:    m,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		closeRedis: closeRedis,
	}
	if cfg.Ops.Enabled {
		app.opsServer = ops.NewServer(stores.Queue, stores.Roasters, m, cfg.Ops.Addr, log)
	}
	return app, nil
}

// SeedRoasters upserts the configured roasters.
func (a *App) SeedRoasters(ctx context.Context) error {
	for _, rc := range a.cfg.Roasters {
		if err := a.stores.Roasters.UpsertRoaster(ctx, rc.ToDomain()); err != nil {
			return fmt.Errorf("seed roaster %s: %w", rc.ID, err)
		}
	}
	a.log.Info("roasters seeded", "count", len(a.cfg.Roasters))
	return nil
}

// Run starts the scheduler, dispatcher, and ops server, blocking until
// the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.SeedRoasters(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := []func(context.Context) error{
		a.scheduler.Run,
		a.dispatcher.Run,
	}
	if a.opsServer != nil {
		tasks = append(tasks, a.opsServer.Run)
	}

	// The first task to fail cancels the rest.
	var wg sync.WaitGroup
	errCh := make(chan error, len(tasks))
	for _, task := range tasks {
		wg.Add(1)
		go func(run func(context.Context) error) {
			defer wg.Done()
			if err := run(runCtx); err != nil {
				errCh <- err
				cancel()
			}
		}(task)
	}
	wg.Wait()
	close(errCh)

	if cerr := a.Close(); cerr != nil {
		a.log.Error("shutdown cleanup failed", "error", cerr)
	}

	for err := range errCh {
		if !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// Close releases external connections.
func (a *App) Close() error {
	var firstErr error
	if a.closeRedis != nil {
		if err := a.closeRedis(); err != nil {
			firstErr = err
		}
	}
	if err := a.stores.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
