package sink_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/beancrawl/internal/cache"
	"github.com/jonesrussell/beancrawl/internal/domain"
	"github.com/jonesrussell/beancrawl/internal/fetch"
	"github.com/jonesrussell/beancrawl/internal/logger"
	"github.com/jonesrussell/beancrawl/internal/sink"
)

type captureWriter struct {
	writes int
	last   []domain.Product
	err    error
}

func (w *captureWriter) UpsertProducts(_ context.Context, _ string, products []domain.Product) error {
	w.writes++
	w.last = products
	return w.err
}

// failingCache errors on every operation.
type failingCache struct{}

func (failingCache) Get(context.Context, string, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}

func (failingCache) Put(context.Context, string, string, []byte, time.Duration) error {
	return errors.New("cache down")
}

func refreshJob() *domain.Job {
	return &domain.Job{ID: "j1", RoasterID: "r1", JobType: domain.JobTypeFullRefresh}
}

func hashedPayload(hash string) *fetch.Payload {
	return &fetch.Payload{
		Products:    []domain.Product{{PlatformKey: "sku-1", Title: "Kenya AA"}},
		ContentHash: hash,
		FetchedVia:  domain.StrategyShopify,
	}
}

func TestCatalogSink_WritesProducts(t *testing.T) {
	writer := &captureWriter{}
	s := sink.NewCatalogSink(writer, cache.NewMemoryCache(), logger.NewNoOp())

	err := s.Record(context.Background(), refreshJob(), domain.StrategyShopify, hashedPayload("h1"))
	require.NoError(t, err)

	assert.Equal(t, 1, writer.writes)
	require.Len(t, writer.last, 1)
	assert.Equal(t, "sku-1", writer.last[0].PlatformKey)
}

func TestCatalogSink_SkipsUnchangedContent(t *testing.T) {
	writer := &captureWriter{}
	s := sink.NewCatalogSink(writer, cache.NewMemoryCache(), logger.NewNoOp())
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, refreshJob(), domain.StrategyShopify, hashedPayload("h1")))
	require.NoError(t, s.Record(ctx, refreshJob(), domain.StrategyShopify, hashedPayload("h1")))

	assert.Equal(t, 1, writer.writes, "repeat hash must not rewrite the catalog")
}

func TestCatalogSink_NewHashWritesAgain(t *testing.T) {
	writer := &captureWriter{}
	s := sink.NewCatalogSink(writer, cache.NewMemoryCache(), logger.NewNoOp())
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, refreshJob(), domain.StrategyShopify, hashedPayload("h1")))
	require.NoError(t, s.Record(ctx, refreshJob(), domain.StrategyShopify, hashedPayload("h2")))

	assert.Equal(t, 2, writer.writes)
}

func TestCatalogSink_JobTypesTrackedSeparately(t *testing.T) {
	writer := &captureWriter{}
	s := sink.NewCatalogSink(writer, cache.NewMemoryCache(), logger.NewNoOp())
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, refreshJob(), domain.StrategyShopify, hashedPayload("h1")))

	priceJob := refreshJob()
	priceJob.JobType = domain.JobTypePriceOnly
	require.NoError(t, s.Record(ctx, priceJob, domain.StrategyShopify, hashedPayload("h1")))

	assert.Equal(t, 2, writer.writes, "a price-only run is not suppressed by a full-refresh hash")
}

func TestCatalogSink_NilCacheAlwaysWrites(t *testing.T) {
	writer := &captureWriter{}
	s := sink.NewCatalogSink(writer, nil, logger.NewNoOp())
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, refreshJob(), domain.StrategyShopify, hashedPayload("h1")))
	require.NoError(t, s.Record(ctx, refreshJob(), domain.StrategyShopify, hashedPayload("h1")))

	assert.Equal(t, 2, writer.writes)
}

func TestCatalogSink_EmptyHashSkipsCache(t *testing.T) {
	writer := &captureWriter{}
	s := sink.NewCatalogSink(writer, failingCache{}, logger.NewNoOp())

	err := s.Record(context.Background(), refreshJob(), domain.StrategyScrape, hashedPayload(""))
	require.NoError(t, err)
	assert.Equal(t, 1, writer.writes)
}

func TestCatalogSink_CacheFailureDoesNotBlockWrite(t *testing.T) {
	writer := &captureWriter{}
	s := sink.NewCatalogSink(writer, failingCache{}, logger.NewNoOp())

	err := s.Record(context.Background(), refreshJob(), domain.StrategyShopify, hashedPayload("h1"))
	require.NoError(t, err)
	assert.Equal(t, 1, writer.writes, "the cache is an optimization, not a dependency")
}

func TestCatalogSink_WriterErrorPropagates(t *testing.T) {
	writer := &captureWriter{err: errors.New("connection refused")}
	s := sink.NewCatalogSink(writer, cache.NewMemoryCache(), logger.NewNoOp())

	err := s.Record(context.Background(), refreshJob(), domain.StrategyShopify, hashedPayload("h1"))
	assert.Error(t, err)

	// The failed write must not mark the hash seen; the retry writes.
	writer.err = nil
	require.NoError(t, s.Record(context.Background(), refreshJob(), domain.StrategyShopify, hashedPayload("h1")))
	assert.Equal(t, 2, writer.writes)
}

func TestLogSink_NeverFails(t *testing.T) {
	s := sink.NewLogSink(logger.NewNoOp())

	err := s.Record(context.Background(), refreshJob(), domain.StrategyShopify, hashedPayload("h1"))
	assert.NoError(t, err)
}
