// Package sink persists successful fetch results.
package sink

import (
	"context"
	"time"

	"github.com/jonesrussell/beancrawl/internal/cache"
	"github.com/jonesrussell/beancrawl/internal/domain"
	"github.com/jonesrussell/beancrawl/internal/fetch"
	"github.com/jonesrussell/beancrawl/internal/logger"
)

// DefaultSeenTTL bounds how long an unchanged catalog snapshot
// suppresses re-writes.
const DefaultSeenTTL = 24 * time.Hour

// seenMarker is the constant value stored under a content hash. It
// must be identical for every write so repeat sightings are idempotent.
var seenMarker = []byte("1")

// ResultSink receives the winning payload of a completed job.
type ResultSink interface {
	Record(ctx context.Context, job *domain.Job, winner domain.Strategy, payload *fetch.Payload) error
}

// ProductWriter upserts a roaster's catalog rows.
type ProductWriter interface {
	UpsertProducts(ctx context.Context, roasterID string, products []domain.Product) error
}

// CatalogSink writes products through to storage, short-circuiting on
// an unchanged content hash when a cache is configured.
type CatalogSink struct {
	writer  ProductWriter
	cache   cache.Cache
	seenTTL time.Duration
	logger  logger.Interface
}

// NewCatalogSink creates a catalog sink. cache may be nil to disable
// the unchanged-content short circuit.
func NewCatalogSink(writer ProductWriter, c cache.Cache, log logger.Interface) *CatalogSink {
	return &CatalogSink{
		writer:  writer,
		cache:   c,
		seenTTL: DefaultSeenTTL,
		logger:  log.WithComponent("sink"),
	}
}

// Record upserts the payload's products for the job's roaster.
func (s *CatalogSink) Record(
	ctx context.Context,
	job *domain.Job,
	winner domain.Strategy,
	payload *fetch.Payload,
) error {
	log := s.logger.With("job_id", job.ID, "roaster_id", job.RoasterID)

	seenField := job.RoasterID + ":" + string(job.JobType)
	if s.cache != nil && payload.ContentHash != "" {
		if _, found, err := s.cache.Get(ctx, payload.ContentHash, seenField); err != nil {
			log.Warn("content cache lookup failed", "error", err)
		} else if found {
			log.Info("catalog unchanged, skipping write",
				"content_hash", payload.ContentHash,
				"products", len(payload.Products),
			)
			return nil
		}
	}

	if err := s.writer.UpsertProducts(ctx, job.RoasterID, payload.Products); err != nil {
		return err
	}

	// Marked seen only after the write lands, so a failed write is not
	// suppressed on retry.
	if s.cache != nil && payload.ContentHash != "" {
		if err := s.cache.Put(ctx, payload.ContentHash, seenField, seenMarker, s.seenTTL); err != nil {
			log.Warn("content cache store failed", "error", err)
		}
	}

	log.Info("catalog recorded",
		"strategy", string(winner),
		"products", len(payload.Products),
	)
	return nil
}

// LogSink reports results without persisting them. Used for dry runs.
type LogSink struct {
	logger logger.Interface
}

// NewLogSink creates a log-only sink.
func NewLogSink(log logger.Interface) *LogSink {
	return &LogSink{logger: log.WithComponent("sink")}
}

// Record logs the result summary.
func (s *LogSink) Record(
	_ context.Context,
	job *domain.Job,
	winner domain.Strategy,
	payload *fetch.Payload,
) error {
	s.logger.Info("job result",
		"job_id", job.ID,
		"roaster_id", job.RoasterID,
		"strategy", string(winner),
		"products", len(payload.Products),
		"content_hash", payload.ContentHash,
	)
	return nil
}
