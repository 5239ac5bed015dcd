package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/beancrawl/internal/domain"
)

// productSelectColumns lists columns for SELECT queries on products.
const productSelectColumns = `id, roaster_id, platform_key, title, url, price_cents,
	currency, available, image_url, description, fetched_via, first_seen_at, last_seen_at`

// ProductRepository handles database operations for the catalog.
type ProductRepository struct {
	db *sqlx.DB
}

// NewProductRepository creates a new product repository.
func NewProductRepository(db *sqlx.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// UpsertProducts writes one fetch's products in a single transaction.
// Existing rows keep their id and first_seen_at; everything else
// reflects the latest sighting.
func (r *ProductRepository) UpsertProducts(ctx context.Context, roasterID string, products []domain.Product) error {
	if len(products) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin product upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	query := `
		INSERT INTO products (id, roaster_id, platform_key, title, url, price_cents,
			currency, available, image_url, description, fetched_via, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (roaster_id, platform_key) DO UPDATE SET
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			price_cents = EXCLUDED.price_cents,
			currency = EXCLUDED.currency,
			available = EXCLUDED.available,
			image_url = EXCLUDED.image_url,
			description = EXCLUDED.description,
			fetched_via = EXCLUDED.fetched_via,
			last_seen_at = EXCLUDED.last_seen_at
	`

	now := time.Now().UTC()
	for i := range products {
		p := &products[i]
		id := p.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, execErr := tx.ExecContext(
			ctx, query,
			id, roasterID, p.PlatformKey, p.Title, p.URL, p.PriceCents,
			p.Currency, p.Available, p.ImageURL, p.Description, p.FetchedVia, now,
		)
		if execErr != nil {
			return fmt.Errorf("failed to upsert product %s: %w", p.PlatformKey, execErr)
		}
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("failed to commit product upsert: %w", commitErr)
	}

	return nil
}

// ListProducts returns a roaster's catalog ordered by title.
func (r *ProductRepository) ListProducts(ctx context.Context, roasterID string) ([]*domain.Product, error) {
	query := `SELECT ` + productSelectColumns + ` FROM products WHERE roaster_id = $1 ORDER BY title`

	var products []*domain.Product
	if err := r.db.SelectContext(ctx, &products, query, roasterID); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	return products, nil
}
