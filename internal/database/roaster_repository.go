package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/beancrawl/internal/domain"
)

// roasterSelectColumns lists columns for SELECT queries on roasters.
const roasterSelectColumns = `id, name, base_url, cadence_full, cadence_price_only,
	concurrency_limit, learned_strategy, fallback_enabled, budget_limit,
	budget_remaining, fallback_disabled_at, created_at, updated_at`

// RoasterRepository handles database operations for roaster state,
// including the scrape budget ledger.
type RoasterRepository struct {
	db *sqlx.DB
}

// NewRoasterRepository creates a new roaster repository.
func NewRoasterRepository(db *sqlx.DB) *RoasterRepository {
	return &RoasterRepository{db: db}
}

// Upsert inserts or updates a roaster's configured fields. Learned
// strategy and budget state are preserved on conflict so config
// reloads do not clobber runtime state.
func (r *RoasterRepository) Upsert(ctx context.Context, roaster *domain.Roaster) error {
	query := `
		INSERT INTO roasters (id, name, base_url, cadence_full, cadence_price_only,
			concurrency_limit, learned_strategy, fallback_enabled, budget_limit, budget_remaining)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			base_url = EXCLUDED.base_url,
			cadence_full = EXCLUDED.cadence_full,
			cadence_price_only = EXCLUDED.cadence_price_only,
			concurrency_limit = EXCLUDED.concurrency_limit,
			budget_limit = EXCLUDED.budget_limit,
			updated_at = NOW()
	`

	_, err := r.db.ExecContext(
		ctx, query,
		roaster.ID, roaster.Name, roaster.BaseURL,
		roaster.CadenceFull, roaster.CadencePriceOnly,
		roaster.ConcurrencyLimit, roaster.LearnedStrategy,
		roaster.FallbackEnabled, roaster.BudgetLimit, roaster.BudgetRemaining,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert roaster: %w", err)
	}

	return nil
}

// GetRoaster returns a roaster by ID.
func (r *RoasterRepository) GetRoaster(ctx context.Context, id string) (*domain.Roaster, error) {
	query := `SELECT ` + roasterSelectColumns + ` FROM roasters WHERE id = $1`

	var roaster domain.Roaster
	err := r.db.GetContext(ctx, &roaster, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRoasterNotFound, id)
		}
		return nil, fmt.Errorf("failed to get roaster: %w", err)
	}

	return &roaster, nil
}

// ListRoasters returns all roasters ordered by ID.
func (r *RoasterRepository) ListRoasters(ctx context.Context) ([]*domain.Roaster, error) {
	query := `SELECT ` + roasterSelectColumns + ` FROM roasters ORDER BY id`

	var roasters []*domain.Roaster
	if err := r.db.SelectContext(ctx, &roasters, query); err != nil {
		return nil, fmt.Errorf("failed to list roasters: %w", err)
	}

	return roasters, nil
}

// SetLearnedStrategy records the strategy that last succeeded for a
// roaster.
func (r *RoasterRepository) SetLearnedStrategy(ctx context.Context, id string, strategy domain.Strategy) error {
	query := `UPDATE roasters SET learned_strategy = $2, updated_at = NOW() WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, strategy)
	if err != nil {
		return fmt.Errorf("failed to set learned strategy: %w", err)
	}

	return requireRoasterRow(res, id)
}

// Debit atomically subtracts costUnits from the roaster's remaining
// budget. Returns false without mutating when fallback is disabled or
// the remaining budget cannot cover the cost.
func (r *RoasterRepository) Debit(ctx context.Context, roasterID string, costUnits int) (bool, error) {
	query := `
		UPDATE roasters
		SET budget_remaining = budget_remaining - $2, updated_at = NOW()
		WHERE id = $1
		  AND fallback_enabled
		  AND budget_remaining >= $2
	`

	res, err := r.db.ExecContext(ctx, query, roasterID, costUnits)
	if err != nil {
		return false, fmt.Errorf("failed to debit budget: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read debit result: %w", err)
	}
	if rows > 0 {
		return true, nil
	}

	// Denied or missing; a lookup tells them apart.
	if _, getErr := r.GetRoaster(ctx, roasterID); getErr != nil {
		return false, getErr
	}
	return false, nil
}

// DisableFallback flips fallback off. The WHERE clause makes the flip
// observable exactly once: only the call that transitions the flag
// sees an affected row.
func (r *RoasterRepository) DisableFallback(ctx context.Context, roasterID string, at time.Time) (bool, error) {
	query := `
		UPDATE roasters
		SET fallback_enabled = FALSE, fallback_disabled_at = $2, updated_at = NOW()
		WHERE id = $1 AND fallback_enabled
	`

	res, err := r.db.ExecContext(ctx, query, roasterID, at)
	if err != nil {
		return false, fmt.Errorf("failed to disable fallback: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read disable result: %w", err)
	}
	if rows > 0 {
		return true, nil
	}

	if _, getErr := r.GetRoaster(ctx, roasterID); getErr != nil {
		return false, getErr
	}
	return false, nil
}

// ResetBudget restores the remaining budget and re-enables fallback.
// When newLimit is non-nil the configured limit is replaced first.
func (r *RoasterRepository) ResetBudget(ctx context.Context, roasterID string, newLimit *int) error {
	query := `
		UPDATE roasters
		SET budget_limit = COALESCE($2, budget_limit),
			budget_remaining = COALESCE($2, budget_limit),
			fallback_enabled = TRUE,
			fallback_disabled_at = NULL,
			updated_at = NOW()
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, roasterID, newLimit)
	if err != nil {
		return fmt.Errorf("failed to reset budget: %w", err)
	}

	return requireRoasterRow(res, roasterID)
}

func requireRoasterRow(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRoasterNotFound, id)
	}
	return nil
}
