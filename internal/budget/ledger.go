// Package budget enforces the hard per-roaster spend ceiling for the
// expensive scrape tier.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/jonesrussell/beancrawl/internal/alert"
	"github.com/jonesrussell/beancrawl/internal/logger"
)

// Store is the durable roaster budget state. Implementations must make
// Debit and DisableFallback atomic so concurrent workers never overdraw
// and never double-alert.
type Store interface {
	// Debit decrements budget_remaining by costUnits when fallback is
	// enabled and the remaining budget covers the cost, returning whether
	// the debit applied. Rejected debits leave the balance untouched.
	Debit(ctx context.Context, roasterID string, costUnits int) (bool, error)

	// DisableFallback flips fallback off and stamps the exhaustion time.
	// Returns true only for the call that performed the flip, so the
	// caller can alert exactly once per exhaustion episode.
	DisableFallback(ctx context.Context, roasterID string, at time.Time) (bool, error)

	// ResetBudget restores budget_remaining (to newLimit when non-nil,
	// else to the configured limit), clears the exhaustion stamp, and
	// re-enables fallback.
	ResetBudget(ctx context.Context, roasterID string, newLimit *int) error
}

// Ledger tracks the consumable scrape budget per roaster. The ledger
// never self-replenishes; only an operator Reset restores spend.
type Ledger struct {
	store  Store
	alerts alert.Sink
	logger logger.Interface
	now    func() time.Time
}

// NewLedger creates a budget ledger.
func NewLedger(store Store, alerts alert.Sink, log logger.Interface) *Ledger {
	return &Ledger{
		store:  store,
		alerts: alerts,
		logger: log.WithComponent("budget"),
		now:    time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// TryDebit attempts to spend costUnits of the roaster's budget. One
// debit covers one scrape attempt; callers size the cost for the
// operation (cheap discovery vs. per-page extraction).
//
// On the first refusal since the last reset the roaster's fallback is
// disabled and a single budget_exhausted alert is emitted; later
// refusals stay silent until an operator resets the budget.
func (l *Ledger) TryDebit(ctx context.Context, roasterID string, costUnits int) (bool, error) {
	if costUnits <= 0 {
		return false, fmt.Errorf("invalid debit of %d units for roaster %s", costUnits, roasterID)
	}

	ok, err := l.store.Debit(ctx, roasterID, costUnits)
	if err != nil {
		return false, fmt.Errorf("debit roaster %s: %w", roasterID, err)
	}
	if ok {
		return true, nil
	}

	flipped, err := l.store.DisableFallback(ctx, roasterID, l.now())
	if err != nil {
		return false, fmt.Errorf("disable fallback for roaster %s: %w", roasterID, err)
	}

	if flipped {
		l.logger.Warn("scrape budget exhausted, fallback disabled",
			"roaster_id", roasterID,
			"cost_units", costUnits,
		)
		if emitErr := l.alerts.Emit(ctx, alert.Event{
			RoasterID: roasterID,
			Reason:    alert.ReasonBudgetExhausted,
			Detail:    fmt.Sprintf("debit of %d units refused", costUnits),
			At:        l.now(),
		}); emitErr != nil {
			l.logger.Error("failed to emit budget alert",
				"roaster_id", roasterID,
				"error", emitErr,
			)
		}
	}

	return false, nil
}

// Reset restores the roaster's budget and re-enables fallback.
// Operator-triggered only.
func (l *Ledger) Reset(ctx context.Context, roasterID string, newLimit *int) error {
	if newLimit != nil && *newLimit < 0 {
		return fmt.Errorf("invalid budget limit %d for roaster %s", *newLimit, roasterID)
	}

	if err := l.store.ResetBudget(ctx, roasterID, newLimit); err != nil {
		return fmt.Errorf("reset budget for roaster %s: %w", roasterID, err)
	}

	l.logger.Info("budget reset", "roaster_id", roasterID)
	return nil
}
