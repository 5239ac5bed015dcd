// Package domain provides domain models used across the application.
package domain

import (
	"time"
)

// DefaultConcurrencyLimit is the per-roaster cap on simultaneously
// running jobs when the configuration does not set one.
const DefaultConcurrencyLimit = 3

// Strategy identifies one method of obtaining catalog data for a roaster.
type Strategy string

const (
	// StrategyShopify reads the Shopify storefront products.json API.
	StrategyShopify Strategy = "shopify"
	// StrategyWooCommerce reads the WooCommerce store REST API.
	StrategyWooCommerce Strategy = "woocommerce"
	// StrategyScrape drives a DOM scraper against the storefront HTML.
	// This is the expensive tier, gated by budget and rate limits.
	StrategyScrape Strategy = "scrape"
	// StrategyUnknown means no strategy has been learned yet.
	StrategyUnknown Strategy = "unknown"
)

// DefaultStrategyOrder is the fixed fallback priority, cheapest first.
var DefaultStrategyOrder = []Strategy{StrategyShopify, StrategyWooCommerce, StrategyScrape}

// IsExpensive reports whether the strategy is the budget-gated tier.
func (s Strategy) IsExpensive() bool {
	return s == StrategyScrape
}

// Valid reports whether the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyShopify, StrategyWooCommerce, StrategyScrape, StrategyUnknown:
		return true
	default:
		return false
	}
}

// Roaster represents one catalog source scraped on a schedule.
type Roaster struct {
	ID                 string     `json:"id" db:"id"`
	Name               string     `json:"name" db:"name"`
	BaseURL            string     `json:"base_url" db:"base_url"`
	CadenceFull        string     `json:"cadence_full" db:"cadence_full"`
	CadencePriceOnly   string     `json:"cadence_price_only" db:"cadence_price_only"`
	ConcurrencyLimit   int        `json:"concurrency_limit" db:"concurrency_limit"`
	LearnedStrategy    Strategy   `json:"learned_strategy" db:"learned_strategy"`
	FallbackEnabled    bool       `json:"fallback_enabled" db:"fallback_enabled"`
	BudgetLimit        int        `json:"budget_limit" db:"budget_limit"`
	BudgetRemaining    int        `json:"budget_remaining" db:"budget_remaining"`
	FallbackDisabledAt *time.Time `json:"fallback_disabled_at,omitempty" db:"fallback_disabled_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// CandidateStrategies returns the ordered attempt sequence for this
// roaster: the learned strategy first (when known), then the remaining
// defaults cheapest first, without duplicates.
func (r *Roaster) CandidateStrategies() []Strategy {
	candidates := make([]Strategy, 0, len(DefaultStrategyOrder)+1)

	if r.LearnedStrategy != "" && r.LearnedStrategy != StrategyUnknown {
		candidates = append(candidates, r.LearnedStrategy)
	}

	for _, s := range DefaultStrategyOrder {
		if len(candidates) > 0 && candidates[0] == s {
			continue
		}
		candidates = append(candidates, s)
	}

	return candidates
}
