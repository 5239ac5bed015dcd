package domain

import (
	"time"
)

// Product is one catalog entry fetched from a roaster storefront.
// Parsing of weights, roast levels, and sensory fields happens in
// downstream normalization and is not modeled here.
type Product struct {
	ID          string    `json:"id" db:"id"`
	RoasterID   string    `json:"roaster_id" db:"roaster_id"`
	PlatformKey string    `json:"platform_key" db:"platform_key"`
	Title       string    `json:"title" db:"title"`
	URL         string    `json:"url" db:"url"`
	PriceCents  int       `json:"price_cents" db:"price_cents"`
	Currency    string    `json:"currency" db:"currency"`
	Available   bool      `json:"available" db:"available"`
	ImageURL    string    `json:"image_url" db:"image_url"`
	Description string    `json:"description" db:"description"`
	FetchedVia  Strategy  `json:"fetched_via" db:"fetched_via"`
	FirstSeenAt time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at" db:"last_seen_at"`
}
