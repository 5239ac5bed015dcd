// Package fetch defines the strategy boundary for obtaining catalog
// data and the concrete platform clients behind it.
//
// Fetch failures are classified with domain.Transient / domain.Permanent
// so the cascade and retry policy can branch on kind without inspecting
// platform details.
package fetch

import (
	"context"

	"github.com/jonesrussell/beancrawl/internal/domain"
)

// Payload is the catalog data produced by one successful fetch.
type Payload struct {
	Products    []domain.Product
	Raw         []byte
	ContentHash string
	FetchedVia  domain.Strategy
}

// Strategy is one method of obtaining catalog data for a roaster.
// Implementations honor the context deadline; expiry surfaces as a
// transient failure.
type Strategy interface {
	Name() domain.Strategy
	Fetch(ctx context.Context, roaster domain.Roaster, jobType domain.JobType) (*Payload, error)
}

// Registry maps strategy names to implementations.
type Registry map[domain.Strategy]Strategy

// NewRegistry builds a registry from the given strategies.
func NewRegistry(strategies ...Strategy) Registry {
	r := make(Registry, len(strategies))
	for _, s := range strategies {
		r[s.Name()] = s
	}
	return r
}

// Get returns the implementation for a strategy name.
func (r Registry) Get(name domain.Strategy) (Strategy, bool) {
	s, ok := r[name]
	return s, ok
}
