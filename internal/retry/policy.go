// Package retry decides backoff delays and attempt-exhaustion for
// failed jobs.
package retry

import (
	"math/rand"
	"sync"
	"time"

	"github.com/jonesrussell/beancrawl/internal/domain"
)

// Defaults for the retry policy.
const (
	// DefaultBaseDelay is the delay before the first retry.
	DefaultBaseDelay = 1 * time.Second
	// DefaultMaxDelay caps the exponential backoff before jitter.
	DefaultMaxDelay = 16 * time.Second
	// DefaultMaxAttempts is the attempt ceiling before dead-lettering.
	DefaultMaxAttempts = 5
	// DefaultBudgetBackoff is the fixed delay applied to jobs blocked on
	// an exhausted budget. Budget replenishment is operator-triggered, so
	// tight retry loops would only burn queue capacity.
	DefaultBudgetBackoff = 15 * time.Minute

	// jitterFraction bounds the uniform jitter at half the base delay.
	jitterFraction = 0.5
)

// Config configures the retry policy.
type Config struct {
	BaseDelay     time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	MaxAttempts   int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BudgetBackoff time.Duration `yaml:"budget_backoff" mapstructure:"budget_backoff"`
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		BaseDelay:     DefaultBaseDelay,
		MaxDelay:      DefaultMaxDelay,
		MaxAttempts:   DefaultMaxAttempts,
		BudgetBackoff: DefaultBudgetBackoff,
	}
}

// Policy computes backoff delays and retry decisions. Safe for
// concurrent use.
type Policy struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPolicy creates a retry policy. Zero config fields fall back to
// defaults.
func NewPolicy(cfg Config) *Policy {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BudgetBackoff <= 0 {
		cfg.BudgetBackoff = DefaultBudgetBackoff
	}

	return &Policy{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// MaxAttempts returns the attempt ceiling.
func (p *Policy) MaxAttempts() int {
	return p.cfg.MaxAttempts
}

// NextDelay returns the backoff before the given attempt number
// (1-based): base doubling per attempt, capped, plus uniform jitter in
// [0, delay/2].
func (p *Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.cfg.BaseDelay << (attempt - 1)
	if delay > p.cfg.MaxDelay || delay <= 0 {
		delay = p.cfg.MaxDelay
	}

	return delay + p.jitter(delay)
}

// DelayFor returns the backoff for a failure of the given kind before
// the given attempt. Budget-exhausted failures wait a fixed long
// interval instead of the exponential schedule.
func (p *Policy) DelayFor(kind domain.ErrorKind, attempt int) time.Duration {
	if kind == domain.ErrorKindBudgetExhausted {
		return p.cfg.BudgetBackoff + p.jitter(p.cfg.BudgetBackoff)
	}
	return p.NextDelay(attempt)
}

// ShouldRetry reports whether a failure of the given kind on the given
// attempt (1-based count of completed attempts) warrants another try.
func (p *Policy) ShouldRetry(attempt int, kind domain.ErrorKind) bool {
	if kind == domain.ErrorKindPermanent {
		return false
	}
	return attempt < p.cfg.MaxAttempts
}

// jitter returns a uniform random duration in [0, d*jitterFraction).
func (p *Policy) jitter(d time.Duration) time.Duration {
	limit := int64(float64(d) * jitterFraction)
	if limit <= 0 {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.rng.Int63n(limit))
}
