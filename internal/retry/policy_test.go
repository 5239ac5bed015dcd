package retry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/beancrawl/internal/domain"
	"github.com/jonesrussell/beancrawl/internal/retry"
)

func TestNextDelay_ExponentialSchedule(t *testing.T) {
	p := retry.NewPolicy(retry.DefaultConfig())

	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{attempt: 1, base: 1 * time.Second},
		{attempt: 2, base: 2 * time.Second},
		{attempt: 3, base: 4 * time.Second},
		{attempt: 4, base: 8 * time.Second},
		{attempt: 5, base: 16 * time.Second},
		// Capped at max from here on.
		{attempt: 6, base: 16 * time.Second},
		{attempt: 10, base: 16 * time.Second},
	}

	for _, tt := range tests {
		delay := p.NextDelay(tt.attempt)
		assert.GreaterOrEqual(t, delay, tt.base, "attempt %d", tt.attempt)
		assert.Less(t, delay, tt.base+tt.base/2, "attempt %d jitter bound", tt.attempt)
	}
}

func TestNextDelay_JitterVaries(t *testing.T) {
	p := retry.NewPolicy(retry.DefaultConfig())

	seen := make(map[time.Duration]bool)
	for i := 0; i < 50; i++ {
		seen[p.NextDelay(3)] = true
	}
	assert.Greater(t, len(seen), 1, "jitter should produce varying delays")
}

func TestDelayFor_BudgetExhaustedUsesLongBackoff(t *testing.T) {
	p := retry.NewPolicy(retry.Config{
		BaseDelay:     time.Second,
		MaxDelay:      16 * time.Second,
		MaxAttempts:   5,
		BudgetBackoff: 15 * time.Minute,
	})

	delay := p.DelayFor(domain.ErrorKindBudgetExhausted, 1)
	assert.GreaterOrEqual(t, delay, 15*time.Minute)

	// Other kinds follow the exponential schedule.
	delay = p.DelayFor(domain.ErrorKindTransient, 1)
	assert.Less(t, delay, 2*time.Second)
}

func TestShouldRetry(t *testing.T) {
	p := retry.NewPolicy(retry.DefaultConfig())

	assert.True(t, p.ShouldRetry(1, domain.ErrorKindTransient))
	assert.True(t, p.ShouldRetry(4, domain.ErrorKindTransient))
	assert.False(t, p.ShouldRetry(5, domain.ErrorKindTransient), "max attempts reached")

	assert.False(t, p.ShouldRetry(1, domain.ErrorKindPermanent), "permanent failures never retry")

	assert.True(t, p.ShouldRetry(1, domain.ErrorKindRateLimited))
	assert.True(t, p.ShouldRetry(1, domain.ErrorKindBudgetExhausted))
}

func TestNewPolicy_ZeroConfigFallsBackToDefaults(t *testing.T) {
	p := retry.NewPolicy(retry.Config{})

	assert.Equal(t, retry.DefaultMaxAttempts, p.MaxAttempts())
	assert.GreaterOrEqual(t, p.NextDelay(1), retry.DefaultBaseDelay)
}
