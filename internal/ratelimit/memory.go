package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a process-local limiter. Suitable for single-node
// deployments and tests; multi-node deployments should use the Redis
// limiter so all dispatchers share one set of windows.
type MemoryLimiter struct {
	defaults Limits
	scopes   map[string]Limits

	mu       sync.Mutex
	counters map[string]*scopeCounters
	now      func() time.Time
}

// scopeCounters holds the live window counts for one scope.
type scopeCounters struct {
	starts map[string]time.Time
	counts map[string]int
}

// NewMemoryLimiter creates an in-memory limiter. scopes overrides the
// default limits for specific scope strings.
func NewMemoryLimiter(defaults Limits, scopes map[string]Limits) *MemoryLimiter {
	return &MemoryLimiter{
		defaults: defaults,
		scopes:   scopes,
		counters: make(map[string]*scopeCounters),
		now:      time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (m *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	m.now = now
	return m
}

// limitsFor resolves the limits that apply to a scope.
func (m *MemoryLimiter) limitsFor(scope string) Limits {
	if l, ok := m.scopes[scope]; ok {
		return l
	}
	return m.defaults
}

// TryAcquire implements Limiter.
func (m *MemoryLimiter) TryAcquire(_ context.Context, scope string, cost int) (bool, error) {
	if cost <= 0 {
		cost = 1
	}

	limits := m.limitsFor(scope)
	if limits.Unlimited() {
		return true, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	sc := m.counters[scope]
	if sc == nil {
		sc = &scopeCounters{
			starts: make(map[string]time.Time),
			counts: make(map[string]int),
		}
		m.counters[scope] = sc
	}

	// Roll over any window whose wall-clock boundary has passed.
	for _, w := range windows {
		start := w.start(now)
		if !sc.starts[w.name].Equal(start) {
			sc.starts[w.name] = start
			sc.counts[w.name] = 0
		}
	}

	// Check every window before incrementing any.
	for _, w := range windows {
		limit := limits.limitFor(w.name)
		if limit > 0 && sc.counts[w.name]+cost > limit {
			return false, nil
		}
	}

	for _, w := range windows {
		sc.counts[w.name] += cost
	}

	return true, nil
}

// AcquireBlocking implements Limiter.
func (m *MemoryLimiter) AcquireBlocking(
	ctx context.Context,
	scope string,
	cost int,
	timeout time.Duration,
) error {
	return acquireBlocking(ctx, m, scope, cost, timeout)
}
