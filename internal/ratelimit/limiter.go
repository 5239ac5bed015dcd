// Package ratelimit bounds the rate of expensive calls using sliding
// windows shared across strategies and tenants.
//
// Windows are aligned to wall-clock boundaries (the top of the minute,
// hour, and UTC day), not to the first request in a burst. Scopes are
// independent strings such as "roaster:<id>:scrape" or "global:llm";
// callers enforce both per-tenant and global ceilings by acquiring on
// both scopes before proceeding.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jonesrussell/beancrawl/internal/domain"
)

// pollInterval is how often a blocking acquire re-checks for headroom.
const pollInterval = 100 * time.Millisecond

// Limits holds the per-window ceilings for a scope. A zero value means
// the window is unlimited.
type Limits struct {
	PerMinute int `yaml:"per_minute" mapstructure:"per_minute"`
	PerHour   int `yaml:"per_hour" mapstructure:"per_hour"`
	PerDay    int `yaml:"per_day" mapstructure:"per_day"`
}

// Unlimited reports whether no window has a ceiling.
func (l Limits) Unlimited() bool {
	return l.PerMinute == 0 && l.PerHour == 0 && l.PerDay == 0
}

// Limiter bounds call rate per scope.
type Limiter interface {
	// TryAcquire atomically checks every configured window for the scope.
	// If all have headroom it increments them and returns true; otherwise
	// it returns false with no partial increments.
	TryAcquire(ctx context.Context, scope string, cost int) (bool, error)

	// AcquireBlocking polls until capacity frees or the timeout elapses,
	// returning domain.ErrRateLimitExceeded on timeout.
	AcquireBlocking(ctx context.Context, scope string, cost int, timeout time.Duration) error
}

// window identifies one wall-clock-aligned counting window.
type window struct {
	name string
	size time.Duration
}

var windows = []window{
	{name: "minute", size: time.Minute},
	{name: "hour", size: time.Hour},
	{name: "day", size: 24 * time.Hour},
}

// start returns the wall-clock-aligned start of the window containing t.
// Day windows roll at midnight UTC.
func (w window) start(t time.Time) time.Time {
	return t.UTC().Truncate(w.size)
}

// limitFor returns the ceiling for a window name, zero meaning unlimited.
func (l Limits) limitFor(name string) int {
	switch name {
	case "minute":
		return l.PerMinute
	case "hour":
		return l.PerHour
	case "day":
		return l.PerDay
	default:
		return 0
	}
}

// acquireBlocking implements the shared poll loop for both limiter
// implementations.
func acquireBlocking(
	ctx context.Context,
	lim Limiter,
	scope string,
	cost int,
	timeout time.Duration,
) error {
	deadline := time.Now().Add(timeout)

	for {
		ok, err := lim.TryAcquire(ctx, scope, cost)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: scope %s", domain.ErrRateLimitExceeded, scope)
		}

		wait := pollInterval
		if remaining < wait {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
