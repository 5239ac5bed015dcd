// Package alert delivers operator-facing notifications for budget
// exhaustion and dead-lettered jobs.
package alert

import (
	"context"
	"time"

	"github.com/jonesrussell/beancrawl/internal/logger"
)

// Alert reasons emitted by the orchestrator.
const (
	ReasonBudgetExhausted = "budget_exhausted"
	ReasonJobDead         = "job_dead"
)

// Event is one operator notification.
type Event struct {
	RoasterID string    `json:"roaster_id"`
	JobID     string    `json:"job_id,omitempty"`
	Reason    string    `json:"reason"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Sink receives alert events. Implementations must tolerate concurrent
// emits.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// LogSink writes alerts to the structured log at warn level.
type LogSink struct {
	logger logger.Interface
}

// NewLogSink creates a log-backed alert sink.
func NewLogSink(log logger.Interface) *LogSink {
	return &LogSink{logger: log}
}

// Emit logs the event.
func (s *LogSink) Emit(_ context.Context, event Event) error {
	s.logger.Warn("alert",
		"roaster_id", event.RoasterID,
		"job_id", event.JobID,
		"reason", event.Reason,
		"detail", event.Detail,
		"at", event.At,
	)
	return nil
}

// MultiSink fans one event out to several sinks. Emit errors from
// individual sinks do not stop delivery to the rest; the first error is
// returned.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Emit delivers the event to every sink.
func (m *MultiSink) Emit(ctx context.Context, event Event) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Emit(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
