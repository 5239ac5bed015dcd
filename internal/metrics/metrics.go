// Package metrics provides in-process counters for the job pipeline.
package metrics

import (
	"sync"
	"time"
)

// Metrics holds the pipeline counters.
type Metrics struct {
	// JobsSucceeded is the number of jobs that completed with data.
	JobsSucceeded int64
	// JobsRetried is the number of retry schedules issued.
	JobsRetried int64
	// JobsDead is the number of jobs dead-lettered.
	JobsDead int64
	// StrategyAttempts is the total number of strategy attempts.
	StrategyAttempts int64
	// RateLimitedAttempts is the number of scrape attempts denied by a
	// rate window.
	RateLimitedAttempts int64
	// BudgetDeniedAttempts is the number of scrape attempts denied by
	// the budget ledger.
	BudgetDeniedAttempts int64
	// ProductsRecorded is the total number of product rows written.
	ProductsRecorded int64
	// LastSuccessTime is when the last job succeeded.
	LastSuccessTime time.Time
	// StartTime is when the metrics collection began.
	StartTime time.Time
	// mu protects concurrent access to metrics.
	mu sync.Mutex
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	JobsSucceeded        int64     `json:"jobs_succeeded"`
	JobsRetried          int64     `json:"jobs_retried"`
	JobsDead             int64     `json:"jobs_dead"`
	StrategyAttempts     int64     `json:"strategy_attempts"`
	RateLimitedAttempts  int64     `json:"rate_limited_attempts"`
	BudgetDeniedAttempts int64     `json:"budget_denied_attempts"`
	ProductsRecorded     int64     `json:"products_recorded"`
	LastSuccessTime      time.Time `json:"last_success_time"`
	StartTime            time.Time `json:"start_time"`
	Uptime               string    `json:"uptime"`
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// RecordSuccess records a completed job and its product count.
func (m *Metrics) RecordSuccess(products int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.JobsSucceeded++
	m.ProductsRecorded += int64(products)
	m.LastSuccessTime = time.Now()
}

// RecordRetry records a retry schedule.
func (m *Metrics) RecordRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.JobsRetried++
}

// RecordDead records a dead-lettered job.
func (m *Metrics) RecordDead() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.JobsDead++
}

// RecordAttempts folds one cascade run's attempt counts in.
func (m *Metrics) RecordAttempts(total, rateLimited, budgetDenied int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StrategyAttempts += int64(total)
	m.RateLimitedAttempts += int64(rateLimited)
	m.BudgetDeniedAttempts += int64(budgetDenied)
}

// GetJobsSucceeded returns the number of jobs that completed with data.
func (m *Metrics) GetJobsSucceeded() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.JobsSucceeded
}

// GetJobsDead returns the number of jobs dead-lettered.
func (m *Metrics) GetJobsDead() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.JobsDead
}

// GetSnapshot returns a copy of all counters.
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		JobsSucceeded:        m.JobsSucceeded,
		JobsRetried:          m.JobsRetried,
		JobsDead:             m.JobsDead,
		StrategyAttempts:     m.StrategyAttempts,
		RateLimitedAttempts:  m.RateLimitedAttempts,
		BudgetDeniedAttempts: m.BudgetDeniedAttempts,
		ProductsRecorded:     m.ProductsRecorded,
		LastSuccessTime:      m.LastSuccessTime,
		StartTime:            m.StartTime,
		Uptime:               time.Since(m.StartTime).Round(time.Second).String(),
	}
}

// Reset zeroes all counters. StartTime is preserved.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.JobsSucceeded = 0
	m.JobsRetried = 0
	m.JobsDead = 0
	m.StrategyAttempts = 0
	m.RateLimitedAttempts = 0
	m.BudgetDeniedAttempts = 0
	m.ProductsRecorded = 0
	m.LastSuccessTime = time.Time{}
}
