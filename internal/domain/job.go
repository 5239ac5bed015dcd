package domain

import (
	"time"
)

// JobType distinguishes a full catalog refresh from a price-only pass.
type JobType string

const (
	// JobTypeFullRefresh re-reads the entire catalog.
	JobTypeFullRefresh JobType = "full_refresh"
	// JobTypePriceOnly refreshes prices and availability only.
	JobTypePriceOnly JobType = "price_only"
)

// Valid reports whether the job type is a known value.
func (t JobType) Valid() bool {
	return t == JobTypeFullRefresh || t == JobTypePriceOnly
}

// JobStatus is the lifecycle state of a scrape job.
type JobStatus string

const (
	// JobStatusQueued means the job is waiting to be claimed.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning means a dispatcher worker holds the job.
	JobStatusRunning JobStatus = "running"
	// JobStatusRetrying means the job failed and waits for its next attempt.
	JobStatusRetrying JobStatus = "retrying"
	// JobStatusSucceeded is terminal: the cascade produced data.
	JobStatusSucceeded JobStatus = "succeeded"
	// JobStatusDead is terminal: retries exhausted, needs manual review.
	JobStatusDead JobStatus = "dead"
)

// Terminal reports whether the status is immutable.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusDead
}

// Job represents one scheduled scrape run for a roaster.
type Job struct {
	ID            string     `json:"id" db:"id"`
	RoasterID     string     `json:"roaster_id" db:"roaster_id"`
	JobType       JobType    `json:"job_type" db:"job_type"`
	Status        JobStatus  `json:"status" db:"status"`
	Attempt       int        `json:"attempt" db:"attempt"`
	ScheduledAt   time.Time  `json:"scheduled_at" db:"scheduled_at"`
	NextAttemptAt time.Time  `json:"next_attempt_at" db:"next_attempt_at"`
	StartedAt     *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	LastErrorKind *string    `json:"last_error_kind,omitempty" db:"last_error_kind"`
	LastErrorMsg  *string    `json:"last_error_msg,omitempty" db:"last_error_msg"`
	// StrategiesTried records, in order, the strategies attempted during
	// the most recent run of this job.
	StrategiesTried StrategyList `json:"strategies_tried" db:"strategies_tried"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

// AttemptOutcome tags the result of a single strategy attempt.
type AttemptOutcome string

const (
	// OutcomeSuccess means the strategy produced catalog data.
	OutcomeSuccess AttemptOutcome = "success"
	// OutcomeTransientFailure means the strategy failed retryably.
	OutcomeTransientFailure AttemptOutcome = "transient_failure"
	// OutcomePermanentFailure means the strategy can never work as configured.
	OutcomePermanentFailure AttemptOutcome = "permanent_failure"
	// OutcomeBudgetDenied means the budget ledger refused the debit.
	OutcomeBudgetDenied AttemptOutcome = "budget_denied"
	// OutcomeRateLimited means the rate limiter had no headroom.
	OutcomeRateLimited AttemptOutcome = "rate_limited"
)

// StrategyAttempt records one step of a cascade run. It is transient;
// only the ordered strategy names survive on the job row.
type StrategyAttempt struct {
	Strategy  Strategy       `json:"strategy"`
	StartedAt time.Time      `json:"started_at"`
	Outcome   AttemptOutcome `json:"outcome"`
	CostUnits int            `json:"cost_units"`
}
