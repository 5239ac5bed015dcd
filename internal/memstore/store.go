// Package memstore provides an in-memory implementation of the job
// queue and roaster state stores. It backs unit tests and single-node
// development runs where no Postgres instance is configured.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonesrussell/beancrawl/internal/domain"
)

// Store holds jobs and roaster state under one mutex. All methods are
// safe for concurrent use; claims and debits are atomic because they
// happen inside the lock.
type Store struct {
	mu       sync.Mutex
	jobs     map[string]*domain.Job
	order    []string
	roasters map[string]*domain.Roaster
	products map[string]*domain.Product
	now      func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		jobs:     make(map[string]*domain.Job),
		roasters: make(map[string]*domain.Roaster),
		products: make(map[string]*domain.Product),
		now:      time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// copyJob returns a copy so callers cannot mutate store state.
func copyJob(j *domain.Job) *domain.Job {
	c := *j
	c.StrategiesTried = append(domain.StrategyList(nil), j.StrategiesTried...)
	return &c
}

// copyRoaster returns a copy.
func copyRoaster(r *domain.Roaster) *domain.Roaster {
	c := *r
	return &c
}

// --- roaster state ---

// UpsertRoaster inserts or replaces a roaster record.
func (s *Store) UpsertRoaster(_ context.Context, r *domain.Roaster) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roasters[r.ID] = copyRoaster(r)
	return nil
}

// GetRoaster returns a roaster by ID.
func (s *Store) GetRoaster(_ context.Context, id string) (*domain.Roaster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roasters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRoasterNotFound, id)
	}
	return copyRoaster(r), nil
}

// ListRoasters returns all roasters.
func (s *Store) ListRoasters(_ context.Context) ([]*domain.Roaster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Roaster, 0, len(s.roasters))
	for _, r := range s.roasters {
		out = append(out, copyRoaster(r))
	}
	return out, nil
}

// SetLearnedStrategy records the strategy that last succeeded for a
// roaster. The cascade is the only caller, and only for non-scrape
// successes.
func (s *Store) SetLearnedStrategy(_ context.Context, id string, strategy domain.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roasters[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRoasterNotFound, id)
	}
	r.LearnedStrategy = strategy
	r.UpdatedAt = s.now()
	return nil
}

// Debit implements budget.Store.
func (s *Store) Debit(_ context.Context, roasterID string, costUnits int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roasters[roasterID]
	if !ok {
		return false, fmt.Errorf("%w: %s", domain.ErrRoasterNotFound, roasterID)
	}

	if !r.FallbackEnabled || r.BudgetRemaining < costUnits {
		return false, nil
	}

	r.BudgetRemaining -= costUnits
	r.UpdatedAt = s.now()
	return true, nil
}

// DisableFallback implements budget.Store. Returns true only on the
// call that flips fallback off.
func (s *Store) DisableFallback(_ context.Context, roasterID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roasters[roasterID]
	if !ok {
		return false, fmt.Errorf("%w: %s", domain.ErrRoasterNotFound, roasterID)
	}

	if !r.FallbackEnabled {
		return false, nil
	}

	r.FallbackEnabled = false
	r.FallbackDisabledAt = &at
	r.UpdatedAt = s.now()
	return true, nil
}

// ResetBudget implements budget.Store.
func (s *Store) ResetBudget(_ context.Context, roasterID string, newLimit *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roasters[roasterID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRoasterNotFound, roasterID)
	}

	if newLimit != nil {
		r.BudgetLimit = *newLimit
	}
	r.BudgetRemaining = r.BudgetLimit
	r.FallbackEnabled = true
	r.FallbackDisabledAt = nil
	r.UpdatedAt = s.now()
	return nil
}

// --- job queue ---

// Enqueue implements queue.Store.
func (s *Store) Enqueue(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.jobs {
		if existing.RoasterID == job.RoasterID &&
			existing.JobType == job.JobType &&
			!existing.Status.Terminal() {
			return fmt.Errorf("%w: roaster %s type %s",
				domain.ErrDuplicateJob, job.RoasterID, job.JobType)
		}
	}

	stored := copyJob(job)
	stored.Status = domain.JobStatusQueued
	if stored.NextAttemptAt.IsZero() {
		stored.NextAttemptAt = stored.ScheduledAt
	}
	now := s.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.jobs[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	return nil
}

// runningCount counts running jobs for a roaster. Caller holds the lock.
func (s *Store) runningCount(roasterID string) int {
	count := 0
	for _, j := range s.jobs {
		if j.RoasterID == roasterID && j.Status == domain.JobStatusRunning {
			count++
		}
	}
	return count
}

// concurrencyLimit resolves a roaster's cap. Caller holds the lock.
func (s *Store) concurrencyLimit(roasterID string) int {
	if r, ok := s.roasters[roasterID]; ok && r.ConcurrencyLimit > 0 {
		return r.ConcurrencyLimit
	}
	return domain.DefaultConcurrencyLimit
}

// ClaimNext implements queue.Store.
func (s *Store) ClaimNext(_ context.Context, now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status != domain.JobStatusQueued && j.Status != domain.JobStatusRetrying {
			continue
		}
		if j.NextAttemptAt.After(now) {
			continue
		}
		if s.runningCount(j.RoasterID) >= s.concurrencyLimit(j.RoasterID) {
			continue
		}

		j.Status = domain.JobStatusRunning
		startedAt := s.now()
		j.StartedAt = &startedAt
		j.UpdatedAt = startedAt
		return copyJob(j), nil
	}

	return nil, domain.ErrNoJobAvailable
}

// mutableJob fetches a non-terminal job for transition. Caller holds
// the lock.
func (s *Store) mutableJob(jobID string) (*domain.Job, error) {
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	if j.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobTerminal, jobID)
	}
	return j, nil
}

// MarkSucceeded implements queue.Store.
func (s *Store) MarkSucceeded(_ context.Context, jobID string, tried domain.StrategyList) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.mutableJob(jobID)
	if err != nil {
		return err
	}

	now := s.now()
	j.Status = domain.JobStatusSucceeded
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.LastErrorKind = nil
	j.LastErrorMsg = nil
	j.StrategiesTried = append(domain.StrategyList(nil), tried...)
	return nil
}

// MarkRetrying implements queue.Store.
func (s *Store) MarkRetrying(
	_ context.Context,
	jobID string,
	nextAttemptAt time.Time,
	errKind domain.ErrorKind,
	errMsg string,
	tried domain.StrategyList,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.mutableJob(jobID)
	if err != nil {
		return err
	}

	kind := string(errKind)
	j.Status = domain.JobStatusRetrying
	j.Attempt++
	j.NextAttemptAt = nextAttemptAt
	j.LastErrorKind = &kind
	j.LastErrorMsg = &errMsg
	j.StrategiesTried = append(domain.StrategyList(nil), tried...)
	j.UpdatedAt = s.now()
	return nil
}

// MarkDead implements queue.Store.
func (s *Store) MarkDead(
	_ context.Context,
	jobID string,
	errKind domain.ErrorKind,
	errMsg string,
	tried domain.StrategyList,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.mutableJob(jobID)
	if err != nil {
		return err
	}

	now := s.now()
	kind := string(errKind)
	j.Status = domain.JobStatusDead
	j.Attempt++
	j.CompletedAt = &now
	j.LastErrorKind = &kind
	j.LastErrorMsg = &errMsg
	j.StrategiesTried = append(domain.StrategyList(nil), tried...)
	j.UpdatedAt = now
	return nil
}

// GetJob implements queue.Store.
func (s *Store) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	return copyJob(j), nil
}

// ListJobs implements queue.Store. Jobs are returned newest first.
func (s *Store) ListJobs(
	_ context.Context,
	status domain.JobStatus,
	limit, offset int,
) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*domain.Job, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		j := s.jobs[s.order[i]]
		if status != "" && j.Status != status {
			continue
		}
		matched = append(matched, j)
	}

	if offset >= len(matched) {
		return []*domain.Job{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	out := make([]*domain.Job, len(matched))
	for i, j := range matched {
		out[i] = copyJob(j)
	}
	return out, nil
}

// CountByStatus implements queue.Store.
func (s *Store) CountByStatus(_ context.Context) (map[domain.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[domain.JobStatus]int)
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

// --- catalog ---

// UpsertProducts records one fetch's products. Existing rows keep
// their first_seen timestamp.
func (s *Store) UpsertProducts(_ context.Context, roasterID string, products []domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for i := range products {
		p := products[i]
		p.RoasterID = roasterID
		p.LastSeenAt = now

		key := roasterID + "/" + p.PlatformKey
		if existing, ok := s.products[key]; ok {
			p.ID = existing.ID
			p.FirstSeenAt = existing.FirstSeenAt
		} else {
			p.FirstSeenAt = now
		}
		s.products[key] = &p
	}
	return nil
}

// ListProducts returns a roaster's catalog.
func (s *Store) ListProducts(_ context.Context, roasterID string) ([]*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Product
	for _, p := range s.products {
		if p.RoasterID != roasterID {
			continue
		}
		c := *p
		out = append(out, &c)
	}
	return out, nil
}
