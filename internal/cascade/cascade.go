// Package cascade executes the ordered strategy attempt sequence for
// one job: learned strategy first, then the remaining tiers cheapest
// first, with the scrape tier gated by rate limits and the budget
// ledger.
package cascade

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonesrussell/beancrawl/internal/budget"
	"github.com/jonesrussell/beancrawl/internal/domain"
	"github.com/jonesrussell/beancrawl/internal/fetch"
	"github.com/jonesrussell/beancrawl/internal/logger"
	"github.com/jonesrussell/beancrawl/internal/ratelimit"
)

// DefaultFetchTimeout bounds one strategy attempt.
const DefaultFetchTimeout = 2 * time.Minute

// Default scrape cost weights. A full refresh walks every catalog page;
// a price-only pass touches far fewer. Operators tune these in config.
const (
	DefaultFullRefreshCost = 3
	DefaultPriceOnlyCost   = 1
)

// GlobalScrapeScope is the rate-limit scope shared by every roaster's
// scrape attempts.
const GlobalScrapeScope = "global:scrape"

// RoasterScrapeScope returns the per-roaster scrape rate-limit scope.
func RoasterScrapeScope(roasterID string) string {
	return "roaster:" + roasterID + ":scrape"
}

// RoasterState is the cascade's view of persistent roaster state. The
// cascade is the single writer of the learned strategy, and writes it
// only on a non-scrape success.
type RoasterState interface {
	GetRoaster(ctx context.Context, id string) (*domain.Roaster, error)
	SetLearnedStrategy(ctx context.Context, id string, strategy domain.Strategy) error
}

// Costs are the budget debit weights per job type.
type Costs struct {
	FullRefresh int `yaml:"full_refresh" mapstructure:"full_refresh"`
	PriceOnly   int `yaml:"price_only" mapstructure:"price_only"`
}

// DefaultCosts returns the default scrape cost weights.
func DefaultCosts() Costs {
	return Costs{FullRefresh: DefaultFullRefreshCost, PriceOnly: DefaultPriceOnlyCost}
}

// costFor resolves the debit size for a job type.
func (c Costs) costFor(jobType domain.JobType) int {
	if jobType == domain.JobTypePriceOnly {
		return c.PriceOnly
	}
	return c.FullRefresh
}

// OutcomeKind tags the overall cascade result.
type OutcomeKind string

const (
	// OutcomeKindSuccess means some strategy produced data.
	OutcomeKindSuccess OutcomeKind = "success"
	// OutcomeKindAllFailed means every candidate was exhausted.
	OutcomeKindAllFailed OutcomeKind = "all_failed"
)

// Result is the outcome of one cascade run.
type Result struct {
	Outcome  OutcomeKind
	Winner   domain.Strategy
	Payload  *fetch.Payload
	Attempts []domain.StrategyAttempt
	// FailureKind and FailureMsg are set when Outcome is all_failed and
	// drive the retry decision.
	FailureKind domain.ErrorKind
	FailureMsg  string
}

// Tried returns the ordered strategy names attempted this run.
func (r *Result) Tried() domain.StrategyList {
	tried := make(domain.StrategyList, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		tried = append(tried, a.Strategy)
	}
	return tried
}

// Cascade runs the strategy attempt sequence for jobs.
type Cascade struct {
	registry     fetch.Registry
	limiter      ratelimit.Limiter
	ledger       *budget.Ledger
	roasters     RoasterState
	costs        Costs
	fetchTimeout time.Duration
	logger       logger.Interface
	now          func() time.Time
}

// New creates a cascade executor.
func New(
	registry fetch.Registry,
	limiter ratelimit.Limiter,
	ledger *budget.Ledger,
	roasters RoasterState,
	costs Costs,
	fetchTimeout time.Duration,
	log logger.Interface,
) *Cascade {
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	if costs.FullRefresh <= 0 {
		costs.FullRefresh = DefaultFullRefreshCost
	}
	if costs.PriceOnly <= 0 {
		costs.PriceOnly = DefaultPriceOnlyCost
	}

	return &Cascade{
		registry:     registry,
		limiter:      limiter,
		ledger:       ledger,
		roasters:     roasters,
		costs:        costs,
		fetchTimeout: fetchTimeout,
		logger:       log.WithComponent("cascade"),
		now:          time.Now,
	}
}

// Execute runs the cascade for one job. Strategy-level failures are
// absorbed into the attempt record and the next candidate is tried;
// only a fully exhausted cascade reports all_failed. The returned
// error is non-nil only for infrastructure failures (state store or
// limiter errors) and context cancellation, never for fetch failures.
// On cancellation the partial result carries the attempts made so far.
func (c *Cascade) Execute(ctx context.Context, job *domain.Job) (*Result, error) {
	roaster, err := c.roasters.GetRoaster(ctx, job.RoasterID)
	if err != nil {
		return nil, fmt.Errorf("load roaster for job %s: %w", job.ID, err)
	}

	log := c.logger.With("job_id", job.ID, "roaster_id", roaster.ID, "job_type", string(job.JobType))

	result := &Result{Outcome: OutcomeKindAllFailed}
	var failures []string
	scrapeBlocked := false

	for _, candidate := range roaster.CandidateStrategies() {
		// Jobs can be cancelled between cascade steps but not mid-fetch;
		// the fetch honors its own context deadline.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}

		if candidate.IsExpensive() {
			blocked, attempt := c.gateScrape(ctx, job, roaster)
			if blocked {
				scrapeBlocked = true
				if attempt != nil {
					result.Attempts = append(result.Attempts, *attempt)
				}
				continue
			}
		}

		attempt, payload, fetchErr := c.attempt(ctx, candidate, roaster, job)
		result.Attempts = append(result.Attempts, attempt)

		if fetchErr == nil {
			c.learn(ctx, candidate, roaster, log)
			result.Outcome = OutcomeKindSuccess
			result.Winner = candidate
			result.Payload = payload
			log.Info("cascade succeeded",
				"strategy", string(candidate),
				"products", len(payload.Products),
				"attempts", len(result.Attempts),
			)
			return result, nil
		}

		failures = append(failures, fmt.Sprintf("%s: %v", candidate, fetchErr))
		log.Debug("strategy attempt failed",
			"strategy", string(candidate),
			"outcome", string(attempt.Outcome),
			"error", fetchErr,
		)
	}

	result.FailureKind, result.FailureMsg = summarizeFailure(result.Attempts, scrapeBlocked, failures)
	log.Warn("cascade exhausted",
		"failure_kind", string(result.FailureKind),
		"attempts", len(result.Attempts),
	)
	return result, nil
}

// gateScrape applies the rate-limit and budget gates to the scrape
// tier. It returns blocked=true when the tier must be skipped, with an
// attempt record for denials (a disabled fallback produces no attempt:
// the tier is simply never tried until an operator resets the budget).
func (c *Cascade) gateScrape(
	ctx context.Context,
	job *domain.Job,
	roaster *domain.Roaster,
) (blocked bool, attempt *domain.StrategyAttempt) {
	if !roaster.FallbackEnabled {
		return true, nil
	}

	cost := c.costs.costFor(job.JobType)

	// Per-roaster, then global: both ceilings must have headroom.
	for _, scope := range []string{RoasterScrapeScope(roaster.ID), GlobalScrapeScope} {
		ok, err := c.limiter.TryAcquire(ctx, scope, 1)
		if err != nil {
			c.logger.Error("rate limiter failure", "scope", scope, "error", err)
			ok = false
		}
		if !ok {
			return true, &domain.StrategyAttempt{
				Strategy:  domain.StrategyScrape,
				StartedAt: c.now(),
				Outcome:   domain.OutcomeRateLimited,
			}
		}
	}

	ok, err := c.ledger.TryDebit(ctx, roaster.ID, cost)
	if err != nil {
		c.logger.Error("budget ledger failure", "roaster_id", roaster.ID, "error", err)
		ok = false
	}
	if !ok {
		return true, &domain.StrategyAttempt{
			Strategy:  domain.StrategyScrape,
			StartedAt: c.now(),
			Outcome:   domain.OutcomeBudgetDenied,
			CostUnits: cost,
		}
	}

	return false, nil
}

// attempt invokes one strategy with the fetch timeout applied.
func (c *Cascade) attempt(
	ctx context.Context,
	candidate domain.Strategy,
	roaster *domain.Roaster,
	job *domain.Job,
) (domain.StrategyAttempt, *fetch.Payload, error) {
	attempt := domain.StrategyAttempt{
		Strategy:  candidate,
		StartedAt: c.now(),
	}
	if candidate.IsExpensive() {
		attempt.CostUnits = c.costs.costFor(job.JobType)
	}

	impl, ok := c.registry.Get(candidate)
	if !ok {
		attempt.Outcome = domain.OutcomePermanentFailure
		return attempt, nil, domain.Permanentf("no implementation for strategy %s", candidate)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	payload, err := impl.Fetch(fetchCtx, *roaster, job.JobType)
	if err != nil {
		if domain.KindOf(err) == domain.ErrorKindPermanent {
			attempt.Outcome = domain.OutcomePermanentFailure
		} else {
			attempt.Outcome = domain.OutcomeTransientFailure
		}
		return attempt, nil, err
	}

	attempt.Outcome = domain.OutcomeSuccess
	return attempt, payload, nil
}

// learn records a winning non-scrape strategy. A scrape success never
// overwrites learned state, so cheaper strategies are re-tried first on
// the next cycle.
func (c *Cascade) learn(
	ctx context.Context,
	winner domain.Strategy,
	roaster *domain.Roaster,
	log logger.Interface,
) {
	if winner.IsExpensive() || roaster.LearnedStrategy == winner {
		return
	}

	if err := c.roasters.SetLearnedStrategy(ctx, roaster.ID, winner); err != nil {
		log.Error("failed to record learned strategy",
			"strategy", string(winner),
			"error", err,
		)
		return
	}
	log.Info("learned strategy updated",
		"previous", string(roaster.LearnedStrategy),
		"strategy", string(winner),
	)
}

// summarizeFailure derives the overall failure classification from the
// attempt records: any transient attempt keeps the normal retry
// schedule; rate-limited-only runs retry normally too; a cascade that
// failed only because the scrape budget is spent backs off long; an
// all-permanent run is itself permanent.
func summarizeFailure(
	attempts []domain.StrategyAttempt,
	scrapeBlocked bool,
	failures []string,
) (domain.ErrorKind, string) {
	msg := strings.Join(failures, "; ")
	if msg == "" {
		msg = "no strategies eligible"
	}

	hasTransient := false
	hasRateLimited := false
	budgetDenied := false
	for _, a := range attempts {
		switch a.Outcome {
		case domain.OutcomeTransientFailure:
			hasTransient = true
		case domain.OutcomeRateLimited:
			hasRateLimited = true
		case domain.OutcomeBudgetDenied:
			budgetDenied = true
		}
	}

	switch {
	case hasTransient:
		return domain.ErrorKindTransient, msg
	case hasRateLimited:
		return domain.ErrorKindRateLimited, msg
	case budgetDenied || scrapeBlocked:
		return domain.ErrorKindBudgetExhausted, msg
	default:
		return domain.ErrorKindPermanent, msg
	}
}
