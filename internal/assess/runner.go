package assess

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/jonathan/placement-matcher/internal/observability"
	"github.com/jonathan/placement-matcher/internal/types"
)

// Runner defaults. Three concurrent calls is the empirical sweet spot
// for the provider's rate limits; more gets us 429ed, fewer wastes
// throughput.
const (
	DefaultConcurrency         = 3
	DefaultCallTimeout         = 60 * time.Second
	DefaultMaxRetries          = 2
	DefaultBackoffBase         = 500 * time.Millisecond
	DefaultSaturationThreshold = 3
)

// NoRetries disables retrying entirely. A zero MaxRetries takes the
// default, like every other RunnerConfig field.
const NoRetries = -1

// RunnerConfig tunes the batch runner.
type RunnerConfig struct {
	Concurrency int64
	CallTimeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	// Zero takes DefaultMaxRetries; use NoRetries to disable.
	MaxRetries          int
	BackoffBase         time.Duration
	SaturationThreshold int
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	} else if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.SaturationThreshold <= 0 {
		c.SaturationThreshold = DefaultSaturationThreshold
	}
	return c
}

// ErrStageSaturated signals sustained provider rate-limiting. The stage
// aborts; results recorded before the abort stay on the session and a
// later advance resumes from the remainder.
type ErrStageSaturated struct {
	Consecutive int
}

func (e *ErrStageSaturated) Error() string {
	return fmt.Sprintf("provider saturated: %d consecutive rate-limit exhaustions", e.Consecutive)
}

// Runner drives one assessment stage over a set of pairs under the
// concurrency bound.
type Runner struct {
	provider Provider
	config   RunnerConfig
	logger   *zap.Logger
	metrics  *observability.Collector
}

// NewRunner creates a Runner around a provider.
func NewRunner(provider Provider, config RunnerConfig, logger *zap.Logger, metrics *observability.Collector) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		provider: provider,
		config:   config.withDefaults(),
		logger:   logger,
		metrics:  metrics,
	}
}

// RunStage assesses every pair, calling onResult as each pair finishes
// so callers can persist progress incrementally. Cancellation is
// cooperative: ctx is checked between pair submissions and never
// propagated into an in-flight provider call, which is left to drain
// under its own per-call timeout. Pairs cancelled before submission get
// no result and stay pending for the next advance.
//
// Returns ErrStageSaturated on sustained rate-limiting, ctx.Err() when
// cancelled, nil otherwise.
func (r *Runner) RunStage(ctx context.Context, intensity Intensity, pairs []types.ScoredPair, onResult func(types.StageResult)) error {
	sem := semaphore.NewWeighted(r.config.Concurrency)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		rlMu      sync.Mutex
		rlStreak  int
		saturated bool
		maxStreak int
	)

	emit := func(res types.StageResult) {
		mu.Lock()
		defer mu.Unlock()
		onResult(res)
	}

	noteOutcome := func(rateLimitExhausted bool) (nowSaturated bool) {
		rlMu.Lock()
		defer rlMu.Unlock()
		if rateLimitExhausted {
			rlStreak++
			if rlStreak > maxStreak {
				maxStreak = rlStreak
			}
			if rlStreak >= r.config.SaturationThreshold {
				saturated = true
			}
		} else {
			rlStreak = 0
		}
		return saturated
	}
	isSaturated := func() bool {
		rlMu.Lock()
		defer rlMu.Unlock()
		return saturated
	}

	for _, sp := range pairs {
		// Cooperative stop: checked between submissions only.
		if ctx.Err() != nil {
			break
		}
		if isSaturated() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		// Re-check after the wait: a slot opening up often means a call
		// just finished, and it may have tripped the saturation breaker.
		if isSaturated() {
			sem.Release(1)
			break
		}

		wg.Add(1)
		go func(sp types.ScoredPair) {
			defer wg.Done()
			defer sem.Release(1)

			result, rateLimitExhausted, ok := r.assessOne(ctx, intensity, sp)
			nowSaturated := noteOutcome(rateLimitExhausted)
			if rateLimitExhausted && nowSaturated {
				// Leave the pair pending so a later advance retries it
				// once the provider recovers.
				return
			}
			if !ok {
				return
			}
			if r.metrics != nil {
				r.metrics.RecordAssessCall(string(intensity), string(result.Outcome), result.Cost)
				r.metrics.RecordPairProcessed(string(intensity))
			}
			emit(result)
		}(sp)
	}

	wg.Wait()

	if isSaturated() {
		r.logger.Warn("stage aborted: provider saturated",
			zap.String("intensity", string(intensity)),
			zap.Int("consecutive_rate_limits", maxStreak),
		)
		return &ErrStageSaturated{Consecutive: maxStreak}
	}
	return ctx.Err()
}

// assessOne runs one pair through retry and classification. The bool
// returns are (rate-limit exhausted, result emitted).
func (r *Runner) assessOne(ctx context.Context, intensity Intensity, sp types.ScoredPair) (types.StageResult, bool, bool) {
	req := &Request{
		PairKey:   sp.Key(),
		Candidate: Redact(sp.Candidate),
		Position:  Redact(sp.Position),
		Intensity: intensity,
	}

	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if r.metrics != nil {
				r.metrics.RecordAssessRetry()
			}
			if !r.backoff(ctx, attempt) {
				// Cancelled mid-retry: leave the pair pending.
				return types.StageResult{}, false, false
			}
		}

		// The call context is detached from the stage context: cancel
		// never interrupts an in-flight provider call.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.CallTimeout)
		resp, err := r.provider.Assess(callCtx, req)
		cancel()

		if err == nil {
			outcome := types.OutcomeFailed
			if resp.Passed {
				outcome = types.OutcomePassed
			}
			return types.StageResult{
				PairKey:   req.PairKey,
				Outcome:   outcome,
				Score:     resp.Score,
				Rationale: resp.Rationale,
				Cost:      resp.Cost,
				LatencyMS: resp.LatencyMS,
			}, false, true
		}

		if pe, ok := err.(*ParseError); ok {
			// Malformed response: record the error and its cost, do not
			// retry, keep the batch going.
			r.logger.Warn("assessment response unparsable",
				zap.String("pair", req.PairKey),
				zap.Error(pe),
			)
			return types.StageResult{
				PairKey:   req.PairKey,
				Outcome:   types.OutcomeError,
				Rationale: pe.Error(),
				Cost:      pe.Cost,
			}, false, true
		}

		lastErr = err
		if !IsTransient(err) {
			break
		}
		r.logger.Debug("transient assessment failure",
			zap.String("pair", req.PairKey),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return types.StageResult{
		PairKey:   req.PairKey,
		Outcome:   types.OutcomeError,
		Rationale: fmt.Sprintf("assessment failed: %v", lastErr),
	}, IsRateLimited(lastErr), true
}

// backoff sleeps exponentially with jitter. Returns false when the
// stage context is cancelled while waiting.
func (r *Runner) backoff(ctx context.Context, attempt int) bool {
	d := r.config.BackoffBase << (attempt - 1)
	d += time.Duration(rand.Int63n(int64(r.config.BackoffBase)))
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
