package assess

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/placement-matcher/internal/types"
)

// stubProvider scripts per-pair behavior for runner tests.
type stubProvider struct {
	mu       sync.Mutex
	inFlight int32
	maxSeen  int32
	delay    time.Duration

	// fn decides the outcome per call; calls counts invocations per key.
	fn    func(req *Request, attempt int) (*Response, error)
	calls map[string]int
}

func newStubProvider(fn func(req *Request, attempt int) (*Response, error)) *stubProvider {
	return &stubProvider{fn: fn, calls: make(map[string]int)}
}

func (s *stubProvider) Assess(ctx context.Context, req *Request) (*Response, error) {
	cur := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		old := atomic.LoadInt32(&s.maxSeen)
		if cur <= old || atomic.CompareAndSwapInt32(&s.maxSeen, old, cur) {
			break
		}
	}

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.calls[req.PairKey]++
	attempt := s.calls[req.PairKey]
	s.mu.Unlock()

	return s.fn(req, attempt)
}

func passResponse(req *Request, cost float64) *Response {
	return &Response{PairKey: req.PairKey, Passed: true, Score: 8, Cost: cost}
}

func makePairs(n int) []types.ScoredPair {
	var out []types.ScoredPair
	for i := 0; i < n; i++ {
		out = append(out, types.ScoredPair{
			Pair: types.Pair{CandidateID: uuid.New(), PositionID: uuid.New()},
			Candidate: types.Entity{ID: uuid.New(), Kind: types.KindCandidate,
				RoleTags: []string{"FiBu"}, PostalCode: "20095"},
			Position: types.Entity{ID: uuid.New(), Kind: types.KindPosition,
				RoleTags: []string{"FiBu"}, PostalCode: "20095"},
		})
	}
	return out
}

func collectResults() (func(types.StageResult), *[]types.StageResult, *sync.Mutex) {
	var mu sync.Mutex
	var results []types.StageResult
	return func(r types.StageResult) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, r)
	}, &results, &mu
}

func TestRunStageProcessesAllPairs(t *testing.T) {
	stub := newStubProvider(func(req *Request, _ int) (*Response, error) {
		return passResponse(req, 0.001), nil
	})
	runner := NewRunner(stub, RunnerConfig{}, nil, nil)

	onResult, results, _ := collectResults()
	err := runner.RunStage(context.Background(), IntensityCoarse, makePairs(10), onResult)

	require.NoError(t, err)
	assert.Len(t, *results, 10)
}

func TestRunStageRespectsConcurrencyBound(t *testing.T) {
	stub := newStubProvider(func(req *Request, _ int) (*Response, error) {
		return passResponse(req, 0.001), nil
	})
	stub.delay = 20 * time.Millisecond
	runner := NewRunner(stub, RunnerConfig{Concurrency: 3}, nil, nil)

	onResult, results, _ := collectResults()
	err := runner.RunStage(context.Background(), IntensityCoarse, makePairs(12), onResult)

	require.NoError(t, err)
	assert.Len(t, *results, 12)
	assert.LessOrEqual(t, stub.maxSeen, int32(3), "never more than 3 calls in flight")
}

func TestTransientErrorIsRetriedThenSucceeds(t *testing.T) {
	stub := newStubProvider(func(req *Request, attempt int) (*Response, error) {
		if attempt == 1 {
			return nil, &TransientError{Err: context.DeadlineExceeded}
		}
		return passResponse(req, 0.002), nil
	})
	runner := NewRunner(stub, RunnerConfig{BackoffBase: time.Millisecond}, nil, nil)

	onResult, results, _ := collectResults()
	err := runner.RunStage(context.Background(), IntensityCoarse, makePairs(1), onResult)

	require.NoError(t, err)
	require.Len(t, *results, 1)
	assert.Equal(t, types.OutcomePassed, (*results)[0].Outcome)
}

func TestExhaustedRetriesRecordErrorOutcome(t *testing.T) {
	stub := newStubProvider(func(_ *Request, _ int) (*Response, error) {
		return nil, &TransientError{Err: context.DeadlineExceeded}
	})
	runner := NewRunner(stub, RunnerConfig{MaxRetries: 2, BackoffBase: time.Millisecond}, nil, nil)

	onResult, results, _ := collectResults()
	err := runner.RunStage(context.Background(), IntensityCoarse, makePairs(1), onResult)

	require.NoError(t, err)
	require.Len(t, *results, 1)
	assert.Equal(t, types.OutcomeError, (*results)[0].Outcome)
	assert.Equal(t, 3, stub.calls[(*results)[0].PairKey], "initial call plus two retries")
}

func TestRetryDefaultsApply(t *testing.T) {
	stub := newStubProvider(func(_ *Request, _ int) (*Response, error) {
		return nil, &TransientError{Err: context.DeadlineExceeded}
	})
	// A zero MaxRetries takes the default; NoRetries turns retrying off.
	runner := NewRunner(stub, RunnerConfig{BackoffBase: time.Millisecond}, nil, nil)

	onResult, results, _ := collectResults()
	err := runner.RunStage(context.Background(), IntensityCoarse, makePairs(1), onResult)
	require.NoError(t, err)
	require.Len(t, *results, 1)
	assert.Equal(t, 3, stub.calls[(*results)[0].PairKey], "zero config retries like the default")

	stub2 := newStubProvider(func(_ *Request, _ int) (*Response, error) {
		return nil, &TransientError{Err: context.DeadlineExceeded}
	})
	runner2 := NewRunner(stub2, RunnerConfig{MaxRetries: NoRetries, BackoffBase: time.Millisecond}, nil, nil)

	onResult2, results2, _ := collectResults()
	err = runner2.RunStage(context.Background(), IntensityCoarse, makePairs(1), onResult2)
	require.NoError(t, err)
	require.Len(t, *results2, 1)
	assert.Equal(t, 1, stub2.calls[(*results2)[0].PairKey], "NoRetries makes one attempt only")
}

func TestParseErrorRecordedWithoutRetryAndBatchContinues(t *testing.T) {
	pairs := makePairs(3)
	badKey := pairs[1].Key()

	stub := newStubProvider(func(req *Request, _ int) (*Response, error) {
		if req.PairKey == badKey {
			return nil, &ParseError{Err: assert.AnError, Cost: 0.004}
		}
		return passResponse(req, 0.001), nil
	})
	runner := NewRunner(stub, RunnerConfig{}, nil, nil)

	onResult, results, _ := collectResults()
	err := runner.RunStage(context.Background(), IntensityCoarse, pairs, onResult)

	require.NoError(t, err)
	require.Len(t, *results, 3, "malformed response must not abort the batch")

	var errResult *types.StageResult
	for i := range *results {
		if (*results)[i].PairKey == badKey {
			errResult = &(*results)[i]
		}
	}
	require.NotNil(t, errResult)
	assert.Equal(t, types.OutcomeError, errResult.Outcome)
	assert.Equal(t, 0.004, errResult.Cost, "the failed call's cost still counts")
	assert.Equal(t, 1, stub.calls[badKey], "parse failures are not retried")
}

func TestSaturationAbortsStagePreservingResults(t *testing.T) {
	pairs := makePairs(20)

	var processed int32
	stub := newStubProvider(func(req *Request, _ int) (*Response, error) {
		// First few succeed, then the provider rate-limits everything.
		if atomic.AddInt32(&processed, 1) <= 4 {
			return passResponse(req, 0.001), nil
		}
		return nil, &TransientError{Err: assert.AnError, RateLimited: true}
	})
	runner := NewRunner(stub, RunnerConfig{
		Concurrency:         1, // deterministic ordering
		MaxRetries:          NoRetries,
		BackoffBase:         time.Millisecond,
		SaturationThreshold: 3,
	}, nil, nil)

	onResult, results, _ := collectResults()
	err := runner.RunStage(context.Background(), IntensityCoarse, pairs, onResult)

	var saturated *ErrStageSaturated
	require.ErrorAs(t, err, &saturated)

	// Four successes plus two isolated rate-limit error-pairs survive;
	// the pair that tripped the breaker and everything after it stay
	// pending for a later advance.
	var passed, errored int
	for _, r := range *results {
		switch r.Outcome {
		case types.OutcomePassed:
			passed++
		case types.OutcomeError:
			errored++
		}
	}
	assert.Equal(t, 4, passed)
	assert.Equal(t, 2, errored)
	assert.Len(t, *results, 6, "results obtained before the abort are preserved")
}

func TestCancelBetweenSubmissionsLeavesRemainderPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var processed int32
	stub := newStubProvider(func(req *Request, _ int) (*Response, error) {
		if atomic.AddInt32(&processed, 1) == 3 {
			cancel()
		}
		return passResponse(req, 0.001), nil
	})
	stub.delay = 5 * time.Millisecond

	runner := NewRunner(stub, RunnerConfig{Concurrency: 1}, nil, nil)

	onResult, results, _ := collectResults()
	err := runner.RunStage(ctx, IntensityCoarse, makePairs(10), onResult)

	require.ErrorIs(t, err, context.Canceled)
	got := len(*results)
	assert.GreaterOrEqual(t, got, 3, "in-flight work drains")
	assert.Less(t, got, 10, "unsubmitted pairs stay pending")
}
