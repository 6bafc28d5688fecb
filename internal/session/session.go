package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/placement-matcher/internal/types"
)

// Session is one pipeline run's resumable state. Instances handed out
// by the store are snapshots; all mutation goes through Store methods.
type Session struct {
	ID    uuid.UUID `json:"id"`
	Stage Stage     `json:"stage"`

	// Pairs carries everything later stages need so no entity-store
	// reads happen after run start.
	Pairs []types.ScoredPair `json:"pairs"`

	// Excluded pairs stay in Pairs for auditability but are skipped by
	// every subsequent stage. Keyed by Pair.Key().
	Excluded map[string]bool `json:"excluded"`

	// Results per assessment stage (ResultsStage1, ResultsStage2).
	// Prior stage results survive exclusion.
	Results map[string][]types.StageResult `json:"results"`

	// CostAccumulated is the running EUR total of provider calls.
	// Monotonically non-decreasing for the session's lifetime.
	CostAccumulated float64 `json:"cost_accumulated"`

	Running    bool `json:"running"`
	Cancelling bool `json:"cancelling"`

	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResultFor returns the recorded result of a pair for a stage, if any.
func (s *Session) ResultFor(stage, pairKey string) (types.StageResult, bool) {
	for _, r := range s.Results[stage] {
		if r.PairKey == pairKey {
			return r, true
		}
	}
	return types.StageResult{}, false
}

// PendingPairs returns the pairs the given stage still has to process:
// not excluded, no result recorded for this stage yet, and - for stage
// two - passed stage one.
func (s *Session) PendingPairs(stage string) []types.ScoredPair {
	done := make(map[string]bool, len(s.Results[stage]))
	for _, r := range s.Results[stage] {
		done[r.PairKey] = true
	}

	var out []types.ScoredPair
	for _, sp := range s.Pairs {
		key := sp.Key()
		if s.Excluded[key] || done[key] {
			continue
		}
		if stage == ResultsStage2 {
			prior, ok := s.ResultFor(ResultsStage1, key)
			if !ok || prior.Outcome != types.OutcomePassed {
				continue
			}
		}
		out = append(out, sp)
	}
	return out
}

// ApprovedPairs returns pairs that passed both assessment stages and
// were never excluded. These are the persistence candidates.
func (s *Session) ApprovedPairs() []types.ScoredPair {
	var out []types.ScoredPair
	for _, sp := range s.Pairs {
		key := sp.Key()
		if s.Excluded[key] {
			continue
		}
		r2, ok := s.ResultFor(ResultsStage2, key)
		if !ok || r2.Outcome != types.OutcomePassed {
			continue
		}
		out = append(out, sp)
	}
	return out
}

// clone returns a deep copy safe to hand outside the store lock.
func (s *Session) clone() *Session {
	cp := *s

	cp.Pairs = append([]types.ScoredPair(nil), s.Pairs...)

	cp.Excluded = make(map[string]bool, len(s.Excluded))
	for k, v := range s.Excluded {
		cp.Excluded[k] = v
	}

	cp.Results = make(map[string][]types.StageResult, len(s.Results))
	for k, v := range s.Results {
		cp.Results[k] = append([]types.StageResult(nil), v...)
	}

	return &cp
}
