package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/placement-matcher/internal/assess"
	"github.com/jonathan/placement-matcher/internal/distance"
	"github.com/jonathan/placement-matcher/internal/session"
	"github.com/jonathan/placement-matcher/internal/types"
)

// StageProgress summarizes one assessment stage's results so far.
type StageProgress struct {
	Processed int     `json:"processed"`
	Passed    int     `json:"passed"`
	Failed    int     `json:"failed"`
	Errors    int     `json:"errors"`
	Pending   int     `json:"pending"`
	Cost      float64 `json:"cost_eur"`
}

// NextStage previews what the next advance would do, including the
// pre-commit cost estimate the operator gates on.
type NextStage struct {
	Stage         string  `json:"stage"`
	PendingPairs  int     `json:"pending_pairs"`
	EstimatedCost float64 `json:"estimated_cost_eur"`
}

// Status is the operator-facing view of one session.
type Status struct {
	SessionID     uuid.UUID `json:"session_id"`
	Stage         string    `json:"stage"`
	Running       bool      `json:"running"`
	Draining      bool      `json:"draining"`
	FailureReason string    `json:"failure_reason,omitempty"`

	TotalPairs int `json:"total_pairs"`
	Excluded   int `json:"excluded"`

	Stage1 StageProgress `json:"stage1"`
	Stage2 StageProgress `json:"stage2"`

	CostAccumulated float64 `json:"cost_accumulated_eur"`

	Next *NextStage `json:"next,omitempty"`

	DistanceCache distance.Stats `json:"distance_cache"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status assembles the report for one session.
func (o *Orchestrator) Status(id uuid.UUID) (*Status, error) {
	s, err := o.store.Get(id)
	if err != nil {
		return nil, err
	}

	st := &Status{
		SessionID:       s.ID,
		Stage:           string(s.Stage),
		Running:         s.Running,
		Draining:        s.Cancelling,
		FailureReason:   s.FailureReason,
		TotalPairs:      len(s.Pairs),
		Excluded:        len(s.Excluded),
		Stage1:          stageProgress(s, session.ResultsStage1),
		Stage2:          stageProgress(s, session.ResultsStage2),
		CostAccumulated: s.CostAccumulated,
		DistanceCache:   o.enricher.Stats(),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}

	// The dry-run preview: what the next advance would process and cost.
	switch s.Stage {
	case session.StageGeoDone:
		pending := s.PendingPairs(session.ResultsStage1)
		st.Next = &NextStage{
			Stage:         session.ResultsStage1,
			PendingPairs:  len(pending),
			EstimatedCost: assess.EstimateStageCost(assess.IntensityCoarse, pending),
		}
	case session.StageStage1Done:
		pending := s.PendingPairs(session.ResultsStage2)
		st.Next = &NextStage{
			Stage:         session.ResultsStage2,
			PendingPairs:  len(pending),
			EstimatedCost: assess.EstimateStageCost(assess.IntensityDeep, pending),
		}
	}

	return st, nil
}

func stageProgress(s *session.Session, stageKey string) StageProgress {
	var p StageProgress
	for _, r := range s.Results[stageKey] {
		p.Processed++
		p.Cost += r.Cost
		switch r.Outcome {
		case types.OutcomePassed:
			p.Passed++
		case types.OutcomeFailed:
			p.Failed++
		case types.OutcomeError:
			p.Errors++
		}
	}
	p.Pending = len(s.PendingPairs(stageKey))
	return p
}

// ErrEntityNotFound indicates an unknown entity id in a compare
// request.
type ErrEntityNotFound struct {
	ID uuid.UUID
}

func (e *ErrEntityNotFound) Error() string {
	return fmt.Sprintf("entity not found: %s", e.ID)
}

// ErrKindMismatch indicates a compare request whose two entities are
// not one candidate and one position.
type ErrKindMismatch struct {
	KindA types.EntityKind
	KindB types.EntityKind
}

func (e *ErrKindMismatch) Error() string {
	return fmt.Sprintf("compare requires one candidate and one position, got %s and %s",
		e.KindA, e.KindB)
}

// Comparison is the ad-hoc pair evaluation for operator spot checks. It
// runs the free filters only and prices both assessment intensities
// without making a provider call.
type Comparison struct {
	CandidateID uuid.UUID `json:"candidate_id"`
	PositionID  uuid.UUID `json:"position_id"`

	GeoMatch   bool    `json:"geo_match"`
	MatchedBy  string  `json:"matched_by,omitempty"`
	DistanceKM float64 `json:"distance_km"`

	Compatible bool `json:"compatible"`

	EstimatedCoarseCost float64 `json:"estimated_coarse_cost_eur"`
	EstimatedDeepCost   float64 `json:"estimated_deep_cost_eur"`
}

// ComparePair evaluates one candidate/position pair outside any
// session. The two ids may arrive in either order; the pair is
// unordered and the roles are resolved from the entities' kinds.
func (o *Orchestrator) ComparePair(ctx context.Context, idA, idB uuid.UUID) (*Comparison, error) {
	a, err := o.source.GetEntity(ctx, idA)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, &ErrEntityNotFound{ID: idA}
	}
	b, err := o.source.GetEntity(ctx, idB)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &ErrEntityNotFound{ID: idB}
	}

	candidate, position := a, b
	if candidate.Kind != types.KindCandidate {
		candidate, position = position, candidate
	}
	if candidate.Kind != types.KindCandidate || position.Kind != types.KindPosition {
		return nil, &ErrKindMismatch{KindA: a.Kind, KindB: b.Kind}
	}

	method, distKM, geoOK := o.geo.Evaluate(*candidate, *position)

	return &Comparison{
		CandidateID:         candidate.ID,
		PositionID:          position.ID,
		GeoMatch:            geoOK,
		MatchedBy:           string(method),
		DistanceKM:          distKM,
		Compatible:          o.compat.Pass(*candidate, *position),
		EstimatedCoarseCost: assess.EstimatePairCost(assess.IntensityCoarse, *candidate, *position),
		EstimatedDeepCost:   assess.EstimatePairCost(assess.IntensityDeep, *candidate, *position),
	}, nil
}
