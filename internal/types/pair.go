package types

import (
	"fmt"

	"github.com/google/uuid"
)

// Pair is one candidate and one position considered together.
type Pair struct {
	CandidateID uuid.UUID `json:"candidate_id"`
	PositionID  uuid.UUID `json:"position_id"`
}

// Key returns the canonical unordered key for the pair. The smaller UUID
// (byte order) always comes first, so (A,B) and (B,A) collapse to the
// same key. This key is what uniqueness is enforced against, both in the
// session and at the persistence boundary.
func (p Pair) Key() string {
	a, b := p.CandidateID.String(), p.PositionID.String()
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// String implements fmt.Stringer for log output.
func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.CandidateID, p.PositionID)
}

// MatchMethod records which geo predicate let a pair through the cascade.
type MatchMethod string

// Geo-cascade match methods, ordered strictest first.
const (
	MethodPostal   MatchMethod = "postal"
	MethodCity     MatchMethod = "city"
	MethodDistance MatchMethod = "distance"
)

// ScoredPair is a pair that survived the filter stages, carrying the
// attributes later stages need so that no entity-store reads happen
// after run start.
type ScoredPair struct {
	Pair       Pair        `json:"pair"`
	Candidate  Entity      `json:"candidate"`
	Position   Entity      `json:"position"`
	MatchedBy  MatchMethod `json:"matched_by"`
	DistanceKM float64     `json:"distance_km"`
}

// Key returns the canonical key of the underlying pair.
func (sp ScoredPair) Key() string { return sp.Pair.Key() }

// StageOutcome classifies a per-pair assessment result.
type StageOutcome string

// Stage outcomes. Errored pairs count as processed but neither passed
// nor failed; status reporting surfaces them separately.
const (
	OutcomePassed StageOutcome = "passed"
	OutcomeFailed StageOutcome = "failed"
	OutcomeError  StageOutcome = "error"
)

// StageResult is one pair's outcome for one assessment stage.
type StageResult struct {
	PairKey   string       `json:"pair_key"`
	Outcome   StageOutcome `json:"outcome"`
	Score     float64      `json:"score"`
	Rationale string       `json:"rationale,omitempty"`
	Cost      float64      `json:"cost"`
	LatencyMS int64        `json:"latency_ms"`
}
