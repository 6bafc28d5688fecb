package geo

import (
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/placement-matcher/internal/types"
)

// DefaultRadiusKM is the fallback commute radius for the distance
// predicate when the config does not set one.
const DefaultRadiusKM = 35.0

// Filter runs the geo cascade over two entity snapshots.
type Filter struct {
	radiusKM float64
	logger   *zap.Logger
}

// NewFilter creates a Filter with the given commute radius. A zero or
// negative radius falls back to DefaultRadiusKM.
func NewFilter(radiusKM float64, logger *zap.Logger) *Filter {
	if radiusKM <= 0 {
		radiusKM = DefaultRadiusKM
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{radiusKM: radiusKM, logger: logger}
}

// Evaluate applies the cascade to a single pair. Predicates run
// strictest first and the first success wins: postal equality, then
// case-insensitive city equality, then great-circle distance within the
// radius. Postal and city matches act as a safety net for entities with
// missing or wrong geocoding, so they are checked before coordinates.
// The returned distance is 0 when either side has no coordinates.
func (f *Filter) Evaluate(candidate, position types.Entity) (types.MatchMethod, float64, bool) {
	var distKM float64
	if candidate.Coords != nil && position.Coords != nil {
		distKM = HaversineKM(*candidate.Coords, *position.Coords)
	}

	if candidate.PostalCode != "" && candidate.PostalCode == position.PostalCode {
		return types.MethodPostal, distKM, true
	}
	if candidate.City != "" && strings.EqualFold(candidate.City, position.City) {
		return types.MethodCity, distKM, true
	}
	if candidate.Coords != nil && position.Coords != nil && distKM <= f.radiusKM {
		return types.MethodDistance, distKM, true
	}

	return "", 0, false
}

// Run pairs every matchable candidate with every reachable position and
// returns the survivors with their match method and distance. Positions
// are indexed once; each candidate probes only its postal, city and grid
// neighborhood buckets.
func (f *Filter) Run(candidates, positions []types.Entity) []types.ScoredPair {
	idx := newIndex(positions, f.radiusKM)

	var out []types.ScoredPair
	for _, c := range candidates {
		if !c.Matchable() {
			continue
		}
		for _, pi := range idx.candidatesFor(c) {
			p := positions[pi]
			if !p.Matchable() {
				continue
			}
			method, distKM, ok := f.Evaluate(c, p)
			if !ok {
				continue
			}
			out = append(out, types.ScoredPair{
				Pair:       types.Pair{CandidateID: c.ID, PositionID: p.ID},
				Candidate:  c,
				Position:   p,
				MatchedBy:  method,
				DistanceKM: distKM,
			})
		}
	}

	f.logger.Info("geo cascade complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("positions", len(positions)),
		zap.Int("pairs", len(out)),
		zap.Float64("radius_km", f.radiusKM),
	)

	return out
}
