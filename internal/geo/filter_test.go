package geo

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/placement-matcher/internal/types"
)

func entity(kind types.EntityKind, postal, city string, coords *types.Coordinates) types.Entity {
	return types.Entity{
		ID:         uuid.New(),
		Kind:       kind,
		PostalCode: postal,
		City:       city,
		Coords:     coords,
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// Hamburg -> Berlin is roughly 255 km.
	hamburg := types.Coordinates{Lat: 53.5511, Lon: 9.9937}
	berlin := types.Coordinates{Lat: 52.5200, Lon: 13.4050}

	d := HaversineKM(hamburg, berlin)
	assert.InDelta(t, 255, d, 10)
}

func TestPostalMatchRetainedDespiteBadCoordinates(t *testing.T) {
	f := NewFilter(35, nil)

	// Same postal code, but one side geocoded to the wrong continent.
	c := entity(types.KindCandidate, "20095", "Hamburg", &types.Coordinates{Lat: -33.9, Lon: 151.2})
	p := entity(types.KindPosition, "20095", "Hamburg", &types.Coordinates{Lat: 53.55, Lon: 10.0})

	method, _, ok := f.Evaluate(c, p)
	require.True(t, ok, "postal equality must retain the pair regardless of coordinates")
	assert.Equal(t, types.MethodPostal, method)
}

func TestCityMatchIsCaseInsensitive(t *testing.T) {
	f := NewFilter(35, nil)

	c := entity(types.KindCandidate, "20095", "HAMBURG", nil)
	p := entity(types.KindPosition, "22087", "hamburg", nil)

	method, dist, ok := f.Evaluate(c, p)
	require.True(t, ok)
	assert.Equal(t, types.MethodCity, method)
	assert.Zero(t, dist, "no coordinates, no distance")
}

func TestDistancePredicateWithinRadius(t *testing.T) {
	f := NewFilter(35, nil)

	// Hamburg center vs. Norderstedt, ~15 km apart, different postal and city.
	c := entity(types.KindCandidate, "20095", "Hamburg", &types.Coordinates{Lat: 53.5511, Lon: 9.9937})
	p := entity(types.KindPosition, "22844", "Norderstedt", &types.Coordinates{Lat: 53.6859, Lon: 9.9984})

	method, dist, ok := f.Evaluate(c, p)
	require.True(t, ok)
	assert.Equal(t, types.MethodDistance, method)
	assert.InDelta(t, 15, dist, 3)
}

func TestAllPredicatesFailDiscardsPair(t *testing.T) {
	f := NewFilter(35, nil)

	c := entity(types.KindCandidate, "20095", "Hamburg", &types.Coordinates{Lat: 53.5511, Lon: 9.9937})
	p := entity(types.KindPosition, "80331", "Munich", &types.Coordinates{Lat: 48.1351, Lon: 11.5820})

	_, _, ok := f.Evaluate(c, p)
	assert.False(t, ok)
}

func TestMissingCoordinatesNeverFatal(t *testing.T) {
	f := NewFilter(35, nil)

	c := entity(types.KindCandidate, "", "", nil)
	p := entity(types.KindPosition, "20095", "Hamburg", &types.Coordinates{Lat: 53.55, Lon: 10.0})

	_, _, ok := f.Evaluate(c, p)
	assert.False(t, ok, "pair drops out but evaluation must not panic")
}

func TestRunSkipsDeletedAndBlockedEntities(t *testing.T) {
	f := NewFilter(35, nil)

	c := entity(types.KindCandidate, "20095", "Hamburg", nil)
	p := entity(types.KindPosition, "20095", "Hamburg", nil)
	p.Deleted = true

	pairs := f.Run([]types.Entity{c}, []types.Entity{p})
	assert.Empty(t, pairs)
}

// TestGridIndexMatchesBruteForce verifies the grid probe does not lose
// pairs a naive cross join would find. This is the property that keeps
// the index honest.
func TestGridIndexMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	f := NewFilter(35, nil)

	randomEntity := func(kind types.EntityKind) types.Entity {
		// Cluster around northern Germany with occasional missing data.
		e := entity(kind,
			fmt.Sprintf("2%04d", rng.Intn(5000)),
			[]string{"Hamburg", "Bremen", "Kiel", "Lübeck", ""}[rng.Intn(5)],
			nil)
		if rng.Float64() < 0.8 {
			e.Coords = &types.Coordinates{
				Lat: 53.0 + rng.Float64()*1.5,
				Lon: 9.0 + rng.Float64()*2.0,
			}
		}
		return e
	}

	var candidates, positions []types.Entity
	for i := 0; i < 60; i++ {
		candidates = append(candidates, randomEntity(types.KindCandidate))
	}
	for i := 0; i < 80; i++ {
		positions = append(positions, randomEntity(types.KindPosition))
	}

	indexed := f.Run(candidates, positions)

	brute := make(map[string]types.MatchMethod)
	for _, c := range candidates {
		for _, p := range positions {
			if method, _, ok := f.Evaluate(c, p); ok {
				brute[types.Pair{CandidateID: c.ID, PositionID: p.ID}.Key()] = method
			}
		}
	}

	got := make(map[string]types.MatchMethod)
	for _, sp := range indexed {
		got[sp.Key()] = sp.MatchedBy
	}

	require.Equal(t, len(brute), len(got), "indexed run must find exactly the brute-force survivor set")
	for key, method := range brute {
		assert.Equal(t, method, got[key], "match method mismatch for %s", key)
	}
}
