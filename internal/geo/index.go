package geo

import (
	"math"
	"strings"

	"github.com/jonathan/placement-matcher/internal/types"
)

// kmPerDegreeLat is close to constant; longitude degrees shrink with
// latitude and are corrected per probe.
const kmPerDegreeLat = 110.574

type gridCell struct {
	latCell int
	lonCell int
}

// index buckets one entity population three ways: exact postal code,
// lowercased city name, and a lat/lon grid whose cell height equals the
// search radius. A candidate then only probes the union of its postal
// bucket, city bucket and the grid neighborhood instead of every
// position.
type index struct {
	entities []types.Entity
	byPostal map[string][]int
	byCity   map[string][]int
	grid     map[gridCell][]int
	cellDeg  float64
	radiusKM float64
}

func newIndex(entities []types.Entity, radiusKM float64) *index {
	idx := &index{
		entities: entities,
		byPostal: make(map[string][]int),
		byCity:   make(map[string][]int),
		grid:     make(map[gridCell][]int),
		cellDeg:  radiusKM / kmPerDegreeLat,
		radiusKM: radiusKM,
	}

	for i, e := range entities {
		if e.PostalCode != "" {
			idx.byPostal[e.PostalCode] = append(idx.byPostal[e.PostalCode], i)
		}
		if e.City != "" {
			city := strings.ToLower(e.City)
			idx.byCity[city] = append(idx.byCity[city], i)
		}
		if e.Coords != nil {
			cell := idx.cellFor(*e.Coords)
			idx.grid[cell] = append(idx.grid[cell], i)
		}
	}

	return idx
}

func (idx *index) cellFor(c types.Coordinates) gridCell {
	return gridCell{
		latCell: int(math.Floor(c.Lat / idx.cellDeg)),
		lonCell: int(math.Floor(c.Lon / idx.cellDeg)),
	}
}

// candidatesFor returns the de-duplicated set of entity indices that
// could possibly pass any cascade predicate against e.
func (idx *index) candidatesFor(e types.Entity) []int {
	seen := make(map[int]bool)
	var out []int

	add := func(indices []int) {
		for _, i := range indices {
			if !seen[i] {
				seen[i] = true
				out = append(out, i)
			}
		}
	}

	if e.PostalCode != "" {
		add(idx.byPostal[e.PostalCode])
	}
	if e.City != "" {
		add(idx.byCity[strings.ToLower(e.City)])
	}

	if e.Coords != nil {
		center := idx.cellFor(*e.Coords)

		// Cell height equals the radius, so one cell of latitude slack
		// suffices. Longitude cells are narrower away from the equator;
		// widen the probe accordingly.
		cosLat := math.Cos(e.Coords.Lat * math.Pi / 180)
		lonSpan := 1
		if cosLat > 0.01 {
			lonSpan = int(math.Ceil(1 / cosLat))
		} else {
			lonSpan = 180 // polar degenerate case, probe everything nearby
		}

		for dLat := -1; dLat <= 1; dLat++ {
			for dLon := -lonSpan; dLon <= lonSpan; dLon++ {
				cell := gridCell{center.latCell + dLat, center.lonCell + dLon}
				add(idx.grid[cell])
			}
		}
	}

	return out
}
