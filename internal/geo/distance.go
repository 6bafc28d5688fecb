// Package geo implements the location pre-filter for candidate/position
// pairs: an ordered cascade of postal, city and great-circle predicates
// backed by a grid index so large populations avoid a full cross join.
package geo

import (
	"math"

	"github.com/jonathan/placement-matcher/internal/types"
)

const earthRadiusKM = 6371.0

// HaversineKM returns the great-circle distance between two coordinates
// in kilometers.
func HaversineKM(a, b types.Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusKM * math.Asin(math.Sqrt(h))
}
