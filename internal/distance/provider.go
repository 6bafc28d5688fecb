// Package distance enriches approved pairs with travel times from a
// batched matrix provider, cached by postal-code pair so repeated runs
// do not pay for the same route twice.
package distance

import (
	"context"
	"time"

	"github.com/jonathan/placement-matcher/internal/types"
)

// MaxBatchSize is the provider's destinations-per-origin limit.
const MaxBatchSize = 25

// Route is one origin→destination travel-time result.
type Route struct {
	CarMin     float64 `json:"car_min"`
	TransitMin float64 `json:"transit_min"`
	OK         bool    `json:"ok"`
	ErrStatus  string  `json:"err_status,omitempty"`
}

// Provider is the external travel-time matrix. One call covers one
// origin and up to MaxBatchSize destinations; results come back in
// destination order, per-element errors inline.
type Provider interface {
	Matrix(ctx context.Context, origin types.Coordinates, destinations []types.Coordinates) ([]Route, error)
}

// CachedRoute is a cache entry for a postal-code pair.
type CachedRoute struct {
	DistanceKM float64   `json:"distance_km"`
	CarMin     float64   `json:"car_min"`
	TransitMin float64   `json:"transit_min"`
	CachedAt   time.Time `json:"cached_at"`
}

// CacheStore persists routes across runs. The db package provides the
// Postgres implementation; a nil store leaves only the in-memory layer.
type CacheStore interface {
	GetRoute(ctx context.Context, key string, maxAge time.Duration) (*CachedRoute, error)
	PutRoute(ctx context.Context, key string, route CachedRoute) error
}
