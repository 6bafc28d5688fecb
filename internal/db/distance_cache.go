package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/placement-matcher/internal/distance"
)

// RouteCache is the persistent layer of the travel-time cache, keyed by
// directed postal-code pair. It implements distance.CacheStore.
type RouteCache struct {
	db *DB
}

// NewRouteCache returns a RouteCache backed by the given connection pool.
func NewRouteCache(db *DB) *RouteCache {
	return &RouteCache{db: db}
}

// GetRoute returns the cached route for a key, or nil when the key is
// unknown or older than maxAge.
func (c *RouteCache) GetRoute(ctx context.Context, key string, maxAge time.Duration) (*distance.CachedRoute, error) {
	var r distance.CachedRoute
	err := c.db.pool.QueryRow(ctx,
		`SELECT distance_km, car_min, transit_min, cached_at
		 FROM route_cache
		 WHERE route_key = $1 AND cached_at > NOW() - $2::interval`,
		key, maxAge.String(),
	).Scan(&r.DistanceKM, &r.CarMin, &r.TransitMin, &r.CachedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached route: %w", err)
	}
	return &r, nil
}

// PutRoute upserts a route, refreshing cached_at so the entry's TTL
// restarts from the latest observation.
func (c *RouteCache) PutRoute(ctx context.Context, key string, route distance.CachedRoute) error {
	_, err := c.db.pool.Exec(ctx,
		`INSERT INTO route_cache (route_key, distance_km, car_min, transit_min, cached_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (route_key) DO UPDATE SET
		     distance_km = $2, car_min = $3, transit_min = $4, cached_at = $5`,
		key, route.DistanceKM, route.CarMin, route.TransitMin, route.CachedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to cache route: %w", err)
	}
	return nil
}

// PruneRoutes deletes cache entries older than maxAge and returns the
// number removed. Called from the GC schedule alongside session expiry.
func (c *RouteCache) PruneRoutes(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := c.db.pool.Exec(ctx,
		`DELETE FROM route_cache WHERE cached_at < NOW() - $1::interval`,
		maxAge.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune route cache: %w", err)
	}
	return tag.RowsAffected(), nil
}
