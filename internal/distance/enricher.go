package distance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jonathan/placement-matcher/internal/observability"
	"github.com/jonathan/placement-matcher/internal/types"
)

// DefaultCacheTTL keeps routes for a month; roads do not move often.
const DefaultCacheTTL = 30 * 24 * time.Hour

// Enrichment is the travel-time result for one pair. OK is false when
// either side lacks coordinates or the provider errored for this
// element; the match still persists with the geo-stage distance and
// zero travel times.
type Enrichment struct {
	PairKey    string
	DistanceKM float64
	CarMin     float64
	TransitMin float64
	OK         bool
}

// Stats is a snapshot of cache effectiveness, surfaced in run status.
type Stats struct {
	Hits   int64 `json:"cache_hits"`
	Misses int64 `json:"cache_misses"`
}

// HitRatio returns hits / (hits + misses), zero when nothing was
// looked up.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// EnricherConfig tunes the enricher.
type EnricherConfig struct {
	CacheTTL   time.Duration
	BatchLimit int
	// RatePerSec limits provider calls; zero disables limiting.
	RatePerSec float64
}

// Enricher batches travel-time lookups and maintains the two cache
// layers: an in-process map for the current run and an optional
// persistent store shared across runs.
type Enricher struct {
	provider Provider
	store    CacheStore
	config   EnricherConfig
	limiter  *rate.Limiter
	logger   *zap.Logger
	metrics  *observability.Collector

	mu    sync.Mutex
	mem   map[string]CachedRoute
	stats Stats
}

// NewEnricher creates an Enricher. store may be nil.
func NewEnricher(provider Provider, store CacheStore, config EnricherConfig, logger *zap.Logger, metrics *observability.Collector) *Enricher {
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	if config.BatchLimit <= 0 || config.BatchLimit > MaxBatchSize {
		config.BatchLimit = MaxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if config.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RatePerSec), 1)
	}

	return &Enricher{
		provider: provider,
		store:    store,
		config:   config,
		limiter:  limiter,
		logger:   logger,
		metrics:  metrics,
		mem:      make(map[string]CachedRoute),
	}
}

// Stats returns the hit/miss counters so far.
func (e *Enricher) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// locationToken identifies an entity's location for caching. Postal
// codes are the normal token; entities without one fall back to their
// coordinates so two distinct locations never share a key. Callers
// must have checked Coords for nil.
func locationToken(e types.Entity) string {
	if e.PostalCode != "" {
		return e.PostalCode
	}
	return fmt.Sprintf("%.4f,%.4f", e.Coords.Lat, e.Coords.Lon)
}

// routeKey is the directed route cache key. Travel time is not
// symmetric, so unlike pair identity the key keeps its direction.
func routeKey(sp types.ScoredPair) string {
	return locationToken(sp.Candidate) + ">" + locationToken(sp.Position)
}

// Enrich resolves travel times for all pairs, serving from cache where
// possible and batching the remainder per origin. Callers must not hold
// a database transaction across this call.
func (e *Enricher) Enrich(ctx context.Context, pairs []types.ScoredPair) (map[string]Enrichment, error) {
	out := make(map[string]Enrichment, len(pairs))

	// Pass 1: caches. Misses coalesce per route key, so each distinct
	// route costs at most one provider element no matter how many pairs
	// share it. Pending routes are grouped by origin for batching.
	type pendingRoute struct {
		key         string
		destination types.Coordinates
		pairs       []types.ScoredPair
	}
	pendingByKey := make(map[string]*pendingRoute)
	byOrigin := make(map[string][]*pendingRoute)

	for _, sp := range pairs {
		pairKey := sp.Key()
		if sp.Candidate.Coords == nil || sp.Position.Coords == nil {
			out[pairKey] = Enrichment{PairKey: pairKey, DistanceKM: sp.DistanceKM}
			continue
		}

		key := routeKey(sp)
		if pr, ok := pendingByKey[key]; ok {
			// An earlier pair already misses on this route; the single
			// provider element will serve this pair too.
			e.noteLookup(true)
			pr.pairs = append(pr.pairs, sp)
			continue
		}
		if route, ok := e.lookupCache(ctx, key); ok {
			out[pairKey] = Enrichment{
				PairKey:    pairKey,
				DistanceKM: sp.DistanceKM,
				CarMin:     route.CarMin,
				TransitMin: route.TransitMin,
				OK:         true,
			}
			continue
		}
		pr := &pendingRoute{key: key, destination: *sp.Position.Coords, pairs: []types.ScoredPair{sp}}
		pendingByKey[key] = pr
		originKey := locationToken(sp.Candidate)
		byOrigin[originKey] = append(byOrigin[originKey], pr)
	}

	// Pass 2: provider batches, one origin at a time, destinations
	// chunked to the batch limit.
	for _, group := range byOrigin {
		origin := *group[0].pairs[0].Candidate.Coords

		for start := 0; start < len(group); start += e.config.BatchLimit {
			end := start + e.config.BatchLimit
			if end > len(group) {
				end = len(group)
			}
			chunk := group[start:end]

			destinations := make([]types.Coordinates, len(chunk))
			for i, pr := range chunk {
				destinations[i] = pr.destination
			}

			if e.limiter != nil {
				if err := e.limiter.Wait(ctx); err != nil {
					return out, err
				}
			}
			if e.metrics != nil {
				e.metrics.RecordDistanceBatch()
			}

			routes, err := e.provider.Matrix(ctx, origin, destinations)
			if err != nil {
				return out, err
			}

			for i, pr := range chunk {
				if i >= len(routes) || !routes[i].OK {
					for _, sp := range pr.pairs {
						pairKey := sp.Key()
						out[pairKey] = Enrichment{PairKey: pairKey, DistanceKM: sp.DistanceKM}
					}
					continue
				}
				route := CachedRoute{
					DistanceKM: pr.pairs[0].DistanceKM,
					CarMin:     routes[i].CarMin,
					TransitMin: routes[i].TransitMin,
					CachedAt:   time.Now(),
				}
				e.storeCache(ctx, pr.key, route)
				for _, sp := range pr.pairs {
					pairKey := sp.Key()
					out[pairKey] = Enrichment{
						PairKey:    pairKey,
						DistanceKM: sp.DistanceKM,
						CarMin:     route.CarMin,
						TransitMin: route.TransitMin,
						OK:         true,
					}
				}
			}
		}
	}

	stats := e.Stats()
	e.logger.Info("distance enrichment complete",
		zap.Int("pairs", len(pairs)),
		zap.Int64("cache_hits", stats.Hits),
		zap.Int64("cache_misses", stats.Misses),
		zap.Float64("hit_ratio", stats.HitRatio()),
	)

	return out, nil
}

func (e *Enricher) lookupCache(ctx context.Context, key string) (CachedRoute, bool) {
	e.mu.Lock()
	route, ok := e.mem[key]
	e.mu.Unlock()

	if !ok && e.store != nil {
		if cached, err := e.store.GetRoute(ctx, key, e.config.CacheTTL); err != nil {
			e.logger.Warn("distance cache read failed", zap.String("key", key), zap.Error(err))
		} else if cached != nil {
			route, ok = *cached, true
			e.mu.Lock()
			e.mem[key] = route
			e.mu.Unlock()
		}
	}

	e.noteLookup(ok)
	return route, ok
}

func (e *Enricher) noteLookup(hit bool) {
	e.mu.Lock()
	if hit {
		e.stats.Hits++
	} else {
		e.stats.Misses++
	}
	e.mu.Unlock()

	if e.metrics != nil {
		if hit {
			e.metrics.RecordCacheHit()
		} else {
			e.metrics.RecordCacheMiss()
		}
	}
}

func (e *Enricher) storeCache(ctx context.Context, key string, route CachedRoute) {
	e.mu.Lock()
	e.mem[key] = route
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.PutRoute(ctx, key, route); err != nil {
			// A failed cache write costs a future lookup, nothing more.
			e.logger.Warn("distance cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
}
