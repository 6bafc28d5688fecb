package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the pipeline's Prometheus metrics. Each Collector
// owns its registry so tests can construct one without global state.
type Collector struct {
	registry *prometheus.Registry

	assessCalls   *prometheus.CounterVec
	assessRetries prometheus.Counter
	assessCost    prometheus.Counter

	distanceCacheHits   prometheus.Counter
	distanceCacheMisses prometheus.Counter
	distanceBatches     prometheus.Counter

	sessionsActive prometheus.Gauge
	pairsProcessed *prometheus.CounterVec

	stageLatency prometheus.Histogram
}

// NewCollector creates and registers all pipeline metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		assessCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matcher_assess_calls_total",
			Help: "Assessment provider calls by outcome",
		}, []string{"stage", "outcome"}),
		assessRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matcher_assess_retries_total",
			Help: "Assessment calls retried after a transient failure",
		}),
		assessCost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matcher_assess_cost_eur_total",
			Help: "Estimated assessment spend in EUR",
		}),
		distanceCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matcher_distance_cache_hits_total",
			Help: "Travel-time lookups served from the postal-pair cache",
		}),
		distanceCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matcher_distance_cache_misses_total",
			Help: "Travel-time lookups that required a provider call",
		}),
		distanceBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matcher_distance_batches_total",
			Help: "Batched travel-time provider calls",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matcher_sessions_active",
			Help: "Sessions currently held in the store",
		}),
		pairsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matcher_pairs_processed_total",
			Help: "Pairs processed per stage",
		}, []string{"stage"}),
		stageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "matcher_stage_duration_seconds",
			Help:    "Wall-clock duration of pipeline stages",
			Buckets: prometheus.DefBuckets,
		}),
	}

	c.registry.MustRegister(
		c.assessCalls,
		c.assessRetries,
		c.assessCost,
		c.distanceCacheHits,
		c.distanceCacheMisses,
		c.distanceBatches,
		c.sessionsActive,
		c.pairsProcessed,
		c.stageLatency,
	)

	return c
}

// RecordAssessCall records one finished provider call.
func (c *Collector) RecordAssessCall(stage, outcome string, cost float64) {
	c.assessCalls.WithLabelValues(stage, outcome).Inc()
	c.assessCost.Add(cost)
}

// RecordAssessRetry records a transient failure that will be retried.
func (c *Collector) RecordAssessRetry() {
	c.assessRetries.Inc()
}

// RecordCacheHit records a distance cache hit.
func (c *Collector) RecordCacheHit() {
	c.distanceCacheHits.Inc()
}

// RecordCacheMiss records a distance cache miss.
func (c *Collector) RecordCacheMiss() {
	c.distanceCacheMisses.Inc()
}

// RecordDistanceBatch records one batched provider call.
func (c *Collector) RecordDistanceBatch() {
	c.distanceBatches.Inc()
}

// SetActiveSessions updates the session gauge.
func (c *Collector) SetActiveSessions(n int) {
	c.sessionsActive.Set(float64(n))
}

// RecordPairProcessed counts one processed pair for a stage.
func (c *Collector) RecordPairProcessed(stage string) {
	c.pairsProcessed.WithLabelValues(stage).Inc()
}

// ObserveStageDuration records the duration of a completed stage.
func (c *Collector) ObserveStageDuration(seconds float64) {
	c.stageLatency.Observe(seconds)
}

// Handler returns the HTTP handler serving this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
