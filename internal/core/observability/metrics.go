// Package observability holds the service level prometheus collectors.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	tileQuerySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_query_duration_seconds",
			Help:    "Latency of PostGIS tile queries in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.002, 2, 13),
		},
		[]string{"tileset", "outcome"},
	)

	tileBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_size_bytes",
			Help:    "Size of served vector tiles.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 9), // 64B to ~4MB
		},
		[]string{"tileset"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_cache_results_total",
			Help: "Tile cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Cache backend operations by op and result.",
		},
		[]string{"op", "result"},
	)

	cacheOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_operation_duration_seconds",
			Help:    "Latency of cache backend operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	invalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_invalidations_total",
			Help: "Processed invalidation events by op and result.",
		},
		[]string{"op", "result"},
	)

	invalidatedKeys = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tile_invalidated_keys_total",
			Help: "Cache keys removed by invalidation events.",
		},
	)

	catalogTilesets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tileset_catalog_size",
			Help: "Tilesets in the current catalog snapshot.",
		},
	)

	catalogRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tileset_catalog_refresh_total",
			Help: "Catalog refresh attempts by result.",
		},
		[]string{"result"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		tileQuerySeconds, tileBytes,
		cacheResults, cacheOpTotal, cacheOpSeconds,
		invalidationsTotal, invalidatedKeys,
		catalogTilesets, catalogRefreshTotal,
	}
}

// Init registers the collectors on reg. Registering twice on the same registry is
// a no-op.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveTileQuery records one PostGIS round trip; outcome is ok, empty or error
func ObserveTileQuery(tileset, outcome string, durationSeconds float64) {
	tileQuerySeconds.WithLabelValues(tileset, outcome).Observe(durationSeconds)
}

func ObserveTileBytes(tileset string, n int) {
	tileBytes.WithLabelValues(tileset).Observe(float64(n))
}

func IncCacheHit()  { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss() { cacheResults.WithLabelValues("miss").Inc() }

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	cacheOpTotal.WithLabelValues(op, result(err)).Inc()
	cacheOpSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func ObserveInvalidation(op string, keys int, err error) {
	invalidationsTotal.WithLabelValues(op, result(err)).Inc()
	if err == nil && keys > 0 {
		invalidatedKeys.Add(float64(keys))
	}
}

func ObserveCatalogRefresh(size int, err error) {
	catalogRefreshTotal.WithLabelValues(result(err)).Inc()
	if err == nil {
		catalogTilesets.Set(float64(size))
	}
}
