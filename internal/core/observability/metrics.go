// Package observability holds the process-wide prometheus instruments for
// the overlay service. Request-level vectors register on the default
// registry at import time and Init mirrors them onto a dedicated
// registry. The cache and session instruments are rebuilt by Init so a
// fresh registry starts counting from zero.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	overlayResponseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlay_response_total",
			Help: "Overlay responses by cache hit class and output format.",
		},
		[]string{"hit_class", "format"},
	)

	overlayResponseDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "overlay_response_duration_seconds",
			Help:    "End-to-end overlay response time in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"hit_class", "format"},
	)

	overlayStageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "overlay_stage_duration_seconds",
			Help:    "Duration of overlay pipeline stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"stage"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

var (
	cacheResults        = newCacheResults()
	cacheOpTotal        = newCacheOpTotal()
	redisOpDuration     = newRedisOpDuration()
	spriteRendersTotal  = newSpriteRenders()
	sessionUpdatesTotal = newSessionUpdates()
	sessionsLive        = newSessionsLive()
)

func newCacheResults() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache results by outcome.",
		},
		[]string{"outcome"},
	)
}

func newCacheOpTotal() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Cache client operations by op and status.",
		},
		[]string{"op", "status"},
	)
}

func newRedisOpDuration() *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)
}

func newSpriteRenders() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sprite_renders_total",
			Help: "Label sprite raster lookups by cache outcome.",
		},
		[]string{"outcome"},
	)
}

func newSessionUpdates() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_updates_total",
			Help: "Session view updates by scheduling mode.",
		},
		[]string{"mode"},
	)
}

func newSessionsLive() prometheus.Gauge {
	return prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "overlay_sessions_live",
			Help: "Number of live overlay sessions.",
		},
	)
}

// Init binds the package instruments to r. The promauto vectors are
// mirrored as-is; the cache and session instruments are recreated so a
// fresh registry exports zeroed counters. The build info gauge stays on
// the default registry only: the registry provider exports its own
// richer app_build_info and two descriptors under one name cannot share
// a registry.
func Init(r prometheus.Registerer, enabled bool) {
	if r == nil || !enabled {
		return
	}
	for _, c := range []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		overlayResponseTotal,
		overlayResponseDurationSeconds,
		overlayStageDurationSeconds,
	} {
		mustRegister(r, c)
	}
	cacheResults = register(r, newCacheResults())
	cacheOpTotal = register(r, newCacheOpTotal())
	redisOpDuration = register(r, newRedisOpDuration())
	spriteRendersTotal = register(r, newSpriteRenders())
	sessionUpdatesTotal = register(r, newSessionUpdates())
	sessionsLive = register(r, newSessionsLive())
}

func mustRegister(r prometheus.Registerer, c prometheus.Collector) {
	if err := r.Register(c); err != nil {
		are := prometheus.AlreadyRegisteredError{}
		if !errors.As(err, &are) {
			panic(err)
		}
	}
}

// register adds c to r, adopting the already-registered collector when
// the registry has seen this descriptor before.
func register[C prometheus.Collector](r prometheus.Registerer, c C) C {
	if err := r.Register(c); err != nil {
		are := prometheus.AlreadyRegisteredError{}
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveOverlayResponse records one finished overlay request. hitClass is
// "hit", "miss" or "bypass"; format is the negotiated output format.
func ObserveOverlayResponse(hitClass, format string, durationSeconds float64) {
	overlayResponseTotal.WithLabelValues(hitClass, format).Inc()
	overlayResponseDurationSeconds.WithLabelValues(hitClass, format).Observe(durationSeconds)
}

// ObserveOverlayStage records the duration of one pipeline stage
// ("compute", "render", "encode").
func ObserveOverlayStage(stage string, durationSeconds float64) {
	overlayStageDurationSeconds.WithLabelValues(stage).Observe(durationSeconds)
}

// ObserveCacheOp records a cache client round trip; status is derived
// from err.
func ObserveCacheOp(op string, err error, durationSeconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	cacheOpTotal.WithLabelValues(op, status).Inc()
	redisOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func IncCacheHit()  { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss() { cacheResults.WithLabelValues("miss").Inc() }

func AddCacheHits(n int) {
	if n > 0 {
		cacheResults.WithLabelValues("hit").Add(float64(n))
	}
}

func AddCacheMisses(n int) {
	if n > 0 {
		cacheResults.WithLabelValues("miss").Add(float64(n))
	}
}

// AddSpriteRenders folds a rasterizer cache-stats delta into the sprite
// counters.
func AddSpriteRenders(hits, misses int) {
	if hits > 0 {
		spriteRendersTotal.WithLabelValues("hit").Add(float64(hits))
	}
	if misses > 0 {
		spriteRendersTotal.WithLabelValues("miss").Add(float64(misses))
	}
}

// IncSessionUpdate counts one applied view update; mode is "immediate",
// "debounced" or "coalesced".
func IncSessionUpdate(mode string) {
	sessionUpdatesTotal.WithLabelValues(mode).Inc()
}

func SetSessionsLive(n int) { sessionsLive.Set(float64(n)) }

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
