// Package observability holds the Prometheus collectors shared by the cache,
// the lookup service and the HTTP layer.
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
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of mapping provider calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"endpoint"},
	)

	upstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_errors_total",
			Help: "Failed mapping provider calls by kind.",
		},
		[]string{"endpoint", "kind"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "places_cache_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Cache lookups by strategy, entry type and outcome.",
		},
		[]string{"strategy", "type", "outcome"},
	)

	cacheSets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_sets_total",
			Help: "Cache writes by strategy and entry type.",
		},
		[]string{"strategy", "type"},
	)

	cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Entries removed from the cache by reason.",
		},
		[]string{"reason"},
	)

	cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Entries currently held, including expired ones not yet swept.",
		},
	)

	cacheSweepSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cache_sweep_duration_seconds",
			Help:    "Duration of one expiry sweep.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)

	invalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidation_events_total",
			Help: "Invalidation events by driver, op and result.",
		},
		[]string{"driver", "op", "result"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		upstreamErrorsTotal,
		buildInfo,
		cacheLookups,
		cacheSets,
		cacheEvictions,
		cacheEntries,
		cacheSweepSeconds,
		invalidationsTotal,
	}
}

func init() {
	register(prometheus.DefaultRegisterer)
}

// Init registers every collector with reg as well. Collectors are already
// on the default registry, so a disabled Init is a no-op.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	register(reg)
}

func register(reg prometheus.Registerer) {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(endpoint string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(endpoint).Observe(durationSeconds)
}

func IncUpstreamError(endpoint, kind string) {
	upstreamErrorsTotal.WithLabelValues(endpoint, kind).Inc()
}

func ObserveLookup(strategy, typ string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheLookups.WithLabelValues(strategy, typ, outcome).Inc()
}

func IncCacheSet(strategy, typ string) {
	cacheSets.WithLabelValues(strategy, typ).Inc()
}

func AddEvictions(reason string, n int) {
	if n <= 0 {
		return
	}
	cacheEvictions.WithLabelValues(reason).Add(float64(n))
}

func SetCacheEntries(n int) {
	cacheEntries.Set(float64(n))
}

func ObserveSweep(durationSeconds float64) {
	cacheSweepSeconds.Observe(durationSeconds)
}

func ObserveInvalidation(driver, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	invalidationsTotal.WithLabelValues(driver, op, result).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
