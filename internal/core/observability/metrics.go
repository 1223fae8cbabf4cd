// Package observability holds the domain Prometheus collectors and their recording helpers.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeHit         = "hit"
	OutcomeMiss        = "miss"
	OutcomeRemoteError = "remote_error"
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

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotspot_cache_results_total",
			Help: "Hotspot resolutions by cache outcome.",
		},
		[]string{"outcome"},
	)

	storeOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hotspot_store_op_duration_seconds",
			Help:    "Latency of local store operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op", "status"},
	)

	policyDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_policy_decisions_total",
			Help: "Fetch policy evaluations by resulting category and reason.",
		},
		[]string{"category", "reason"},
	)

	sessionFetchDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "session_fetch_discarded_total",
			Help: "Fetch results dropped because a newer fetch was dispatched.",
		},
	)

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Map sessions currently held in the registry.",
		},
	)

	invalidationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Cache invalidation events by op and status.",
		},
		[]string{"op", "status"},
	)

	invalidationMarkedOffset = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "invalidation_marked_offset",
			Help: "Last invalidation offset marked after a successful clear, per partition.",
		},
		[]string{"topic", "partition"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		cacheResults,
		storeOpSeconds,
		policyDecisions,
		sessionFetchDiscarded,
		sessionsActive,
		invalidationEvents,
		invalidationMarkedOffset,
	}
}

// Init registers the domain collectors with reg. It may be called with several
// registries; re-registering on the same one is a no-op.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
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

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncCacheResult(outcome string) {
	cacheResults.WithLabelValues(outcome).Inc()
}

func ObserveStoreOp(op string, err error, durationSeconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	storeOpSeconds.WithLabelValues(op, status).Observe(durationSeconds)
}

func ObservePolicyDecision(category, reason string) {
	policyDecisions.WithLabelValues(category, reason).Inc()
}

func IncSessionFetchDiscarded() {
	sessionFetchDiscarded.Inc()
}

func SetSessionsActive(n int) {
	sessionsActive.Set(float64(n))
}

func ObserveInvalidation(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	invalidationEvents.WithLabelValues(op, status).Inc()
}

func SetInvalidationMarkedOffset(topic string, partition int32, offset int64) {
	invalidationMarkedOffset.WithLabelValues(topic, strconv.Itoa(int(partition))).Set(float64(offset))
}
