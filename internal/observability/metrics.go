package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation during shutdown drain.
	HTTPRequestsInFlight prometheus.Gauge

	// Weather service call rate by HTTP outcome.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Weather service latency per call. Watch for: p95 approaching the client timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts. Watch for: high retries = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// Failed fetches by category (see client.CategorizeError).
	WeatherAPIErrorsTotal *prometheus.CounterVec

	// Circuit breaker state: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState prometheus.Gauge

	// Circuit breaker transitions by target state.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Expiring cache lookups by result (hit, miss).
	CacheLookupsTotal *prometheus.CounterVec

	// Expiring cache recomputations by outcome (success, error).
	CacheRecomputesTotal *prometheus.CounterVec

	// Lookups that waited on another caller's recomputation instead of starting their own.
	CacheCoalescedTotal prometheus.Counter

	// Backing store failures by operation (get, set, delete).
	CacheStoreErrorsTotal *prometheus.CounterVec

	// Cache warming runs, their duration, and runs with at least one failure.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram
	CacheWarmingErrorsTotal     prometheus.Counter

	// Refresh ticks per thing by outcome (online, fetch_error, parse_error, no_results_kept,
	// no_results_expired, panic).
	RefreshTicksTotal *prometheus.CounterVec

	// Thing status: 1 for the current status label, 0 otherwise.
	ThingStatus *prometheus.GaugeVec

	// Age of the snapshot currently held per thing. Watch for: values approaching the max data age.
	SnapshotAgeSeconds *prometheus.GaugeVec

	// Channel state updates pushed per thing.
	ChannelUpdatesTotal *prometheus.CounterVec

	// Rate limit denials on manual refresh.
	RateLimitDeniedTotal prometheus.Counter
)

var thingStatuses = []string{"UNKNOWN", "ONLINE", "OFFLINE"}

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of weather service calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Weather service latency in seconds (per call)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather service calls",
		},
	)
	WeatherAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiErrorsTotal",
			Help: "Failed weather fetches by error category",
		},
		[]string{"category"},
	)
	CircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Weather service circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions by target state",
		},
		[]string{"to"},
	)
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheLookupsTotal",
			Help: "Expiring cache lookups by result",
		},
		[]string{"result"},
	)
	CacheRecomputesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheRecomputesTotal",
			Help: "Expiring cache recomputations by outcome",
		},
		[]string{"outcome"},
	)
	CacheCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheCoalescedTotal",
			Help: "Lookups that shared an in-flight recomputation",
		},
	)
	CacheStoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStoreErrorsTotal",
			Help: "Backing store errors by operation",
		},
		[]string{"op"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30},
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed key",
		},
	)
	RefreshTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refreshTicksTotal",
			Help: "Refresh ticks per thing by outcome",
		},
		[]string{"thing", "outcome"},
	)
	ThingStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thingStatus",
			Help: "Current thing status (1 for the active status label)",
		},
		[]string{"thing", "status"},
	)
	SnapshotAgeSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapshotAgeSeconds",
			Help: "Age of the weather snapshot held per thing",
		},
		[]string{"thing"},
	)
	ChannelUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelUpdatesTotal",
			Help: "Channel state updates pushed per thing",
		},
		[]string{"thing"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal, WeatherAPIErrorsTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		CacheLookupsTotal, CacheRecomputesTotal, CacheCoalescedTotal, CacheStoreErrorsTotal,
		CacheWarmingTotal, CacheWarmingDurationSeconds, CacheWarmingErrorsTotal,
		RefreshTicksTotal, ThingStatus, SnapshotAgeSeconds, ChannelUpdatesTotal,
		RateLimitDeniedTotal,
	)
}

// SetThingStatus marks status as the only active status for thing.
func SetThingStatus(thing, status string) {
	for _, s := range thingStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		ThingStatus.WithLabelValues(thing, s).Set(v)
	}
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
