package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for ingestion, geofence evaluation and WiFi resolution
var (
	FixesIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pettrack_fixes_ingested_total",
			Help: "Total number of fixes stored, by source",
		},
		[]string{"source"},
	)

	IngestionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pettrack_ingestion_errors_total",
			Help: "Total number of collected ingestion errors, by code",
		},
		[]string{"code"},
	)

	IngestionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pettrack_ingestion_duration_seconds",
			Help:    "Duration of one device report through the pipeline",
			Buckets: prometheus.DefBuckets,
		},
	)

	AlertsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pettrack_alerts_emitted_total",
			Help: "Total number of geofence alerts emitted, by type",
		},
		[]string{"type"},
	)

	WifiCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pettrack_wifi_cache_hits_total",
			Help: "Total number of WiFi fingerprint cache hits",
		},
	)

	WifiCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pettrack_wifi_cache_misses_total",
			Help: "Total number of WiFi fingerprint cache misses",
		},
	)

	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pettrack_geolocation_provider_requests_total",
			Help: "Total number of geolocation provider calls, by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pettrack_geolocation_provider_request_duration_seconds",
			Help:    "Duration of geolocation provider calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pettrack_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pettrack_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics with the default registry.
// Repeated calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(FixesIngestedTotal)
		prometheus.MustRegister(IngestionErrorsTotal)
		prometheus.MustRegister(IngestionDuration)
		prometheus.MustRegister(AlertsEmittedTotal)
		prometheus.MustRegister(WifiCacheHitsTotal)
		prometheus.MustRegister(WifiCacheMissesTotal)
		prometheus.MustRegister(ProviderRequestsTotal)
		prometheus.MustRegister(ProviderRequestDuration)
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
	})
}

// Instrument records request count and latency per matched route.
func Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
