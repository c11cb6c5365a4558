// Package telemetry provides application-level observability for the media registry.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<MREG_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format (Content-Type: text/plain; version=0.0.4) and is intended to be scraped by
// a Prometheus server every 15–60 seconds.  It is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Resource-type probe counters and type-cache hit/miss counters
//   - Download pool outcome counters and duration histogram
//   - Move (rename) outcome counters
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /v1/content/*id)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied object ids.  Probe, download, and move metrics are labelled by
// resource type (a closed three-value domain) and outcome, never by object id.
//
// # Usage
//
// Import the package for side effects so metrics are registered before the HTTP server
// starts listening, or use an exported var directly:
//
//	telemetry.TypeProbesTotal.WithLabelValues("image", "hit").Inc()
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /v1/content/*id),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Requests by route:                 sum by (path) (rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
//
// Example PromQL queries:
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
//   - Average latency:                   rate(http_request_duration_seconds_sum[5m]) / rate(http_request_duration_seconds_count[5m])
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Resource-type resolution metrics — recorded by the resolver's probe loop and
// the type cache.
//
// TypeProbesTotal is a CounterVec with labels {type, outcome}.  One increment
// per admin-lookup attempt; outcome is "hit", "miss", or "error".  A rising
// miss share means the backend's type index and the registry's cache are
// drifting apart and cold resolves are paying the full 3-type probe cost.
//
// Example PromQL queries:
//   - Probe volume by type:      sum by (type) (rate(type_probes_total[5m]))
//   - Probe miss share:          sum(rate(type_probes_total{outcome="miss"}[5m])) / sum(rate(type_probes_total[5m]))
//
// TypeCacheLookupsTotal is a CounterVec with label {outcome} ("hit" or "miss").
// The hit ratio is the single most useful health signal for the cache TTL
// setting: a low ratio with a high probe rate suggests the TTL is too short
// for the workload's re-access interval.
//
// Example PromQL queries:
//   - Cache hit ratio:  sum(rate(type_cache_lookups_total{outcome="hit"}[5m])) / sum(rate(type_cache_lookups_total[5m]))
var (
	TypeProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "type_probes_total",
			Help: "Total number of backend type-probe attempts, by resource type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	TypeCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "type_cache_lookups_total",
			Help: "Total number of type cache lookups, by outcome (hit or miss).",
		},
		[]string{"outcome"},
	)
)

// Download pool metrics — recorded by the bounded download executor.
//
// DownloadsTotal is a CounterVec with label {outcome}: "ok", "not_found",
// "timeout", "canceled", or "network_error".  Timeouts clustering without a
// matching rise in backend latency usually mean queue saturation (all workers
// busy), not slow fetches.
//
// Example PromQL queries:
//   - Success rate:     sum(rate(downloads_total{outcome="ok"}[5m])) / sum(rate(downloads_total[5m]))
//   - Timeout alerts:   increase(downloads_total{outcome="timeout"}[10m]) > 5
//
// DownloadDuration is a Histogram observing the caller-visible duration of a
// download, queueing included, with buckets spanning 50 ms to the 120 s ceiling.
//
// Example PromQL queries:
//   - p95 download time:  histogram_quantile(0.95, rate(download_duration_seconds_bucket[5m]))
var (
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "downloads_total",
			Help: "Total number of download requests, by outcome.",
		},
		[]string{"outcome"},
	)

	DownloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "download_duration_seconds",
			Help:    "Caller-visible download duration including queueing, per request.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
)

// Move metrics — recorded by the move orchestrator.
//
// MovesTotal is a CounterVec with labels {type, outcome}; outcome is "ok" or
// "failed".  The type label carries the resource type of the successful rename
// attempt ("" for exhausted failures), so sustained failures for one type point
// at a namespace-specific backend problem rather than a general outage.
//
// Example PromQL queries:
//   - Move failure rate:  sum(rate(moves_total{outcome="failed"}[15m]))
var MovesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "moves_total",
		Help: "Total number of move (rename) operations, by resource type and outcome.",
	},
	[]string{"type", "outcome"},
)
