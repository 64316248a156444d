// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "betareader_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "betareader_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 60, 300},
		},
		[]string{"method", "route"},
	)

	// Audio proxy metrics
	AudioBytesRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "betareader_audio_bytes_relayed_total",
			Help: "Bytes relayed from upstream audio sources to clients",
		},
	)

	AudioStreamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "betareader_audio_streams_total",
			Help: "Audio proxy requests by outcome",
		},
		[]string{"outcome"},
	)

	// Content cache metrics
	DocumentCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "betareader_document_cache_total",
			Help: "Content document cache lookups by result",
		},
		[]string{"result"},
	)

	// Security metrics
	SecurityEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "betareader_security_events_total",
			Help: "Authentication and authorization events by outcome",
		},
		[]string{"event", "outcome"},
	)
)

// Audio stream outcomes.
const (
	StreamCompleted        = "completed"
	StreamClientGone       = "client_gone"
	StreamUpstreamError    = "upstream_error"
	StreamUpstreamReadFail = "upstream_read_error"
	StreamRejected         = "rejected"
)

// RecordHTTPRequest observes one finished request. route is the matched mux
// pattern, or "unmatched".
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordAudioStream counts a finished proxy request and the bytes it relayed.
func RecordAudioStream(outcome string, bytes int64) {
	AudioStreamsTotal.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		AudioBytesRelayed.Add(float64(bytes))
	}
}

// RecordCacheHit records a document cache hit.
func RecordCacheHit() {
	DocumentCacheTotal.WithLabelValues("hit").Inc()
}

// RecordCacheMiss records a document cache miss.
func RecordCacheMiss() {
	DocumentCacheTotal.WithLabelValues("miss").Inc()
}

// RecordSecurityEvent counts an audited event.
func RecordSecurityEvent(event, outcome string) {
	SecurityEventsTotal.WithLabelValues(event, outcome).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
