// Package metrics provides Prometheus metrics for birdfs.
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
	// Object store metrics
	storeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdfs_store_requests_total",
			Help: "Total object store HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	storeRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "birdfs_store_request_duration_seconds",
			Help:    "Object store request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	blobBytesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "birdfs_blob_bytes_fetched_total",
			Help: "Total blob bytes downloaded from the object store",
		},
	)

	// Cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdfs_cache_lookups_total",
			Help: "Cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)

	coalescedFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdfs_coalesced_fetches_total",
			Help: "Fetches that joined an in-flight request for the same key",
		},
		[]string{"endpoint"},
	)

	// Filesystem metrics
	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdfs_path_resolutions_total",
			Help: "Path resolutions by outcome",
		},
		[]string{"result"},
	)

	// Language server transport metrics
	lspMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdfs_lsp_messages_total",
			Help: "Language server messages by direction and kind",
		},
		[]string{"direction", "kind"},
	)

	lspCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "birdfs_lsp_call_duration_seconds",
			Help:    "Language server HTTP call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	lspInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "birdfs_lsp_inflight_calls",
			Help: "Language server calls currently in flight",
		},
	)

	// WebDAV metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdfs_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "birdfs_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordStoreRequest records an object store request. status is the HTTP
// status code, or 0 when the request failed before a response arrived.
func RecordStoreRequest(endpoint string, status int, duration time.Duration) {
	label := "error"
	if status != 0 {
		label = strconv.Itoa(status)
	}
	storeRequestsTotal.WithLabelValues(endpoint, label).Inc()
	storeRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordBlobBytes records downloaded blob bytes.
func RecordBlobBytes(n int) {
	blobBytesFetched.Add(float64(n))
}

// RecordCacheLookup records a hit or miss on the named cache.
func RecordCacheLookup(cache string, hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	cacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

// RecordCoalescedFetch records a fetch that shared another caller's request.
func RecordCoalescedFetch(endpoint string) {
	coalescedFetchesTotal.WithLabelValues(endpoint).Inc()
}

// RecordResolution records a path resolution outcome.
func RecordResolution(result string) {
	resolutionsTotal.WithLabelValues(result).Inc()
}

// RecordLSPMessage records a message passing through the transport.
// direction is "outbound", "inbound" or "dropped".
func RecordLSPMessage(direction, kind string) {
	lspMessagesTotal.WithLabelValues(direction, kind).Inc()
}

// RecordLSPCall records the duration of one language server HTTP call.
func RecordLSPCall(method string, duration time.Duration) {
	lspCallDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// AddLSPInflight adjusts the in-flight call gauge.
func AddLSPInflight(delta int) {
	lspInflight.Add(float64(delta))
}

// RecordHTTPRequest records a served HTTP request.
func RecordHTTPRequest(method string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, rw.statusCode, time.Since(start))
	})
}
