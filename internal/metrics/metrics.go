// Package metrics provides Prometheus metrics for the rootshare server.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rootshare_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rootshare_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// File operation metrics
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rootshare_operations_total",
			Help: "Total storage operations by result kind",
		},
		[]string{"operation", "result"},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rootshare_bytes_uploaded_total",
			Help: "Total bytes committed by uploads",
		},
	)

	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rootshare_bytes_downloaded_total",
			Help: "Total bytes sent by downloads",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rootshare_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rootshare_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	// Janitor metrics
	janitorRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rootshare_janitor_removed_total",
			Help: "Stale upload temp files removed",
		},
	)

	janitorSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rootshare_janitor_sweep_duration_seconds",
			Help:    "Time spent per janitor sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rootshare_rate_limit_hits_total",
			Help: "Total rate limit rejections (429s)",
		},
	)

	sftpSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rootshare_sftp_sessions_active",
			Help: "Number of open SFTP sessions",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordOperation counts a storage operation. result is "ok" or an error kind.
func RecordOperation(operation, result string) {
	operationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordUploadBytes adds committed upload bytes.
func RecordUploadBytes(n int64) {
	bytesUploaded.Add(float64(n))
}

// RecordDownloadBytes adds bytes sent to a client.
func RecordDownloadBytes(n int64) {
	bytesDownloaded.Add(float64(n))
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordJanitorSweep records one sweep and the temp files it removed.
func RecordJanitorSweep(removed int, duration time.Duration) {
	janitorRemovedTotal.Add(float64(removed))
	janitorSweepDuration.Observe(duration.Seconds())
}

// RecordRateLimitHit records a rate limit rejection.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// SFTPSessionOpened and SFTPSessionClosed track open SFTP sessions.
func SFTPSessionOpened() { sftpSessionsActive.Inc() }

func SFTPSessionClosed() { sftpSessionsActive.Dec() }

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

// Middleware returns HTTP middleware that records request metrics. The
// route pattern is used as the path label so arbitrary client paths do not
// create new series.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
