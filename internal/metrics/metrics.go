// Package metrics exposes the Prometheus instrumentation for the server.
// Collectors are package-level and registered once via promauto.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequests counts API requests by method and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lunastream_http_requests_total",
		Help: "API requests served, by method and status code.",
	}, []string{"method", "status"})

	// StreamsStarted counts media byte-serving requests.
	StreamsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lunastream_streams_started_total",
		Help: "Stream requests that began sending media bytes.",
	})

	// TranscodeJobs counts transcode jobs by kind (file, stream, hls).
	TranscodeJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lunastream_transcode_jobs_total",
		Help: "Transcode jobs started, by kind.",
	}, []string{"kind"})

	// CacheEvictions counts artifacts removed by the cache sweeper.
	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lunastream_cache_evictions_total",
		Help: "Cache artifacts evicted, by reason.",
	}, []string{"reason"})

	// CacheBytes tracks the current cache footprint.
	CacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lunastream_cache_bytes",
		Help: "Bytes currently held in the artifact cache.",
	})

	// ScanRunning is 1 while a library scan is in progress.
	ScanRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lunastream_scan_running",
		Help: "Whether a library scan is currently running.",
	})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware counts every request once the response completes.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
	})
}
