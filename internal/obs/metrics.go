package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hospitalcrm_api_requests_total",
			Help: "Total number of API requests issued by the client.",
		},
		[]string{"method", "path", "status"},
	)

	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hospitalcrm_api_request_duration_seconds",
			Help:    "API request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	staleResponsesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hospitalcrm_stale_responses_dropped_total",
		Help: "Fetch responses discarded because a newer request was already applied.",
	})

	streamEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hospitalcrm_stream_events_total",
		Help: "Push events received on the appointments stream.",
	})

	streamReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hospitalcrm_stream_reconnects_total",
		Help: "Reconnect attempts made by the stream subscriber.",
	})

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests (mock backend).",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests (mock backend).",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds (mock backend).",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		apiRequestsTotal,
		apiRequestDuration,
		staleResponsesDropped,
		streamEventsTotal,
		streamReconnectsTotal,
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAPIRequest records one client API call.
func ObserveAPIRequest(method, path string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	canonical := CanonicalPath(path)
	apiRequestsTotal.WithLabelValues(method, canonical, code).Inc()
	apiRequestDuration.WithLabelValues(method, canonical, code).Observe(d.Seconds())
}

// MarkStaleDropped counts a fetch response discarded by the sequence check.
func MarkStaleDropped() { staleResponsesDropped.Inc() }

// MarkStreamEvent counts a received push event.
func MarkStreamEvent() { streamEventsTotal.Inc() }

// MarkStreamReconnect counts a stream reconnect attempt.
func MarkStreamReconnect() { streamReconnectsTotal.Inc() }

// Instrument wraps an http.Handler with RPS/latency/in-flight accounting.
// Used by the mock backend.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses entity identifiers so metric label cardinality stays
// bounded: /appointments/<id> becomes /appointments/:id.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for _, collection := range []string{"appointments", "doctors", "patients"} {
		if len(parts) == 3 && parts[1] == collection && parts[2] != "" {
			return "/" + collection + "/:id"
		}
	}
	return path
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streaming working through the instrumented handler.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
