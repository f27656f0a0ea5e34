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
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	clonesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fiscal_year_clones_total",
			Help: "Deep clones of fiscal years by outcome.",
		},
		[]string{"outcome"},
	)

	cloneSkippedAllocations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clone_skipped_allocations_total",
		Help: "Money allocations skipped during clones due to missing remap entries.",
	})

	auditEventsCloned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_events_cloned_total",
		Help: "Audit events copied by the audit trail cloner.",
	})
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		clonesTotal, cloneSkippedAllocations, auditEventsCloned,
	)
}

// Handler exposes the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CloneFinished records the outcome of one fiscal-year clone.
func CloneFinished(outcome string) {
	clonesTotal.WithLabelValues(outcome).Inc()
}

// CloneAllocationSkipped counts a skipped allocation during a clone.
func CloneAllocationSkipped() { cloneSkippedAllocations.Inc() }

// AuditEventCloned counts one copied audit event.
func AuditEventCloned() { auditEventsCloned.Inc() }

// Instrument wraps a handler with request count/latency/in-flight metrics.
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

// statusWriter captures the response code for metrics.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// CanonicalPath collapses resource identifiers so metric labels stay
// low-cardinality.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	for _, prefix := range []string{"/v1/centres/", "/v1/fiscal-years/", "/v1/grants/"} {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(path, prefix)
		parts := strings.SplitN(rest, "/", 2)
		if parts[0] == "" {
			return path
		}
		canon := prefix + ":id"
		if len(parts) == 2 && parts[1] != "" {
			canon += "/" + parts[1]
		}
		return canon
	}
	return path
}
