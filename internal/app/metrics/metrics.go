// Package metrics exposes Prometheus collectors for the form pipeline and
// its HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "formflow",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "formflow",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "formflow",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "formflow",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Current number of open form sessions.",
		},
	)

	fetchesStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "formflow",
			Subsystem: "pipeline",
			Name:      "fetches_started_total",
			Help:      "Total dependent fetches launched, by resource.",
		},
		[]string{"resource"},
	)

	fetchesSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "formflow",
			Subsystem: "pipeline",
			Name:      "fetches_settled_total",
			Help:      "Total dependent fetches applied to visible state.",
		},
		[]string{"resource", "status"},
	)

	staleDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "formflow",
			Subsystem: "pipeline",
			Name:      "stale_responses_dropped_total",
			Help:      "Responses discarded because their key was superseded.",
		},
		[]string{"resource"},
	)

	debounceFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "formflow",
			Subsystem: "pipeline",
			Name:      "debounce_fired_total",
			Help:      "Debounce timers that settled, by field.",
		},
		[]string{"field"},
	)

	permissiveSubmissions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "formflow",
			Subsystem: "pipeline",
			Name:      "permissive_submissions_total",
			Help:      "Submissions allowed without a validation success because no package was required.",
		},
	)

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "formflow",
			Subsystem: "pipeline",
			Name:      "submissions_total",
			Help:      "Submit attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		activeSessions,
		fetchesStarted,
		fetchesSettled,
		staleDropped,
		debounceFired,
		permissiveSubmissions,
		submissions,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// SessionOpened increments the active session gauge.
func SessionOpened() { activeSessions.Inc() }

// SessionClosed decrements the active session gauge.
func SessionClosed() { activeSessions.Dec() }

// RecordFetchStarted counts a launched dependent fetch.
func RecordFetchStarted(resource string) {
	fetchesStarted.WithLabelValues(resource).Inc()
}

// RecordFetchSettled counts an applied fetch result.
func RecordFetchSettled(resource string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	fetchesSettled.WithLabelValues(resource, status).Inc()
}

// RecordStaleDropped counts a discarded superseded response.
func RecordStaleDropped(resource string) {
	staleDropped.WithLabelValues(resource).Inc()
}

// RecordDebounceFired counts a settled debounce timer.
func RecordDebounceFired(field string) {
	debounceFired.WithLabelValues(field).Inc()
}

// RecordPermissiveSubmission counts a submission allowed without a
// validation success.
func RecordPermissiveSubmission() { permissiveSubmissions.Inc() }

// RecordSubmission counts a submit attempt outcome (accepted, rejected,
// failed).
func RecordSubmission(outcome string) {
	submissions.WithLabelValues(outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses session IDs so metric cardinality stays bounded.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "sessions" {
		return "/" + strings.Join(parts, "/")
	}
	if len(parts) == 1 {
		return "/sessions"
	}
	if len(parts) == 2 {
		return "/sessions/:id"
	}
	return "/sessions/:id/" + strings.Join(parts[2:], "/")
}
