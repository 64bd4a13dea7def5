package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bookly/service_layer/pkg/promisestate"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bookly",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookly",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bookly",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	trackedInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bookly",
			Subsystem: "tracker",
			Name:      "inflight_operations",
			Help:      "Tracked operations currently loading.",
		},
		[]string{"operation"},
	)

	trackedRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookly",
			Subsystem: "tracker",
			Name:      "operations_total",
			Help:      "Total number of tracked operation invocations by outcome.",
		},
		[]string{"operation", "status"},
	)

	trackedDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bookly",
			Subsystem: "tracker",
			Name:      "operation_duration_seconds",
			Help:      "Duration of tracked operations, including any start delay.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "status"},
	)

	sessionsPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bookly",
			Subsystem: "sessions",
			Name:      "purged_total",
			Help:      "Expired sessions removed by the sweeper.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		trackedInFlight,
		trackedRuns,
		trackedDuration,
		sessionsPurged,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
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

// ObserveTracker subscribes to a tracker's change notifications and records
// in-flight, outcome and duration metrics under the given operation name.
// Call Off on the returned subscription to stop recording.
func ObserveTracker[R, P any](operation string, tracker *promisestate.Tracker[R, P]) *promisestate.Subscription {
	if operation == "" {
		operation = "unknown"
	}
	return tracker.OnChange(func(st promisestate.State[R]) {
		if st.Loading {
			trackedInFlight.WithLabelValues(operation).Inc()
			return
		}
		trackedInFlight.WithLabelValues(operation).Dec()
		RecordTrackedOperation(operation, st.FinishedAt.Sub(st.StartedAt), st.Err == nil)
	})
}

// RecordTrackedOperation records the outcome of one tracked invocation.
func RecordTrackedOperation(operation string, duration time.Duration, success bool) {
	if operation == "" {
		operation = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	status := "failed"
	if success {
		status = "succeeded"
	}
	trackedRuns.WithLabelValues(operation, status).Inc()
	trackedDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// RecordSessionsPurged adds n to the purged sessions counter.
func RecordSessionsPurged(n int) {
	if n > 0 {
		sessionsPurged.Add(float64(n))
	}
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

// canonicalPath collapses identifiers so label cardinality stays bounded:
// /users/42/bookings becomes /users/:id/bookings.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "users", "bookings", "sessions":
	default:
		return "/" + parts[0]
	}
	out := "/" + parts[0]
	if len(parts) > 1 {
		out += "/:id"
	}
	if len(parts) > 2 {
		out += "/" + parts[2]
	}
	return out
}
