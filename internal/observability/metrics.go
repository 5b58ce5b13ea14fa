package observability

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "splendor"

// Command outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeNotFound = "not_found"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// Projector results.
const (
	ProjectedApplied   = "applied"
	ProjectedDuplicate = "duplicate"
	ProjectedFailed    = "failed"
)

var (
	// Registry holds the server's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "total",
			Help:      "Commands handled, by command and outcome.",
		},
		[]string{"command", "outcome"},
	)

	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "duration_seconds",
			Help:      "Duration of command handling including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"command"},
	)

	conflictRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "conflict_retries_total",
			Help:      "Appends retried after losing an optimistic concurrency race.",
		},
		[]string{"command"},
	)

	projectedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "projector",
			Name:      "events_total",
			Help:      "Events seen by the projector, by result.",
		},
		[]string{"result"},
	)

	notificationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Notifications that could not be published.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	Registry.MustRegister(
		commands,
		commandDuration,
		conflictRetries,
		projectedEvents,
		notificationFailures,
		httpRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordCommand records the outcome and duration of one command.
func RecordCommand(command, outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Microsecond
	}
	commands.WithLabelValues(command, outcome).Inc()
	commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordConflictRetry counts one optimistic concurrency retry.
func RecordConflictRetry(command string) {
	conflictRetries.WithLabelValues(command).Inc()
}

// RecordProjected counts n projector events with the given result.
func RecordProjected(result string, n int) {
	if n <= 0 {
		return
	}
	projectedEvents.WithLabelValues(result).Add(float64(n))
}

// RecordNotificationFailure counts one failed publish.
func RecordNotificationFailure() {
	notificationFailures.Inc()
}

// InstrumentHandler counts requests by method, route pattern and status.
// route maps a request to a low-cardinality label; nil uses the first path segment.
func InstrumentHandler(next http.Handler, route func(*http.Request) string) http.Handler {
	if route == nil {
		route = firstSegment
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(strings.ToUpper(r.Method), route(r), strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets websocket upgrades take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer %T cannot be hijacked", r.ResponseWriter)
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func firstSegment(r *http.Request) string {
	trimmed := strings.Trim(r.URL.Path, "/")
	if trimmed == "" {
		return "/"
	}
	return "/" + strings.SplitN(trimmed, "/", 2)[0]
}
