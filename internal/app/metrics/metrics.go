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
			Namespace: "mutualaid",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mutualaid",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mutualaid",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	gatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mutualaid",
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Total number of persistence gateway calls.",
		},
		[]string{"op", "table", "success"},
	)

	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mutualaid",
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Duration of persistence gateway calls.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"op", "table"},
	)

	exchangeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mutualaid",
			Subsystem: "exchanges",
			Name:      "transitions_total",
			Help:      "Exchange status transitions applied.",
		},
		[]string{"from", "to"},
	)

	trustIncrements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mutualaid",
			Subsystem: "trust",
			Name:      "increments_total",
			Help:      "Trust level increments attempted.",
		},
		[]string{"success"},
	)

	catalogGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mutualaid",
			Subsystem: "catalog",
			Name:      "rows",
			Help:      "Rows per catalog view at the last refresh.",
		},
		[]string{"view"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mutualaid",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Scheduled job runs.",
		},
		[]string{"job", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		gatewayCalls,
		gatewayDuration,
		exchangeTransitions,
		trustIncrements,
		catalogGauge,
		jobRuns,
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

// ObserveGateway records one gateway call. Its signature matches
// gateway.ObserveFunc.
func ObserveGateway(op, table string, elapsed time.Duration, err error) {
	gatewayCalls.WithLabelValues(op, table, strconv.FormatBool(err == nil)).Inc()
	gatewayDuration.WithLabelValues(op, table).Observe(elapsed.Seconds())
}

// RecordTransition counts an applied exchange transition.
func RecordTransition(from, to string) {
	exchangeTransitions.WithLabelValues(from, to).Inc()
}

// RecordTrustIncrement counts a trust increment attempt.
func RecordTrustIncrement(success bool) {
	trustIncrements.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// SetCatalogRows publishes the size of a catalog view.
func SetCatalogRows(view string, n int) {
	catalogGauge.WithLabelValues(view).Set(float64(n))
}

// RecordJobRun counts a scheduled job run.
func RecordJobRun(job string, success bool) {
	jobRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
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

// literal path segments; anything else in an id position is collapsed
var literalSegments = map[string]bool{
	"templates":  true,
	"counts":     true,
	"close":      true,
	"contact":    true,
	"respond":    true,
	"transition": true,
	"actions":    true,
}

func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "v1" || len(parts) < 2 {
		return "/" + parts[0]
	}
	out := []string{"v1", parts[1]}
	for _, seg := range parts[2:] {
		if literalSegments[seg] {
			out = append(out, seg)
		} else {
			out = append(out, ":id")
		}
	}
	return "/" + strings.Join(out, "/")
}
