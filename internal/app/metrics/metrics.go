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
			Namespace: "slotpool",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotpool",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "slotpool",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotpool",
			Subsystem: "allocation",
			Name:      "reservations_total",
			Help:      "Total number of reservation attempts.",
		},
		[]string{"result"},
	)

	reservedSlots = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotpool",
			Subsystem: "allocation",
			Name:      "slots_reserved_total",
			Help:      "Total number of slots committed by reservations.",
		},
	)

	bulkGroups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotpool",
			Subsystem: "bulkops",
			Name:      "groups_total",
			Help:      "Total number of bulk operation groups attempted.",
		},
		[]string{"action", "result"},
	)

	draws = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotpool",
			Subsystem: "draw",
			Name:      "draws_total",
			Help:      "Total number of winner draws attempted.",
		},
		[]string{"result"},
	)

	snapshots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotpool",
			Subsystem: "archive",
			Name:      "snapshots_total",
			Help:      "Total number of snapshot generations attempted.",
		},
		[]string{"result"},
	)

	snapshotDocs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "slotpool",
			Subsystem: "archive",
			Name:      "snapshot_docs",
			Help:      "Number of slot records copied per snapshot.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 7), // 1 to ~4096
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		reservations,
		reservedSlots,
		bulkGroups,
		draws,
		snapshots,
		snapshotDocs,
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

// RecordReservation counts one reservation attempt and, when committed, the
// number of slots it created.
func RecordReservation(result string, slots int) {
	reservations.WithLabelValues(result).Inc()
	if slots > 0 {
		reservedSlots.Add(float64(slots))
	}
}

// RecordBulkGroups counts applied and failed operation groups for an action.
func RecordBulkGroups(action string, applied, failed int) {
	if applied > 0 {
		bulkGroups.WithLabelValues(action, "applied").Add(float64(applied))
	}
	if failed > 0 {
		bulkGroups.WithLabelValues(action, "failed").Add(float64(failed))
	}
}

// RecordDraw counts one draw attempt.
func RecordDraw(result string) {
	draws.WithLabelValues(result).Inc()
}

// RecordSnapshot counts one generation attempt and the documents it copied.
func RecordSnapshot(result string, docs int) {
	snapshots.WithLabelValues(result).Inc()
	if docs > 0 {
		snapshotDocs.Observe(float64(docs))
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

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "pool":
		if len(parts) == 1 {
			return "/pool"
		}
		if parts[1] == "slots" && len(parts) > 2 {
			return "/pool/slots/:number"
		}
		return "/pool/" + parts[1]
	case "snapshots":
		if len(parts) == 1 {
			return "/snapshots"
		}
		if len(parts) > 2 {
			return "/snapshots/:name/" + parts[2]
		}
		return "/snapshots/:name"
	default:
		return "/" + parts[0]
	}
}
