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
			Namespace: "avatar_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avatar_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "avatar_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	mints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avatar_layer",
			Subsystem: "ledger",
			Name:      "mints_total",
			Help:      "Total number of mint attempts by kind.",
		},
		[]string{"kind", "success"},
	)

	equipChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avatar_layer",
			Subsystem: "ledger",
			Name:      "equip_changes_total",
			Help:      "Total number of equip change-set applications.",
		},
		[]string{"success"},
	)

	renders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avatar_layer",
			Subsystem: "render",
			Name:      "renders_total",
			Help:      "Total number of avatar renders by cache outcome.",
		},
		[]string{"cache"},
	)

	renderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "avatar_layer",
			Subsystem: "render",
			Name:      "duration_seconds",
			Help:      "Duration of avatar render composition.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	balanceTotals = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "avatar_layer",
			Subsystem: "balances",
			Name:      "accrued_units",
			Help:      "Accrued balance per asset in base units, summed over payees.",
		},
		[]string{"asset"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		mints,
		equipChanges,
		renders,
		renderDuration,
		balanceTotals,
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

// RecordMint records a mint attempt. kind is "component" or "avatar".
func RecordMint(kind string, success bool) {
	mints.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}

// RecordEquipChange records an equip change-set application.
func RecordEquipChange(success bool) {
	equipChanges.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordRender records one render. cache is "hit", "miss" or "off".
func RecordRender(cache string, duration time.Duration) {
	if cache == "" {
		cache = "off"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	renders.WithLabelValues(cache).Inc()
	renderDuration.Observe(duration.Seconds())
}

// SetBalanceTotal sets the accrued total for an asset in base units.
func SetBalanceTotal(asset string, units int64) {
	balanceTotals.WithLabelValues(asset).Set(float64(units))
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

// canonicalPath collapses id segments so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "templates", "components", "avatars":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
		if len(parts) == 2 {
			return "/" + parts[0] + "/:id"
		}
		return "/" + parts[0] + "/:id/" + parts[2]
	default:
		return "/" + parts[0]
	}
}
