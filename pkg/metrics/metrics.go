// CLAUDE:SUMMARY Prometheus collectors for ingestion (files, rows, numeric fallbacks) and the HTTP query surface, on a private registry.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's collectors. The zero value is not usable;
// a nil *Metrics is, and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FilesIngested    prometheus.Counter
	FilesSkipped     prometheus.Counter
	RowsUnified      prometheus.Counter
	NumericFallbacks *prometheus.CounterVec
	Runs             *prometheus.CounterVec
	RequestCount     *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them with a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FilesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fiscalflow_files_ingested_total",
			Help: "Input files read successfully.",
		}),
		FilesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fiscalflow_files_skipped_total",
			Help: "Input files skipped because no encoding could read them.",
		}),
		RowsUnified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fiscalflow_rows_unified_total",
			Help: "Rows written to the unified expenditure table.",
		}),
		NumericFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscalflow_numeric_fallbacks_total",
			Help: "Non-empty monetary values that could not be parsed and were replaced by zero, by column.",
		}, []string{"column"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscalflow_runs_total",
			Help: "Pipeline runs, partitioned by outcome.",
		}, []string{"status"}),
		RequestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscalflow_requests_total",
			Help: "How many HTTP requests processed, partitioned by status code, method and path.",
		}, []string{"code", "method", "path"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "fiscalflow_request_duration_seconds",
			Help: "The HTTP request latencies in seconds.",
		}, []string{"code", "method", "path"}),
	}

	for _, c := range []prometheus.Collector{
		m.FilesIngested, m.FilesSkipped, m.RowsUnified, m.NumericFallbacks,
		m.Runs, m.RequestCount, m.RequestDuration,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FileRead records one input file outcome.
func (m *Metrics) FileRead(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.FilesIngested.Inc()
	} else {
		m.FilesSkipped.Inc()
	}
}

// Fallbacks adds per-column fallback counts.
func (m *Metrics) Fallbacks(byColumn map[string]int) {
	if m == nil {
		return
	}
	for col, n := range byColumn {
		m.NumericFallbacks.WithLabelValues(col).Add(float64(n))
	}
}

// Rows adds to the unified row counter.
func (m *Metrics) Rows(n int) {
	if m == nil {
		return
	}
	m.RowsUnified.Add(float64(n))
}

// RunFinished records a run outcome.
func (m *Metrics) RunFinished(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.Runs.WithLabelValues(status).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware counts and times requests served by next.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		code, path := strconv.Itoa(rec.status), route(r)
		m.RequestCount.WithLabelValues(code, r.Method, path).Inc()
		m.RequestDuration.WithLabelValues(code, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// route is the ServeMux pattern that matched r, without its method, or
// "unmatched". Raw paths are never used as label values.
func route(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	if _, path, ok := strings.Cut(r.Pattern, " "); ok {
		return path
	}
	return r.Pattern
}
