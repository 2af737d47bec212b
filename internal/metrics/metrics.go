package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockscan/backend/internal/domain"
)

// Metrics owns its registry so several instances can coexist in one process.
// A nil *Metrics records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	scansRecorded *prometheus.CounterVec
	importRecords *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stockscan",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "stockscan",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		scansRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stockscan",
				Name:      "scans_recorded_total",
				Help:      "Scan units recorded, by movement type",
			},
			[]string{"type"},
		),
		importRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stockscan",
				Name:      "import_records_total",
				Help:      "Bulk import records processed, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.scansRecorded,
		m.importRecords,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(method string, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"method": method, "route": route, "status": strconv.Itoa(status)}
	m.httpRequests.With(labels).Inc()
	m.httpDuration.With(labels).Observe(elapsed.Seconds())
}

func (m *Metrics) ScansRecorded(scanType domain.ScanType, units int) {
	if m == nil || units < 1 {
		return
	}
	m.scansRecorded.WithLabelValues(string(scanType)).Add(float64(units))
}

func (m *Metrics) ImportRecords(kind domain.ImportKind, counts domain.ImportCounts) {
	if m == nil {
		return
	}
	m.importRecords.WithLabelValues(string(kind), "inserted").Add(float64(counts.Inserted))
	m.importRecords.WithLabelValues(string(kind), "updated").Add(float64(counts.Updated))
	m.importRecords.WithLabelValues(string(kind), "skipped").Add(float64(counts.Skipped))
}
