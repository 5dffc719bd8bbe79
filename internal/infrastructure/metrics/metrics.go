// Package metrics exposes scan pipeline and API counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	scansTotal         *prometheus.CounterVec
	scansInFlight      prometheus.Gauge
	captureSeconds     *prometheus.HistogramVec
	gradesTotal        *prometheus.CounterVec
	scriptsPerScan     prometheus.Histogram
	cacheLookupsTotal  *prometheus.CounterVec
	admissionsTotal    *prometheus.CounterVec
	httpRequestSeconds *prometheus.HistogramVec
	eventsDropped      prometheus.Counter
}

// New creates and registers all collectors, plus the Go and process
// collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.scansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vela_scans_total",
		Help: "Scan status transitions by resulting status",
	}, []string{"status"})

	m.scansInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vela_scans_in_flight",
		Help: "Scans currently running",
	})

	m.captureSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vela_capture_duration_seconds",
		Help:    "Page capture duration",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"outcome"})

	m.gradesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vela_scan_grades_total",
		Help: "Completed scans by letter grade",
	}, []string{"grade"})

	m.scriptsPerScan = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vela_third_party_scripts",
		Help:    "Third-party scripts found per completed scan",
		Buckets: []float64{0, 1, 5, 10, 15, 20, 30, 50},
	})

	m.cacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vela_cache_lookups_total",
		Help: "Result cache lookups by kind and outcome",
	}, []string{"kind", "outcome"})

	m.admissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vela_scan_admissions_total",
		Help: "Scan requests by admission outcome",
	}, []string{"outcome"})

	m.httpRequestSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vela_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	m.eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vela_events_dropped_total",
		Help: "Status events dropped for slow stream subscribers",
	})

	m.registry.MustRegister(
		m.scansTotal, m.scansInFlight, m.captureSeconds, m.gradesTotal,
		m.scriptsPerScan, m.cacheLookupsTotal, m.admissionsTotal,
		m.httpRequestSeconds, m.eventsDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ScanStatus counts a transition into status.
func (m *Metrics) ScanStatus(status string) {
	if m == nil {
		return
	}
	m.scansTotal.WithLabelValues(status).Inc()
}

// ScanStarted and ScanFinished bracket one running pipeline.
func (m *Metrics) ScanStarted() {
	if m == nil {
		return
	}
	m.scansInFlight.Inc()
}

// ScanFinished pairs with ScanStarted.
func (m *Metrics) ScanFinished() {
	if m == nil {
		return
	}
	m.scansInFlight.Dec()
}

// Capture observes one capture.
func (m *Metrics) Capture(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.captureSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// ScanCompleted records the grade and script count of a completed scan.
func (m *Metrics) ScanCompleted(grade string, scripts int) {
	if m == nil {
		return
	}
	m.gradesTotal.WithLabelValues(grade).Inc()
	m.scriptsPerScan.Observe(float64(scripts))
}

// CacheLookup records a lookup of kind ("id" or "url") and whether it hit.
func (m *Metrics) CacheLookup(kind string, hit bool, err error) {
	if m == nil {
		return
	}
	outcome := "miss"
	switch {
	case err != nil:
		outcome = "error"
	case hit:
		outcome = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(kind, outcome).Inc()
}

// Admission records the outcome of a scan request: queued, cached,
// rate_limited or invalid.
func (m *Metrics) Admission(outcome string) {
	if m == nil {
		return
	}
	m.admissionsTotal.WithLabelValues(outcome).Inc()
}

// HTTPRequest observes one served request.
func (m *Metrics) HTTPRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestSeconds.WithLabelValues(method, route, status).Observe(d.Seconds())
}

// EventDropped counts one dropped stream event.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}
