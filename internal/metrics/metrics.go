package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides observability for pipeline runs.
// Collectors live on their own registry so each Metrics is independent.
type Metrics struct {
	registry *prometheus.Registry

	Runs               *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	Facilities         *prometheus.GaugeVec
	ExtractionCache    *prometheus.CounterVec
	ProgramChanges     *prometheus.CounterVec
	LastRunSeverity    prometheus.Gauge
	LastSuccessfulRun  prometheus.Gauge
	ExtractionDuration prometheus.Histogram
}

// New creates a new Metrics instance with all pipeline metrics registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sfpools_runs_total",
			Help: "Pipeline runs by result",
		}, []string{"result"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sfpools_run_duration_seconds",
			Help:    "Duration of full extract runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		Facilities: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sfpools_facilities",
			Help: "Facilities in the last run by outcome (processed, preserved, failed)",
		}, []string{"outcome"}),
		ExtractionCache: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sfpools_extraction_cache_total",
			Help: "Extraction cache lookups by result (hit, miss)",
		}, []string{"result"}),
		ProgramChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sfpools_program_changes_total",
			Help: "Program-level changes detected by kind (added, removed, modified)",
		}, []string{"kind"}),
		LastRunSeverity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sfpools_last_run_severity",
			Help: "Severity rank of the last run, 0 (none) to 4 (wholesale)",
		}),
		LastSuccessfulRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sfpools_last_successful_run_timestamp_seconds",
			Help: "Unix time of the last run that completed",
		}),
		ExtractionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sfpools_extraction_duration_seconds",
			Help:    "Duration of extraction service calls",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun records a finished run. result is "ok", "failed" or "blocked".
func (m *Metrics) ObserveRun(start time.Time, result string) {
	m.Runs.WithLabelValues(result).Inc()
	m.RunDuration.Observe(time.Since(start).Seconds())
	if result != "failed" {
		m.LastSuccessfulRun.SetToCurrentTime()
	}
}

// SetFacilities records per-run facility outcomes
func (m *Metrics) SetFacilities(processed, preserved, failed int) {
	m.Facilities.WithLabelValues("processed").Set(float64(processed))
	m.Facilities.WithLabelValues("preserved").Set(float64(preserved))
	m.Facilities.WithLabelValues("failed").Set(float64(failed))
}

// CacheHit records an extraction served from cache
func (m *Metrics) CacheHit() {
	m.ExtractionCache.WithLabelValues("hit").Inc()
}

// CacheMiss records an extraction that had to call the service
func (m *Metrics) CacheMiss() {
	m.ExtractionCache.WithLabelValues("miss").Inc()
}

// ObserveExtraction records the duration of one extraction call.
// Call with time.Now() at the start of the call.
func (m *Metrics) ObserveExtraction(start time.Time) {
	m.ExtractionDuration.Observe(time.Since(start).Seconds())
}

// ObserveChanges records a run's program-level changes and severity rank
func (m *Metrics) ObserveChanges(added, removed, modified, severityRank int) {
	m.ProgramChanges.WithLabelValues("added").Add(float64(added))
	m.ProgramChanges.WithLabelValues("removed").Add(float64(removed))
	m.ProgramChanges.WithLabelValues("modified").Add(float64(modified))
	m.LastRunSeverity.Set(float64(severityRank))
}
