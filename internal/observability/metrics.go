package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "forecast_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ingest pipeline.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	RunsTotal       *prometheus.CounterVec // labels: domain, outcome={success,error}
	LastSuccessTime *prometheus.GaugeVec   // labels: domain

	// Acquisition metrics.
	AcquireAttempts *prometheus.CounterVec // labels: outcome={success,not_available,error}
	AcquireWait     prometheus.Histogram

	// Per-variable metrics.
	VariablesWritten *prometheus.CounterVec   // labels: domain, variable
	VariableDuration *prometheus.HistogramVec // labels: domain
	NotifyErrors     prometheus.Counter
	ElevationMasks   prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PipelineRunning,
		m.RunsTotal,
		m.LastSuccessTime,
		m.AcquireAttempts,
		m.AcquireWait,
		m.VariablesWritten,
		m.VariableDuration,
		m.NotifyErrors,
		m.ElevationMasks,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is being ingested, 0 otherwise.",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed ingest runs by domain and outcome.",
		}, []string{"domain", "outcome"}),
		LastSuccessTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_run_timestamp_seconds",
			Help:      "Reference time of the last successfully ingested run.",
		}, []string{"domain"}),
		AcquireAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquire_attempts_total",
			Help:      "Dataset open attempts by outcome.",
		}, []string{"outcome"}),
		AcquireWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for a dataset to be published.",
			Buckets:   []float64{0, 10, 60, 300, 900, 1800, 3600, 7200, 10800},
		}),
		VariablesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variables_written_total",
			Help:      "Variable series written to the store.",
		}, []string{"domain", "variable"}),
		VariableDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "variable_processing_duration_seconds",
			Help:      "Duration of reading, transforming and writing one variable.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"domain"}),
		NotifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_errors_total",
			Help:      "Series update notifications that could not be published.",
		}),
		ElevationMasks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "elevation_masks_written_total",
			Help:      "Elevation masks derived and written.",
		}),
	}
}
