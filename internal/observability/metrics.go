package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "parking_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for ingestion,
// training, and prediction tracking.
type Metrics struct {
	BatchesConsumed prometheus.Counter
	IngestFailures  prometheus.Counter
	PipelineRunning prometheus.Gauge

	// Ingestion outcomes.
	RecordsIngested  *prometheus.CounterVec // labels: kind={raw,processed}
	RecordsSkipped   *prometheus.CounterVec // labels: reason={duplicate,invalid}
	LocationUpserts  *prometheus.CounterVec // labels: outcome={created,updated,unchanged}
	BatchSize        prometheus.Histogram
	IngestDuration   prometheus.Histogram
	ArchiveFailures  prometheus.Counter
	LivePublishFails prometheus.Counter

	// Training and prediction tracking.
	TrainingRuns          *prometheus.CounterVec // labels: outcome={success,error}, tier={database,archive,synthetic,none}
	ActiveModelMAE        prometheus.Gauge
	PredictionsRecorded   prometheus.Counter
	PredictionsReconciled *prometheus.CounterVec // labels: outcome={reconciled,no_observation,not_found,error}

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={forward}, outcome={success,error,empty,rejected}
	GeocodeCache       *prometheus.CounterVec   // labels: method={forward}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={forward}
	GeocodeEnabled     prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, to
// avoid "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		BatchesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_consumed_total",
			Help:      "Total feed batches read from the source topic.",
		}),
		IngestFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_failures_total",
			Help:      "Feed batches rolled back because the store failed.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		RecordsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_ingested_total",
			Help:      "Observations inserted, by kind.",
		}, []string{"kind"}),
		RecordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Feed records not inserted, by reason.",
		}, []string{"reason"}),
		LocationUpserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_upserts_total",
			Help:      "Location registry upserts, by outcome.",
		}, []string{"outcome"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_records",
			Help:      "Number of records per ingested feed batch.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100, 200},
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Duration of one feed batch ingestion, including the transaction.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		ArchiveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_failures_total",
			Help:      "Failed appends to the historical archive.",
		}),
		LivePublishFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_publish_failures_total",
			Help:      "Failed live occupancy publishes.",
		}),
		TrainingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_runs_total",
			Help:      "Training runs by outcome and data tier.",
		}, []string{"outcome", "tier"}),
		ActiveModelMAE: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_model_mae",
			Help:      "Held-out mean absolute error of the active model.",
		}),
		PredictionsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_recorded_total",
			Help:      "Predictions stored by the tracker.",
		}),
		PredictionsReconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_reconciled_total",
			Help:      "Reconciliation attempts by outcome.",
		}, []string{"outcome"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when geocoding enrichment is enabled, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.BatchesConsumed,
		m.IngestFailures,
		m.PipelineRunning,
		m.RecordsIngested,
		m.RecordsSkipped,
		m.LocationUpserts,
		m.BatchSize,
		m.IngestDuration,
		m.ArchiveFailures,
		m.LivePublishFails,
		m.TrainingRuns,
		m.ActiveModelMAE,
		m.PredictionsRecorded,
		m.PredictionsReconciled,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
	}
}
