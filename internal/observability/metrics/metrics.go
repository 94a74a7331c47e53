package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "platform_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRecords *prometheus.CounterVec
	ingestBatches *prometheus.CounterVec
	ingestLatency *prometheus.HistogramVec
	ingestFiles   *prometheus.CounterVec

	batchFailures *prometheus.CounterVec

	reconcileRuns       *prometheus.CounterVec
	reconcileLatency    *prometheus.HistogramVec
	reconcileSubPeriods *prometheus.CounterVec
	reconcileRecords    *prometheus.CounterVec
	coveragePercent     *prometheus.GaugeVec

	reportExportTotal   *prometheus.CounterVec
	reportExportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRecords = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "raw_ingest_records_total",
				Help: "Raw records seen by ingestion by outcome",
			},
			[]string{"source", "outcome"},
		)
		ingestBatches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "raw_ingest_batches_total",
				Help: "Raw ingest batches by result",
			},
			[]string{"result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "raw_ingest_latency_seconds",
				Help:    "Raw ingest call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		ingestFiles = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "raw_ingest_files_total",
				Help: "Ingested files by result",
			},
			[]string{"result"},
		)

		batchFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "batch_write_failures_total",
				Help: "Batches skipped after a failed retry",
			},
			[]string{"batch"},
		)

		reconcileRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_runs_total",
				Help: "Reconcile runs by mode and result",
			},
			[]string{"mode", "result"},
		)
		reconcileLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "reconcile_latency_seconds",
				Help:    "Reconcile run latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"mode", "result"},
		)
		reconcileSubPeriods = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_subperiods_total",
				Help: "Reconcile sub-periods by outcome",
			},
			[]string{"source", "outcome"},
		)
		reconcileRecords = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_records_total",
				Help: "Reconcile record counts by kind",
			},
			[]string{"source", "kind"},
		)
		coveragePercent = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "coverage_percent",
				Help: "Last computed coverage percentage",
			},
			[]string{"source", "granularity"},
		)

		reportExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Report exports by format and result",
			},
			[]string{"format", "result"},
		)
		reportExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestRecords,
			ingestBatches,
			ingestLatency,
			ingestFiles,
			batchFailures,
			reconcileRuns,
			reconcileLatency,
			reconcileSubPeriods,
			reconcileRecords,
			coveragePercent,
			reportExportTotal,
			reportExportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// AddIngestRecords adds count records with the given outcome.
func AddIngestRecords(source, outcome string, count int) {
	if count <= 0 {
		return
	}
	if source == "" {
		source = "unknown"
	}
	if ingestRecords != nil {
		ingestRecords.WithLabelValues(source, outcome).Add(float64(count))
	}
}

// ObserveIngest records ingest call duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestBatches != nil {
		ingestBatches.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestFile increments the file counter.
func IncIngestFile(result string) {
	if result == "" {
		result = resultSuccess
	}
	if ingestFiles != nil {
		ingestFiles.WithLabelValues(result).Inc()
	}
}

// IncBatchFailure counts a skipped batch.
func IncBatchFailure(batch string) {
	if batch == "" {
		batch = "unknown"
	}
	if batchFailures != nil {
		batchFailures.WithLabelValues(batch).Inc()
	}
}

// ObserveReconcile records reconcile latency and result.
func ObserveReconcile(mode, result string, duration time.Duration) {
	if mode == "" {
		mode = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reconcileRuns != nil {
		reconcileRuns.WithLabelValues(mode, result).Inc()
	}
	if reconcileLatency != nil {
		reconcileLatency.WithLabelValues(mode, result).Observe(duration.Seconds())
	}
}

// IncReconcileSubPeriod counts one processed sub-period.
func IncReconcileSubPeriod(source, outcome string) {
	if reconcileSubPeriods != nil {
		reconcileSubPeriods.WithLabelValues(source, outcome).Inc()
	}
}

// AddReconcileRecords adds record counts of one kind.
func AddReconcileRecords(source, kind string, count int) {
	if count <= 0 {
		return
	}
	if reconcileRecords != nil {
		reconcileRecords.WithLabelValues(source, kind).Add(float64(count))
	}
}

// SetCoverage records the latest coverage percentage.
func SetCoverage(source, granularity string, percent float64) {
	if coveragePercent != nil {
		coveragePercent.WithLabelValues(source, granularity).Set(percent)
	}
}

// ObserveReportExport records export latency and result.
func ObserveReportExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExportTotal != nil {
		reportExportTotal.WithLabelValues(format, result).Inc()
	}
	if reportExportLatency != nil {
		reportExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	OutcomeApplied  = "applied"
	OutcomeDropped  = "dropped"
	OutcomeInvalid  = "invalid"
	OutcomeFailed   = "failed"
	OutcomeUnmapped = "unmapped"
)
