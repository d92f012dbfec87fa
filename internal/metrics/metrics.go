// Package metrics exposes Prometheus counters/histograms/gauges for the
// ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FilesProcessed counts C4 invocations by terminal outcome.
	FilesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discomap_files_processed_total",
			Help: "File-scope ETL invocations by outcome",
		},
		[]string{"status"}, // succeeded, failed
	)

	// RowsWritten counts rows successfully committed via the bulk loader.
	RowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "discomap_rows_written_total",
			Help: "Rows committed to the measurements hypertable",
		},
	)

	// RowsSkipped counts rows dropped at parse time for missing required fields.
	RowsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "discomap_rows_skipped_total",
			Help: "Rows dropped at parse time for missing required fields",
		},
	)

	// BatchDuration tracks wall-clock time for one C5 batch invocation.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "discomap_batch_duration_seconds",
			Help:    "Batch runner wall-clock duration",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// LoaderBatchDuration tracks one bulk-loader COPY-and-commit cycle.
	LoaderBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "discomap_loader_batch_duration_seconds",
			Help:    "Bulk loader COPY batch duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	// BatchesInFlight is a live gauge of batches currently holding a global
	// semaphore slot (bounded by G).
	BatchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "discomap_batches_in_flight",
			Help: "Batches currently executing under the global concurrency cap",
		},
	)

	// FilesInFlight is a live gauge of files currently holding a per-batch
	// semaphore slot (bounded by K per batch).
	FilesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "discomap_files_in_flight",
			Help: "Files currently fetching/parsing/loading across all batches",
		},
	)

	// MasterJobsCreated counts submissions accepted by the request layer.
	MasterJobsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "discomap_master_jobs_created_total",
			Help: "Master jobs created via POST /ingest or /ingest/upload",
		},
	)
)
