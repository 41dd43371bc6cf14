package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "momento_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "momento_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "momento_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "momento_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "momento_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "momento_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	DBSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "momento_db_size_bytes",
			Help: "Size of SQLite database files in bytes",
		},
		[]string{"file"}, // "main", "wal", "shm"
	)
)

// Ingestion metrics. source is "import" or "watch".
var (
	IngestFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "momento_ingest_files_total",
			Help: "Files processed by the ingestion pipeline by outcome",
		},
		[]string{"source", "outcome"},
	)

	IngestFileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "momento_ingest_file_duration_seconds",
			Help:    "Wall time to ingest a single file",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"source"},
	)

	IngestInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "momento_ingest_in_flight",
			Help: "Files currently held by an ingestion worker",
		},
		[]string{"source"},
	)

	IngestBytesHashed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "momento_ingest_bytes_hashed_total",
			Help: "Bytes read by the content hasher",
		},
	)
)

// Metadata extraction metrics
var (
	MetadataToolInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "momento_metadata_tool_invocations_total",
			Help: "External metadata tool invocations by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	MetadataToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "momento_metadata_tool_duration_seconds",
			Help:    "External metadata tool run time",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"tool"},
	)

	GeocodeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "momento_geocode_requests_total",
			Help: "Reverse geocoding requests by outcome",
		},
		[]string{"outcome"},
	)

	GeocodeRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "momento_geocode_request_duration_seconds",
			Help:    "Reverse geocoding HTTP round trip time",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)
)

// Thumbnail metrics
var (
	ThumbnailGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "momento_thumbnail_generations_total",
			Help: "Thumbnail generations by size, media kind and outcome",
		},
		[]string{"size", "kind", "outcome"},
	)

	ThumbnailGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "momento_thumbnail_generation_duration_seconds",
			Help:    "Time to produce both thumbnails for one original",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	ThumbnailBackendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "momento_thumbnail_backend_total",
			Help: "Thumbnails encoded per image backend",
		},
		[]string{"backend"}, // "vips", "imaging"
	)

	ThumbnailFrameExtractionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "momento_thumbnail_frame_extraction_duration_seconds",
			Help:    "Time spent extracting a representative video frame",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)
)

// Spatial index metrics
var (
	SpatialIndexOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "momento_spatial_index_operations_total",
			Help: "Spatial index maintenance operations by op and outcome",
		},
		[]string{"op", "outcome"},
	)

	ClusterQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "momento_cluster_query_duration_seconds",
			Help:    "Map cluster query time by geohash prefix length",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"precision"},
	)
)

// Job metrics. job is "import", "regeneration" or "watch".
var (
	JobStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "momento_job_status",
			Help: "1 for the current status of each job class",
		},
		[]string{"job", "status"},
	)

	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "momento_job_runs_total",
			Help: "Finished job runs by terminal status",
		},
		[]string{"job", "status"},
	)

	JobErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "momento_job_errors_total",
			Help: "Errors recorded by jobs, including ones dropped by the log cap",
		},
		[]string{"job"},
	)
)

// Watch folder metrics
var (
	WatchFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "momento_watch_files_total",
			Help: "Watch folder files by outcome",
		},
		[]string{"outcome"},
	)

	WatchCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "momento_watch_cycle_duration_seconds",
			Help:    "Duration of a watch folder cycle",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	WatchLastCycleTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "momento_watch_last_cycle_timestamp",
			Help: "Unix timestamp of the last completed watch folder cycle",
		},
	)

	WatchEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "momento_watch_fs_events_total",
			Help: "Filesystem notifications received for watch folders",
		},
	)
)

// Trash retention metrics
var (
	TrashPurgedGrantsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "momento_trash_purged_grants_total",
			Help: "Expired trashed access grants removed",
		},
	)

	TrashPurgedMediaTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "momento_trash_purged_media_total",
			Help: "Orphaned media records hard-deleted",
		},
	)
)

// Library metrics
var (
	MediaTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "momento_media_total",
			Help: "Media records by kind",
		},
		[]string{"kind"},
	)

	MediaGeotaggedTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "momento_media_geotagged_total",
			Help: "Media records with GPS coordinates",
		},
	)

	UsersTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "momento_users_total",
			Help: "Registered users",
		},
	)

	TrashedGrantsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "momento_trashed_grants_total",
			Help: "Access grants currently in trash",
		},
	)
)

// AppInfo exposes build information
var AppInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "momento_app_info",
		Help: "Application build information",
	},
	[]string{"version", "commit", "go_version"},
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "momento_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "momento_memory_paused",
			Help: "1 while work dispatch is paused for memory pressure",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "momento_memory_gc_pauses_total",
			Help: "Times dispatch was paused and a GC forced",
		},
	)
)

// Filesystem retry metrics
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "momento_filesystem_retry_attempts_total",
			Help: "Retries of filesystem operations after a stale handle",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "momento_filesystem_retry_success_total",
			Help: "Filesystem operations that succeeded after retrying",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "momento_filesystem_retry_failures_total",
			Help: "Filesystem operations that failed after exhausting retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "momento_filesystem_retry_duration_seconds",
			Help:    "Total time of filesystem operations including retries",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "momento_filesystem_stale_errors_total",
			Help: "ESTALE errors seen by filesystem operations",
		},
		[]string{"operation", "volume"},
	)
)

// JobStatuses lists every status a job can report.
var JobStatuses = []string{"idle", "running", "completed", "failed", "cancelled"}

// SetJobStatus flags status as the current one for job.
func SetJobStatus(job, status string) {
	for _, s := range JobStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		JobStatus.WithLabelValues(job, s).Set(v)
	}
}
