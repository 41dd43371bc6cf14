// Package metrics provides Prometheus instrumentation for momento.
//
// All metrics are prefixed with "momento_" and registered through promauto
// at package init. Call InitializeMetrics once at startup so that every
// expected label combination is exported from the first scrape.
//
// # Metric Categories
//
// ## Ingestion
//   - IngestFilesTotal: files by source (import/watch) and outcome
//     (created/restored/granted/existing/failed)
//   - IngestFileDuration, IngestInFlight, IngestBytesHashed
//
// ## Metadata
//   - MetadataToolInvocations / MetadataToolDuration per external tool
//   - GeocodeRequestsTotal / GeocodeRequestDuration
//
// ## Thumbnails
//   - ThumbnailGenerationsTotal by size (normal/tiny), kind and outcome
//   - ThumbnailBackendTotal: vips or imaging
//   - ThumbnailFrameExtractionDuration for video frames
//
// ## Spatial index and jobs
//   - SpatialIndexOpsTotal, ClusterQueryDuration
//   - JobStatus (one-hot gauge per job class), JobRunsTotal, JobErrorsTotal
//
// ## Watch folder and trash
//   - WatchFilesTotal, WatchCycleDuration, WatchLastCycleTimestamp, WatchEventsTotal
//   - TrashPurgedGrantsTotal, TrashPurgedMediaTotal
//
// ## Library, HTTP, database, memory, filesystem
//
// Library totals are refreshed by a Collector from a StatsProvider (the
// database). Filesystem retry metrics are recorded through
// FilesystemObserver, which the filesystem package calls via its Observer
// interface so the two packages do not import each other in a cycle.
//
// # Usage
//
//	metrics.InitializeMetrics()
//	filesystem.SetObserver(metrics.FilesystemObserver{})
//	collector := metrics.NewCollector(db, dbPath, time.Minute)
//	collector.Start()
//	defer collector.Stop()
package metrics
