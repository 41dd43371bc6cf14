package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
func InitializeMetrics() {
	for _, source := range []string{"import", "watch", "cli"} {
		for _, outcome := range []string{"created", "restored", "granted", "existing", "failed"} {
			IngestFilesTotal.WithLabelValues(source, outcome)
		}
		IngestFileDuration.WithLabelValues(source)
		IngestInFlight.WithLabelValues(source)
	}

	for _, tool := range []string{"exiftool", "ffprobe", "ffmpeg", "convert"} {
		for _, outcome := range []string{"success", "error", "missing"} {
			MetadataToolInvocations.WithLabelValues(tool, outcome)
		}
		MetadataToolDuration.WithLabelValues(tool)
	}

	for _, outcome := range []string{"success", "error", "empty"} {
		GeocodeRequestsTotal.WithLabelValues(outcome)
	}

	for _, size := range []string{"normal", "tiny"} {
		for _, kind := range []string{"image", "video"} {
			ThumbnailGenerationsTotal.WithLabelValues(size, kind, "success")
			ThumbnailGenerationsTotal.WithLabelValues(size, kind, "error")
		}
	}
	for _, backend := range []string{"vips", "imaging"} {
		ThumbnailBackendTotal.WithLabelValues(backend)
	}

	for _, op := range []string{"index", "unindex"} {
		SpatialIndexOpsTotal.WithLabelValues(op, "success")
		SpatialIndexOpsTotal.WithLabelValues(op, "error")
	}

	for _, job := range []string{"import", "regeneration", "watch"} {
		SetJobStatus(job, "idle")
		for _, status := range []string{"completed", "failed", "cancelled"} {
			JobRunsTotal.WithLabelValues(job, status)
		}
		JobErrorsTotal.WithLabelValues(job)
	}

	for _, outcome := range []string{"processed", "failed", "unknown_user", "move_failed"} {
		WatchFilesTotal.WithLabelValues(outcome)
	}

	for _, kind := range []string{"image", "video"} {
		MediaTotal.WithLabelValues(kind)
	}

	volumes := []string{"originals", "thumbnails", "imports", "webdav", "database", "unknown"}
	for _, op := range []string{"stat", "open", "rename"} {
		for _, vol := range volumes {
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
			FilesystemRetryDuration.WithLabelValues(op, vol)
		}
	}

	for _, file := range []string{"main", "wal", "shm"} {
		DBSizeBytes.WithLabelValues(file)
	}
}
