package metrics

import "momento/internal/filesystem"

// FilesystemObserver implements filesystem.Observer using the retry
// metrics declared in this package.
type FilesystemObserver struct{}

var _ filesystem.Observer = FilesystemObserver{}

// ObserveRetryAttempt counts a retry
func (FilesystemObserver) ObserveRetryAttempt(retryOp, volume string) {
	FilesystemRetryAttempts.WithLabelValues(retryOp, volume).Inc()
}

// ObserveRetrySuccess counts a success after at least one retry
func (FilesystemObserver) ObserveRetrySuccess(retryOp, volume string) {
	FilesystemRetrySuccess.WithLabelValues(retryOp, volume).Inc()
}

// ObserveRetryFailure counts an operation that exhausted its retries
func (FilesystemObserver) ObserveRetryFailure(retryOp, volume string) {
	FilesystemRetryFailures.WithLabelValues(retryOp, volume).Inc()
}

// ObserveRetryDuration records total operation time
func (FilesystemObserver) ObserveRetryDuration(retryOp, volume string, durationSeconds float64) {
	FilesystemRetryDuration.WithLabelValues(retryOp, volume).Observe(durationSeconds)
}

// ObserveStaleError counts an ESTALE result
func (FilesystemObserver) ObserveStaleError(retryOp, volume string) {
	FilesystemStaleErrors.WithLabelValues(retryOp, volume).Inc()
}
