package filesystem

// Observer records filesystem retry metrics. The metrics package provides the
// implementation so that filesystem does not import metrics.
type Observer interface {
	// retryOp is "stat", "open", "rename" or "copy"; volume is the label
	// returned by the VolumeResolver.
	ObserveRetryAttempt(retryOp, volume string)
	ObserveRetrySuccess(retryOp, volume string)
	ObserveRetryFailure(retryOp, volume string)
	ObserveRetryDuration(retryOp, volume string, durationSeconds float64)
	ObserveStaleError(retryOp, volume string)
}

// defaultObserver is nil in tests; recording is skipped then.
var defaultObserver Observer

// SetObserver sets the package-level metrics observer.
func SetObserver(o Observer) {
	defaultObserver = o
}

func observe() Observer {
	return defaultObserver
}
