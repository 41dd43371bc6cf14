// Package logging provides leveled, printf-style logging for momento.
//
// Levels, lowest to highest:
//   - DEBUG: verbose pipeline tracing (tool invocations, per-file steps)
//   - INFO: job lifecycle and configuration
//   - WARN: degraded operation such as a missing external tool
//   - ERROR: failures that were recorded and skipped
//   - FATAL: startup errors that terminate the process
//
// The level comes from DEBUG=true or LOG_LEVEL and may be overridden with
// SetLevel. ForComponent returns a Logger that tags each line with the
// component name, which keeps interleaved worker output readable:
//
//	log := logging.ForComponent("watcher")
//	log.Info("cycle finished: %d files", n)
package logging
