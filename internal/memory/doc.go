// Package memory applies heap-based backpressure to background jobs.
//
// ConfigureFromEnv translates a container memory limit into GOMEMLIMIT.
// Monitor then samples heap usage; above the pause watermark it forces a GC
// and holds new work dispatch until usage drops below the resume watermark.
// The ingestion scheduler, watch folder and regeneration sweep call
// Monitor.Wait before starting each file. Work already in flight is never
// interrupted, which matches the cooperative cancellation model of the jobs.
//
// A nil *Monitor is a valid Gate that never blocks.
package memory
