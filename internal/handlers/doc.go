// Package handlers serves the small HTTP status surface used by the web UI:
// import, regeneration and watch job status with start and cancel actions,
// map marker clusters, and the health, liveness and readiness probes.
//
// Long-running work is started on the server's base context so a job keeps
// running after the request that started it has returned.
package handlers
