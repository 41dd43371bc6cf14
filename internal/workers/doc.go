// Package workers sizes the worker pools and semaphores used by the
// ingestion scheduler, the watch folder and the regeneration sweep.
//
// Each of those components gets its own bound. The default for all of them
// is one permit per logical CPU (ForCPU), overridable through the
// configuration:
//
//	n := workers.FromEnv("IMPORT_CONCURRENCY", 1.0, 0)
//
// Directory discovery is I/O bound and uses ForIO with a small cap.
package workers
