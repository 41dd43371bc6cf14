// Command momento runs the media ingestion server.
//
// Startup order:
//
//  1. Memory limit from GOMEMLIMIT or MEMORY_LIMIT
//  2. Configuration (defaults, .env, config.yaml, environment) and
//     directory checks under MOMENTO_DATA_DIR
//  3. libvips, then the SQLite database and its migrations
//  4. Background services: memory monitor, metrics collector, watch folder
//     poller and the trash purger
//  5. The HTTP status API and, on its own port, /metrics
//
// On SIGINT or SIGTERM the server stops accepting requests, stops the
// background services, cancels running jobs and waits for them to
// finalize before closing the database.
//
// Offline administration (imports, regeneration, users) lives in
// cmd/momentoctl.
package main
