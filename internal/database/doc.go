// Package database provides SQLite storage for the media library.
//
// It holds:
//   - Media records, unique by SHA-256 content hash
//   - Users and per-user access grants with soft deletion (trash)
//   - Tags merged from embedded keywords
//   - An R*Tree spatial index used for map clustering
//
// The database runs in WAL mode. Writers are serialized with a mutex so
// concurrent import workers do not trip over SQLite's single-writer lock.
// Schema creation and column migrations happen in New.
package database
