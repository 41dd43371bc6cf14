// Package watcher ingests files dropped into per-user watch directories.
//
// The watch root holds one directory per username. Each cycle claims files
// that have been unmodified for the stability window by moving them into
// <user>/.processing, ingests them through the shared pipeline, deletes them
// on success and moves them to <user>/.failed with an .error.txt sidecar on
// failure. Directories that do not match a user are skipped.
//
// Polling drives cycles; fsnotify events only schedule an earlier one.
package watcher
