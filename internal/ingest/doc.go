// Package ingest turns source files into stored media records.
//
// Pipeline.ProcessFile is the single-file path shared by imports and the
// watch folder. Content is identified by its SHA-256 hash: a hash that is
// already stored only resolves the user's access grant, so identical bytes
// are never stored twice. New content is copied into the originals tree as
// YYYY-MM/YYYYmmdd_HHMMSS_<id>.<ext>, then extracted, inserted together with
// the uploader's grant, thumbnailed, tagged and spatially indexed.
//
// Scheduler runs the pipeline over many files with a bounded number in
// flight and reports progress through a jobs.State.
package ingest
