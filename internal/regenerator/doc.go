// Package regenerator rebuilds derived data for stored records.
//
// A sweep first backfills content hashes on records stored before hashing
// existed. A full sweep then clears extracted metadata and thumbnail paths;
// a missing-only sweep visits just the records lacking thumbnails or
// dimensions. Each visited record is re-extracted and merged, thumbnailed
// when needed, tagged from its keywords and re-indexed spatially.
package regenerator
