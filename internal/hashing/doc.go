// Package hashing computes the content digest used as the deduplication key
// for media records.
//
// The digest is SHA-256 over the raw file bytes, hex encoded, streamed in
// 8 KiB chunks so that large videos are never buffered in memory. The same
// bytes always produce the same digest regardless of file name or location.
package hashing
