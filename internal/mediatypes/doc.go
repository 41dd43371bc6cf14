// Package mediatypes defines which files the ingestion pipeline accepts and
// how they are classified.
//
// Classification is purely extension based and case-insensitive. Anything
// outside ImageExtensions and VideoExtensions is KindUnsupported and is
// skipped by discovery and the watch folder.
package mediatypes
