// Package metadata extracts capture time, dimensions, camera details,
// GPS and keywords from photos and videos.
//
// Images are read with exiftool (-json -n). Videos are read with ffprobe
// and then exiftool for the camera fields it exposes. Missing tools and
// unreadable files produce partial results instead of errors, and the
// capture time always falls back to the file modification time.
//
// Geocoder performs rate-limited reverse lookups against a
// Nominatim-compatible endpoint.
package metadata
