package mediatypes

import (
	"path/filepath"
	"strings"
)

// Kind is the media kind stored on a record.
type Kind string

const (
	// KindImage is a still image.
	KindImage Kind = "image"
	// KindVideo is a video container.
	KindVideo Kind = "video"
	// KindUnsupported marks anything the pipeline will not ingest.
	KindUnsupported Kind = ""
)

// ImageExtensions lists ingestible image extensions.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tiff": true,
	".tif":  true,
	".webp": true,
	".heic": true,
	".heif": true,
}

// VideoExtensions lists ingestible video extensions.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
	".m4v":  true,
}

// MimeTypes maps file extensions to their MIME types.
var MimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",

	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".m4v":  "video/x-m4v",
}

// Ext returns the lowercase extension of path including the dot.
func Ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// KindOf returns the media kind for a path based on its extension.
func KindOf(path string) Kind {
	ext := Ext(path)
	switch {
	case ImageExtensions[ext]:
		return KindImage
	case VideoExtensions[ext]:
		return KindVideo
	default:
		return KindUnsupported
	}
}

// IsSupported reports whether the pipeline ingests files with this path's extension.
func IsSupported(path string) bool {
	return KindOf(path) != KindUnsupported
}

// MimeType returns the MIME type for a path.
// Returns "application/octet-stream" if the extension is not recognized.
func MimeType(path string) string {
	if mime, ok := MimeTypes[Ext(path)]; ok {
		return mime
	}
	return "application/octet-stream"
}

// IsHidden reports whether a file or directory name is a dotfile.
func IsHidden(name string) bool {
	return strings.HasPrefix(filepath.Base(name), ".")
}
