/*
Package filesystem wraps the file operations the ingestion pipeline performs
on user-facing roots (imports, WebDAV) with retry logic for NFS stale file
handle errors, plus the copy and move helpers used to place originals and to
drive the watch-folder state transitions.

# Retries

StatWithRetry, OpenWithRetry and RenameWithRetry retry only on ESTALE, with
exponential backoff capped at RetryConfig.MaxBackoff. Any other error is
returned immediately.

	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())

# Copy and move

CopyFile writes through a temporary sibling and renames it into place.
MoveFile renames and falls back to copy plus remove across devices, which
happens when the WebDAV root and the data directory are separate mounts.

# Metrics

Retry activity is reported through an Observer set with SetObserver and
labeled with the volume name from a VolumeResolver:

	filesystem.SetDefaultVolumeResolver(filesystem.NewVolumeResolver(map[string]string{
	    "originals": cfg.OriginalsDir,
	    "webdav":    cfg.WebDAVDir,
	}))
	filesystem.SetObserver(metrics.FilesystemObserver{})
*/
package filesystem
