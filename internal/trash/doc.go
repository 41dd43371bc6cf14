// Package trash enforces the retention window on soft-deleted grants.
//
// Grants trashed longer than the retention window are removed. A record left
// with no grant at all is deleted together with its original, thumbnails and
// spatial entry.
package trash
