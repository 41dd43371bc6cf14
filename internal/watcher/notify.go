package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"momento/internal/mediatypes"
	"momento/internal/metrics"
)

// debounce is how long notifications are coalesced before an early cycle.
// Files written during the window are still subject to the stability check.
const debounce = 2 * time.Second

// notify schedules early cycles from filesystem events. Polling stays
// authoritative: events only shorten the wait for the next cycle.
func (w *Watcher) notify(ctx context.Context) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("Filesystem notifications unavailable, polling only: %v", err)
		return
	}
	defer func() {
		if err := fw.Close(); err != nil {
			log.Error("Failed to close filesystem watcher: %v", err)
		}
	}()

	count := w.addDirectories(fw, w.cfg.Root)
	log.Debug("Watching %d directories for changes", count)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if isControlPath(w.cfg.Root, event.Name) || mediatypes.IsHidden(filepath.Base(event.Name)) {
				continue
			}
			metrics.WatchEventsTotal.Inc()

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addDirectories(fw, event.Name)
				}
			}

			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
			fire = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			log.Warn("Filesystem watcher error: %v", err)

		case <-fire:
			fire = nil
			w.Trigger()

		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// addDirectories registers root and every non-control directory below it
func (w *Watcher) addDirectories(fw *fsnotify.Watcher, root string) int {
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			//nolint:nilerr // directories may vanish mid-walk
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.cfg.Root && mediatypes.IsHidden(d.Name()) {
			return filepath.SkipDir
		}
		if addErr := fw.Add(path); addErr != nil {
			log.Warn("Failed to watch %s: %v", path, addErr)
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		log.Warn("Failed to walk %s for notifications: %v", root, err)
	}
	return count
}
