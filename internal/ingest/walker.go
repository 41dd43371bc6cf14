package ingest

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"momento/internal/logging"
	"momento/internal/mediatypes"
	"momento/internal/workers"
)

// WalkerConfig configures the parallel directory walker
type WalkerConfig struct {
	// NumWorkers is the number of parallel stat workers
	NumWorkers int
	// ChannelBuffer is the size of the work channel buffer
	ChannelBuffer int
	// SkipHidden skips files and directories starting with "."
	SkipHidden bool
}

// DefaultWalkerConfig uses half the CPUs, capped at 8 so network mounts
// are not flooded with stat calls. WALK_WORKERS overrides it.
func DefaultWalkerConfig() WalkerConfig {
	return WalkerConfig{
		NumWorkers:    workers.FromEnv("WALK_WORKERS", 0.5, 8),
		ChannelBuffer: 1000,
		SkipHidden:    true,
	}
}

// FileJob is one discovered, supported file
type FileJob struct {
	Path    string
	RelPath string
	Size    int64
	ModTime time.Time
	Kind    mediatypes.Kind
}

type walkEntry struct {
	path    string
	relPath string
	entry   fs.DirEntry
}

// Walker discovers supported media files under a root directory
type Walker struct {
	config WalkerConfig

	filesFound   atomic.Int64
	filesSkipped atomic.Int64
	errorsCount  atomic.Int64
}

// NewWalker creates a walker. A non-positive worker count falls back to 3.
func NewWalker(config WalkerConfig) *Walker {
	if config.NumWorkers <= 0 {
		config.NumWorkers = 3
	}
	if config.ChannelBuffer <= 0 {
		config.ChannelBuffer = 100
	}
	return &Walker{config: config}
}

// Walk returns every supported file under root sorted by relative path.
// Unreadable entries are logged and skipped.
func (w *Walker) Walk(ctx context.Context, root string) ([]FileJob, error) {
	start := time.Now()

	jobs := make(chan walkEntry, w.config.ChannelBuffer)
	results := make(chan FileJob, w.config.ChannelBuffer)

	var wg sync.WaitGroup
	for i := 0; i < w.config.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.worker(ctx, jobs, results)
		}()
	}

	var found []FileJob
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for job := range results {
			found = append(found, job)
		}
	}()

	err := w.enqueue(ctx, root, jobs)
	close(jobs)
	wg.Wait()
	close(results)
	<-collected

	sort.Slice(found, func(i, j int) bool { return found[i].RelPath < found[j].RelPath })

	logging.Debug("Walk of %s complete: %d files, %d skipped in %v (errors: %d)",
		root, w.filesFound.Load(), w.filesSkipped.Load(), time.Since(start), w.errorsCount.Load())

	if err == nil {
		err = ctx.Err()
	}
	return found, err
}

func (w *Walker) enqueue(ctx context.Context, root string, jobs chan<- walkEntry) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return fs.SkipAll
		}

		if err != nil {
			if path == root {
				return err
			}
			w.errorsCount.Add(1)
			logging.Warn("Error accessing path %s: %v", path, err)
			return nil
		}

		if path == root {
			return nil
		}

		if w.config.SkipHidden && mediatypes.IsHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			w.filesSkipped.Add(1)
			return nil
		}
		if d.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			//nolint:nilerr // skip this entry but keep walking
			return nil
		}

		select {
		case jobs <- walkEntry{path: path, relPath: relPath, entry: d}:
		case <-ctx.Done():
			return fs.SkipAll
		}
		return nil
	})
}

func (w *Walker) worker(ctx context.Context, jobs <-chan walkEntry, results chan<- FileJob) {
	for job := range jobs {
		if ctx.Err() != nil {
			continue
		}

		kind := mediatypes.KindOf(job.path)
		if kind == mediatypes.KindUnsupported || !job.entry.Type().IsRegular() {
			w.filesSkipped.Add(1)
			continue
		}

		info, err := job.entry.Info()
		if err != nil {
			w.errorsCount.Add(1)
			logging.Warn("Error getting info for %s: %v", job.path, err)
			continue
		}

		w.filesFound.Add(1)
		results <- FileJob{
			Path:    job.path,
			RelPath: job.relPath,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Kind:    kind,
		}
	}
}

// Stats returns counters from the last walk
func (w *Walker) Stats() (found, skipped, errors int64) {
	return w.filesFound.Load(), w.filesSkipped.Load(), w.errorsCount.Load()
}
