package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"momento/internal/database"
	"momento/internal/filesystem"
	"momento/internal/ingest"
	"momento/internal/jobs"
	"momento/internal/logging"
	"momento/internal/mediatypes"
	"momento/internal/memory"
	"momento/internal/metrics"
	"momento/internal/workers"
)

var log = logging.ForComponent("watcher")

const (
	// ProcessingDir holds files claimed by a cycle
	ProcessingDir = ".processing"
	// FailedDir holds files whose ingestion failed, each with an .error.txt sidecar
	FailedDir = ".failed"

	errorSuffix = ".error.txt"
)

// UserResolver maps a watch directory name to a user
type UserResolver interface {
	UserByUsername(ctx context.Context, username string) (*database.User, error)
}

// Processor ingests a single file
type Processor interface {
	ProcessFile(ctx context.Context, req ingest.FileRequest) (ingest.Result, error)
}

// Config configures the watch folder
type Config struct {
	// Root contains one directory per username
	Root string
	// Interval between cycles
	Interval time.Duration
	// Stability is how long a file must be unmodified before it is claimed
	Stability time.Duration
	// Concurrency bounds files processed at once; non-positive uses one per CPU
	Concurrency int
	// Notify enables fsnotify wake-ups between polls
	Notify bool
}

// CycleResult summarises one cycle
type CycleResult struct {
	Processed    int
	Failed       int
	SkippedUsers []string
}

// Watcher polls per-user directories and ingests stable files
type Watcher struct {
	cfg       Config
	users     UserResolver
	processor Processor
	state     *jobs.State
	gate      memory.Gate
	retry     filesystem.RetryConfig
	now       func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wake     chan struct{}
	wg       sync.WaitGroup
}

// New creates a watcher reporting into state. gate may be nil.
func New(cfg Config, users UserResolver, processor Processor, state *jobs.State, gate memory.Gate) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = workers.ForCPU(0)
	}
	return &Watcher{
		cfg:       cfg,
		users:     users,
		processor: processor,
		state:     state,
		gate:      gate,
		retry:     filesystem.DefaultRetryConfig(),
		now:       time.Now,
		stopChan:  make(chan struct{}),
		wake:      make(chan struct{}, 1),
	}
}

// Start recovers files left in .processing by an earlier crash and begins
// polling in the background.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Root, 0o755); err != nil {
		return fmt.Errorf("create watch root: %w", err)
	}

	if n := w.Recover(ctx); n > 0 {
		log.Info("Recovered %d files left in %s", n, ProcessingDir)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.poll(ctx)
	}()

	if w.cfg.Notify {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.notify(ctx)
		}()
	}

	log.Info("Watching %s every %v (stability %v)", w.cfg.Root, w.cfg.Interval, w.cfg.Stability)
	return nil
}

// Stop ends polling and waits for the current cycle to finish
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
}

// Trigger schedules an early cycle
func (w *Watcher) Trigger() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Watcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.runLogged(ctx)
	for {
		select {
		case <-ticker.C:
			w.runLogged(ctx)
		case <-w.wake:
			w.runLogged(ctx)
		case <-w.stopChan:
			log.Info("Watch folder polling stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) runLogged(ctx context.Context) {
	res, err := w.RunCycle(ctx)
	if errors.Is(err, ErrCycleRunning) {
		log.Debug("Skipping watch cycle: previous cycle still running")
		return
	}
	if err != nil {
		log.Error("Watch cycle failed: %v", err)
		return
	}
	if res.Processed > 0 || res.Failed > 0 {
		log.Info("Watch cycle: %d processed, %d failed", res.Processed, res.Failed)
	}
}

// ErrCycleRunning is returned when a cycle is requested while one runs
var ErrCycleRunning = errors.New("watch cycle already running")

type claimed struct {
	user       string
	userID     int64
	userDir    string
	relPath    string
	processing string
}

// RunCycle scans every user directory once, claims stable files by moving
// them into .processing and ingests them. Unknown users are skipped.
func (w *Watcher) RunCycle(ctx context.Context) (CycleResult, error) {
	if !w.state.Start() {
		return CycleResult{}, ErrCycleRunning
	}

	start := time.Now()
	defer func() {
		metrics.WatchCycleDuration.Observe(time.Since(start).Seconds())
		metrics.WatchLastCycleTimestamp.SetToCurrentTime()
	}()

	entries, err := os.ReadDir(w.cfg.Root)
	if err != nil {
		err = fmt.Errorf("read watch root: %w", err)
		w.state.Fail(err)
		return CycleResult{}, err
	}

	var result CycleResult
	var files []claimed
	for _, entry := range entries {
		if !entry.IsDir() || mediatypes.IsHidden(entry.Name()) {
			continue
		}

		name := entry.Name()
		user, err := w.users.UserByUsername(ctx, name)
		if errors.Is(err, database.ErrNotFound) {
			log.Warn("Skipping watch directory %q: no such user", name)
			metrics.WatchFilesTotal.WithLabelValues("unknown_user").Inc()
			result.SkippedUsers = append(result.SkippedUsers, name)
			continue
		}
		if err != nil {
			err = fmt.Errorf("resolve user %q: %w", name, err)
			w.state.Fail(err)
			return result, err
		}

		userDir := filepath.Join(w.cfg.Root, name)
		for _, rel := range w.stableFiles(userDir) {
			c := claimed{
				user:       name,
				userID:     user.ID,
				userDir:    userDir,
				relPath:    rel,
				processing: filepath.Join(userDir, ProcessingDir, rel),
			}
			if err := filesystem.MoveFile(filepath.Join(userDir, rel), c.processing, w.retry); err != nil {
				log.Warn("Failed to claim %s/%s: %v", name, rel, err)
				metrics.WatchFilesTotal.WithLabelValues("move_failed").Inc()
				w.state.RecordError(fmt.Sprintf("%s/%s: claim: %v", name, rel, err))
				continue
			}
			files = append(files, c)
		}
	}

	w.state.SetTotal(len(files))
	processed, failed := w.process(ctx, files)
	result.Processed, result.Failed = processed, failed

	w.state.Finalize(jobs.StatusCompleted)
	return result, nil
}

// stableFiles lists supported, non-hidden files under userDir that have not
// been modified within the stability window. Hidden directories, which
// include .processing and .failed, are not entered.
func (w *Watcher) stableFiles(userDir string) []string {
	cutoff := w.now().Add(-w.cfg.Stability)

	var rels []string
	err := filepath.WalkDir(userDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == userDir {
				return err
			}
			log.Warn("Error accessing %s: %v", path, err)
			return nil
		}
		if path == userDir {
			return nil
		}
		if mediatypes.IsHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() || !mediatypes.IsSupported(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			//nolint:nilerr // unreadable or still being written; next cycle retries
			return nil
		}

		rel, err := filepath.Rel(userDir, path)
		if err != nil {
			//nolint:nilerr // skip this entry but keep walking
			return nil
		}
		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		log.Warn("Failed to scan %s: %v", userDir, err)
	}
	return rels
}

func (w *Watcher) process(ctx context.Context, files []claimed) (processed, failed int) {
	sem := semaphore.NewWeighted(int64(w.cfg.Concurrency))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, f := range files {
		if !w.acquire(ctx, sem) {
			// Unclaim the rest so the next cycle picks them up.
			for _, rest := range files[i:] {
				w.unclaim(rest)
			}
			break
		}

		wg.Add(1)
		go func(f claimed) {
			defer wg.Done()
			defer sem.Release(1)

			ok := w.processOne(ctx, f)
			mu.Lock()
			if ok {
				processed++
			} else {
				failed++
			}
			mu.Unlock()
		}(f)
	}

	wg.Wait()
	return processed, failed
}

// acquire waits for memory headroom and a permit. It returns false when the
// cycle was cancelled.
func (w *Watcher) acquire(ctx context.Context, sem *semaphore.Weighted) bool {
	if w.state.IsCancelled() {
		return false
	}
	if ctx.Err() != nil {
		w.state.Cancel()
		return false
	}
	if w.gate != nil {
		if err := w.gate.Wait(ctx); err != nil {
			w.state.Cancel()
			return false
		}
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		w.state.Cancel()
		return false
	}
	return true
}

func (w *Watcher) processOne(ctx context.Context, f claimed) (ok bool) {
	label := f.user + "/" + filepath.ToSlash(f.relPath)
	defer func() {
		if r := recover(); r != nil {
			ok = false
			w.fail(f, fmt.Errorf("panic: %v", r))
		}
	}()

	res, err := w.processor.ProcessFile(ctx, ingest.FileRequest{
		Path:             f.processing,
		UserID:           f.userID,
		OriginalFilename: filepath.Base(f.relPath),
		Source:           "watch",
	})
	if err != nil {
		w.fail(f, err)
		return false
	}

	if err := filesystem.RemoveIfExists(f.processing); err != nil {
		log.Warn("Failed to remove processed file %s: %v", f.processing, err)
	}
	if res.Outcome.Deduplicated() {
		w.state.Increment(jobs.CounterDeduplicated, 1)
	}
	w.state.RecordSuccess()
	metrics.WatchFilesTotal.WithLabelValues("processed").Inc()
	log.Debug("Ingested %s as media %d (%s)", label, res.MediaID, res.Outcome)
	return true
}

func (w *Watcher) fail(f claimed, cause error) {
	label := f.user + "/" + filepath.ToSlash(f.relPath)
	log.Warn("Failed to ingest %s: %v", label, cause)
	w.state.RecordFailure(fmt.Sprintf("%s: %v", label, cause))
	metrics.WatchFilesTotal.WithLabelValues("failed").Inc()

	if err := w.moveToFailed(f.userDir, f.relPath, f.processing, cause); err != nil {
		log.Error("Failed to move %s to %s: %v", label, FailedDir, err)
	}
}

// moveToFailed moves src to <user>/.failed/<rel> and writes the error
// sidecar next to it. An earlier failure at the same path is kept; the new
// file gets a timestamp suffix instead.
func (w *Watcher) moveToFailed(userDir, rel, src string, cause error) error {
	dst := w.failedPath(filepath.Join(userDir, FailedDir, rel))
	if err := filesystem.MoveFile(src, dst, w.retry); err != nil {
		return err
	}

	report := fmt.Sprintf("timestamp: %s\noriginal: %s\nerror: %v\n",
		w.now().UTC().Format(time.RFC3339),
		filepath.Join(userDir, rel),
		cause)
	return os.WriteFile(dst+errorSuffix, []byte(report), 0o644)
}

// failedPath returns dst if neither it nor its sidecar exist, otherwise
// <stem>_<unix-ts><ext>, adding a counter while that is taken too.
func (w *Watcher) failedPath(dst string) string {
	if !failedSlotTaken(dst) {
		return dst
	}
	ext := filepath.Ext(dst)
	stem := strings.TrimSuffix(dst, ext)
	base := fmt.Sprintf("%s_%d", stem, w.now().Unix())
	candidate := base + ext
	for i := 2; failedSlotTaken(candidate); i++ {
		candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
	}
	log.Debug("Quarantine path %s is taken, using %s", dst, candidate)
	return candidate
}

func failedSlotTaken(path string) bool {
	if _, err := os.Lstat(path); err == nil {
		return true
	}
	_, err := os.Lstat(path + errorSuffix)
	return err == nil
}

// unclaim returns a claimed file to its original location
func (w *Watcher) unclaim(f claimed) {
	if err := filesystem.MoveFile(f.processing, filepath.Join(f.userDir, f.relPath), w.retry); err != nil {
		log.Warn("Failed to return %s to the watch folder: %v", f.processing, err)
	}
}

// Recover moves files left in .processing back to their original place
// so the next cycle ingests them. When the original path has been reused
// the leftover goes to .failed instead. It returns the number recovered.
func (w *Watcher) Recover(ctx context.Context) int {
	entries, err := os.ReadDir(w.cfg.Root)
	if err != nil {
		return 0
	}

	recovered := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() || mediatypes.IsHidden(entry.Name()) {
			continue
		}

		userDir := filepath.Join(w.cfg.Root, entry.Name())
		processingRoot := filepath.Join(userDir, ProcessingDir)
		_ = filepath.WalkDir(processingRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				//nolint:nilerr // a missing .processing directory is normal
				return nil
			}

			rel, err := filepath.Rel(processingRoot, path)
			if err != nil {
				//nolint:nilerr // skip this entry but keep walking
				return nil
			}

			original := filepath.Join(userDir, rel)
			if _, statErr := os.Stat(original); statErr == nil {
				cause := errors.New("interrupted while processing and original path was reused")
				if err := w.moveToFailed(userDir, rel, path, cause); err != nil {
					log.Warn("Failed to move interrupted file %s: %v", path, err)
				}
				return nil
			}

			if err := filesystem.MoveFile(path, original, w.retry); err != nil {
				log.Warn("Failed to recover %s: %v", path, err)
				return nil
			}
			recovered++
			return nil
		})
	}
	return recovered
}

func isControlPath(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == ProcessingDir || part == FailedDir {
			return true
		}
	}
	return false
}
