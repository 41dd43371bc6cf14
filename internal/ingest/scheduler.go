package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"momento/internal/jobs"
	"momento/internal/memory"
	"momento/internal/workers"
)

// ErrImportRunning is returned by Run when the import job is already running
var ErrImportRunning = errors.New("import already running")

// Options control one import run
type Options struct {
	// DeleteAfterImport removes each source file once it is persisted
	DeleteAfterImport bool
	// Source labels metrics; defaults to "import"
	Source string
}

// Scheduler runs the pipeline over many files with at most N files in
// flight, tracking progress in a job state.
type Scheduler struct {
	pipeline    *Pipeline
	state       *jobs.State
	concurrency int
	gate        memory.Gate
	walker      *Walker
}

// NewScheduler creates a scheduler. A non-positive concurrency uses one
// worker per CPU. gate may be nil.
func NewScheduler(pipeline *Pipeline, state *jobs.State, concurrency int, gate memory.Gate) *Scheduler {
	if concurrency <= 0 {
		concurrency = workers.ForCPU(0)
	}
	return &Scheduler{
		pipeline:    pipeline,
		state:       state,
		concurrency: concurrency,
		gate:        gate,
		walker:      NewWalker(DefaultWalkerConfig()),
	}
}

// State returns the job state the scheduler reports into
func (s *Scheduler) State() *jobs.State {
	return s.state
}

// Run imports paths for userID and blocks until the run finalizes.
func (s *Scheduler) Run(ctx context.Context, userID int64, paths []string, opts Options) (jobs.Snapshot, error) {
	if !s.state.Start() {
		return s.state.Snapshot(), ErrImportRunning
	}
	s.state.SetTotal(len(paths))
	s.execute(ctx, userID, paths, opts)
	return s.state.Snapshot(), nil
}

// StartImport discovers the supported files under dir and imports them in
// the background. It returns false when an import is already running.
func (s *Scheduler) StartImport(ctx context.Context, userID int64, dir string, opts Options) bool {
	if !s.state.Start() {
		return false
	}

	go func() {
		files, err := s.walker.Walk(ctx, dir)
		if err != nil && ctx.Err() == nil {
			s.state.Fail(fmt.Errorf("discover %s: %w", dir, err))
			return
		}

		paths := make([]string, len(files))
		for i, f := range files {
			paths[i] = f.Path
		}
		log.Info("Importing %d files from %s for user %d", len(paths), dir, userID)

		s.state.SetTotal(len(paths))
		s.execute(ctx, userID, paths, opts)
	}()
	return true
}

// execute dispatches every path under the semaphore and finalizes the job.
// The cancel flag is checked before each permit is acquired; files already
// dispatched run to completion.
func (s *Scheduler) execute(ctx context.Context, userID int64, paths []string, opts Options) {
	if err := os.MkdirAll(s.pipeline.OriginalsDir(), 0o755); err != nil {
		s.state.Fail(fmt.Errorf("originals directory unavailable: %w", err))
		return
	}

	sem := semaphore.NewWeighted(int64(s.concurrency))
	var wg sync.WaitGroup

	for _, path := range paths {
		if s.state.IsCancelled() {
			break
		}
		if ctx.Err() != nil {
			s.state.Cancel()
			break
		}
		if s.gate != nil {
			if err := s.gate.Wait(ctx); err != nil {
				s.state.Cancel()
				break
			}
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			s.state.Cancel()
			break
		}

		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer sem.Release(1)
			s.processOne(ctx, userID, path, opts)
		}(path)
	}

	wg.Wait()

	snap := s.state.Snapshot()
	log.Info("Import finished: %d processed, %d succeeded, %d failed, %d deduplicated",
		snap.Processed, snap.Succeeded, snap.Failed, snap.Counters[jobs.CounterDeduplicated])
	s.state.Finalize(jobs.StatusCompleted)
}

func (s *Scheduler) processOne(ctx context.Context, userID int64, path string, opts Options) {
	name := filepath.Base(path)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic while importing %s: %v", path, r)
			s.state.RecordFailure(fmt.Sprintf("%s: panic: %v", name, r))
		}
	}()

	res, err := s.pipeline.ProcessFile(ctx, FileRequest{
		Path:   path,
		UserID: userID,
		Source: opts.Source,
	})
	if err != nil {
		log.Warn("Failed to import %s: %v", path, err)
		s.state.RecordFailure(fmt.Sprintf("%s: %v", name, err))
		return
	}

	if res.Outcome.Deduplicated() {
		s.state.Increment(jobs.CounterDeduplicated, 1)
	}
	s.state.RecordSuccess()

	if opts.DeleteAfterImport {
		removeSource(path)
	}
}

func removeSource(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("Failed to delete imported source %s: %v", path, err)
	}
}
