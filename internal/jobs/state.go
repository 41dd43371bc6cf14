package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"momento/internal/metrics"
)

// Status is the lifecycle state of a job class
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether s ends a run
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Kind names a job class
type Kind string

const (
	KindImport       Kind = "import"
	KindRegeneration Kind = "regeneration"
	KindWatch        Kind = "watch"
)

const (
	// MaxErrors bounds the per-run error log.
	MaxErrors = 100
	// TruncatedSentinel is appended once when MaxErrors is exceeded.
	TruncatedSentinel = "(additional errors truncated)"
)

// Counter names used beyond the four core counters
const (
	CounterUpdatedMetadata     = "updatedMetadata"
	CounterGeneratedThumbnails = "generatedThumbnails"
	CounterUpdatedTags         = "updatedTags"
	CounterBackfilledHashes    = "backfilledHashes"
	CounterDeduplicated        = "deduplicated"
)

// ErrNotRunning is returned by operations that need a running job
var ErrNotRunning = errors.New("job is not running")

// State is the lockable status record of one job class. Every mutation is a
// single critical section, so a Snapshot never sees a partial update.
type State struct {
	kind Kind

	mu          sync.RWMutex
	status      Status
	total       int64
	processed   int64
	succeeded   int64
	failed      int64
	counters    map[string]int64
	errs        []string
	truncated   bool
	startedAt   time.Time
	completedAt time.Time
	done        chan struct{}

	cancelled atomic.Bool
	now       func() time.Time
}

// NewState returns an idle state for kind
func NewState(kind Kind) *State {
	return &State{
		kind:     kind,
		status:   StatusIdle,
		counters: map[string]int64{},
		now:      time.Now,
	}
}

// Kind returns the job class
func (s *State) Kind() Kind {
	return s.kind
}

// Start resets the state and transitions to running. It returns false and
// changes nothing when a run is already in progress.
func (s *State) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusRunning {
		return false
	}

	s.status = StatusRunning
	s.total, s.processed, s.succeeded, s.failed = 0, 0, 0, 0
	s.counters = map[string]int64{}
	s.errs = nil
	s.truncated = false
	s.startedAt = s.now()
	s.completedAt = time.Time{}
	s.done = make(chan struct{})
	s.cancelled.Store(false)

	metrics.SetJobStatus(string(s.kind), string(StatusRunning))
	return true
}

// SetTotal records the number of items the run will process
func (s *State) SetTotal(n int) {
	s.mu.Lock()
	s.total = int64(n)
	s.mu.Unlock()
}

// AddTotal grows the item count, for runs that discover work incrementally
func (s *State) AddTotal(n int) {
	s.mu.Lock()
	s.total += int64(n)
	s.mu.Unlock()
}

// RecordSuccess counts one processed item that succeeded
func (s *State) RecordSuccess() {
	s.mu.Lock()
	s.processed++
	s.succeeded++
	s.mu.Unlock()
}

// RecordFailure counts one processed item that failed and logs msg
func (s *State) RecordFailure(msg string) {
	s.mu.Lock()
	s.processed++
	s.failed++
	s.appendErrorLocked(msg)
	s.mu.Unlock()
}

// RecordProcessed counts an item that neither succeeded nor failed,
// such as a regeneration candidate that needed no change
func (s *State) RecordProcessed() {
	s.mu.Lock()
	s.processed++
	s.mu.Unlock()
}

// RecordError logs msg without touching the counters
func (s *State) RecordError(msg string) {
	s.mu.Lock()
	s.appendErrorLocked(msg)
	s.mu.Unlock()
}

// Increment adds delta to a named counter
func (s *State) Increment(counter string, delta int64) {
	s.mu.Lock()
	s.counters[counter] += delta
	s.mu.Unlock()
}

func (s *State) appendErrorLocked(msg string) {
	metrics.JobErrorsTotal.WithLabelValues(string(s.kind)).Inc()
	if len(s.errs) < MaxErrors {
		s.errs = append(s.errs, msg)
		return
	}
	if !s.truncated {
		s.errs = append(s.errs, TruncatedSentinel)
		s.truncated = true
	}
}

// Cancel requests cooperative cancellation. It only has an effect while
// running and reports whether the request was accepted.
func (s *State) Cancel() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.status != StatusRunning {
		return false
	}
	s.cancelled.Store(true)
	return true
}

// IsCancelled is polled by workers between items
func (s *State) IsCancelled() bool {
	return s.cancelled.Load()
}

// Finalize ends the run. A completed outcome becomes cancelled when
// cancellation was requested. Only the first call per run has an effect.
func (s *State) Finalize(outcome Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalizeLocked(outcome)
}

func (s *State) finalizeLocked(outcome Status) bool {
	if s.status != StatusRunning || !outcome.IsTerminal() {
		return false
	}
	if outcome == StatusCompleted && s.cancelled.Load() {
		outcome = StatusCancelled
	}

	s.status = outcome
	s.completedAt = s.now()
	close(s.done)

	metrics.SetJobStatus(string(s.kind), string(outcome))
	metrics.JobRunsTotal.WithLabelValues(string(s.kind), string(outcome)).Inc()
	return true
}

// Fail records err as a single entry and finalizes the run as failed.
func (s *State) Fail(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusRunning {
		return false
	}
	s.appendErrorLocked(err.Error())
	return s.finalizeLocked(StatusFailed)
}

// Wait blocks until the current run finalizes or ctx ends. It returns
// immediately when no run is in progress.
func (s *State) Wait(ctx context.Context) (Snapshot, error) {
	s.mu.RLock()
	done := s.done
	running := s.status == StatusRunning
	s.mu.RUnlock()

	if running {
		select {
		case <-done:
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		}
	}
	return s.Snapshot(), nil
}

// Snapshot returns a consistent copy of the state
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Kind:      s.kind,
		Status:    s.status,
		Total:     s.total,
		Processed: s.processed,
		Succeeded: s.succeeded,
		Failed:    s.failed,
		Counters:  make(map[string]int64, len(s.counters)),
		Errors:    append([]string(nil), s.errs...),
	}
	for k, v := range s.counters {
		snap.Counters[k] = v
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		snap.StartedAt = &t
	}
	if !s.completedAt.IsZero() {
		t := s.completedAt
		snap.CompletedAt = &t
	}
	return snap
}
