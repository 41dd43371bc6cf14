package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestStartIsSingleFlight(t *testing.T) {
	t.Parallel()
	s := NewState(KindImport)

	if !s.Start() {
		t.Fatal("first Start() = false, want true")
	}
	s.SetTotal(10)
	s.RecordSuccess()
	s.RecordFailure("broken.jpg: decode failed")
	before := s.Snapshot()

	time.Sleep(2 * time.Millisecond)
	if s.Start() {
		t.Fatal("second Start() = true while running, want false")
	}

	after := s.Snapshot()
	if after.Processed != before.Processed || after.Succeeded != before.Succeeded ||
		after.Failed != before.Failed || after.Total != before.Total {
		t.Errorf("counters changed by second Start: before %+v, after %+v", before, after)
	}
	if !after.StartedAt.Equal(*before.StartedAt) {
		t.Errorf("StartedAt changed: %v -> %v", before.StartedAt, after.StartedAt)
	}
	if len(after.Errors) != 1 {
		t.Errorf("len(Errors) = %d, want 1", len(after.Errors))
	}
}

func TestStartResetsAfterTerminal(t *testing.T) {
	t.Parallel()
	s := NewState(KindRegeneration)

	s.Start()
	s.SetTotal(3)
	s.RecordSuccess()
	s.Increment(CounterUpdatedTags, 2)
	s.RecordFailure("x")
	s.Finalize(StatusCompleted)

	if !s.Start() {
		t.Fatal("Start() after completion = false, want true")
	}
	snap := s.Snapshot()
	if snap.Total != 0 || snap.Processed != 0 || snap.Failed != 0 || len(snap.Errors) != 0 {
		t.Errorf("state not reset: %+v", snap)
	}
	if snap.Counters[CounterUpdatedTags] != 0 {
		t.Errorf("named counter not reset: %v", snap.Counters)
	}
	if snap.CompletedAt != nil {
		t.Errorf("CompletedAt = %v after restart, want nil", snap.CompletedAt)
	}
}

func TestErrorLogIsCapped(t *testing.T) {
	t.Parallel()
	s := NewState(KindImport)
	s.Start()

	for i := 0; i < 150; i++ {
		s.RecordFailure(fmt.Sprintf("file-%d failed", i))
	}

	snap := s.Snapshot()
	if len(snap.Errors) != MaxErrors+1 {
		t.Fatalf("len(Errors) = %d, want %d", len(snap.Errors), MaxErrors+1)
	}
	if snap.Errors[MaxErrors] != TruncatedSentinel {
		t.Errorf("last error = %q, want %q", snap.Errors[MaxErrors], TruncatedSentinel)
	}
	if snap.Errors[0] != "file-0 failed" || snap.Errors[MaxErrors-1] != "file-99 failed" {
		t.Errorf("unexpected retained errors: first %q, last %q", snap.Errors[0], snap.Errors[MaxErrors-1])
	}
	if snap.Failed != 150 {
		t.Errorf("Failed = %d, want 150", snap.Failed)
	}
}

func TestCancelOnlyWhileRunning(t *testing.T) {
	t.Parallel()
	s := NewState(KindImport)

	if s.Cancel() {
		t.Error("Cancel() on idle job = true, want false")
	}
	if s.IsCancelled() {
		t.Error("IsCancelled() = true after idle cancel")
	}

	s.Start()
	if !s.Cancel() {
		t.Fatal("Cancel() on running job = false, want true")
	}
	if !s.IsCancelled() {
		t.Fatal("IsCancelled() = false after cancel")
	}

	s.Finalize(StatusCompleted)
	if got := s.Snapshot().Status; got != StatusCancelled {
		t.Errorf("Status = %q, want %q", got, StatusCancelled)
	}

	if s.Cancel() {
		t.Error("Cancel() on cancelled job = true, want false")
	}

	s.Start()
	if s.IsCancelled() {
		t.Error("cancel flag survived a fresh Start")
	}
}

func TestFinalizeExactlyOnce(t *testing.T) {
	t.Parallel()
	s := NewState(KindImport)

	if s.Finalize(StatusCompleted) {
		t.Error("Finalize() on idle job = true, want false")
	}

	s.Start()
	if !s.Finalize(StatusCompleted) {
		t.Fatal("Finalize() = false, want true")
	}
	first := s.Snapshot()

	if s.Finalize(StatusFailed) {
		t.Error("second Finalize() = true, want false")
	}
	second := s.Snapshot()
	if second.Status != StatusCompleted || !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Errorf("second Finalize changed state: %+v", second)
	}
}

func TestFinalizeRejectsNonTerminal(t *testing.T) {
	t.Parallel()
	s := NewState(KindImport)
	s.Start()
	if s.Finalize(StatusIdle) || s.Finalize(StatusRunning) {
		t.Error("Finalize accepted a non-terminal status")
	}
	if got := s.Snapshot().Status; got != StatusRunning {
		t.Errorf("Status = %q, want running", got)
	}
}

func TestFailRecordsSingleEntry(t *testing.T) {
	t.Parallel()
	s := NewState(KindRegeneration)
	s.Start()

	if !s.Fail(errors.New("cannot create thumbnails directory")) {
		t.Fatal("Fail() = false, want true")
	}
	snap := s.Snapshot()
	if snap.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", snap.Status)
	}
	if len(snap.Errors) != 1 || snap.Errors[0] != "cannot create thumbnails directory" {
		t.Errorf("Errors = %v", snap.Errors)
	}
	if s.Fail(errors.New("again")) {
		t.Error("Fail() on failed job = true, want false")
	}
}

func TestConcurrentUpdatesAreConsistent(t *testing.T) {
	t.Parallel()
	s := NewState(KindImport)
	s.Start()

	const workers, perWorker = 8, 250
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if i%5 == 0 {
					s.RecordFailure("e")
				} else {
					s.RecordSuccess()
				}
				snap := s.Snapshot()
				if snap.Succeeded+snap.Failed != snap.Processed {
					t.Errorf("inconsistent snapshot: %+v", snap)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	snap := s.Snapshot()
	if snap.Processed != workers*perWorker {
		t.Errorf("Processed = %d, want %d", snap.Processed, workers*perWorker)
	}
	if snap.Failed != workers*perWorker/5 {
		t.Errorf("Failed = %d, want %d", snap.Failed, workers*perWorker/5)
	}
}

func TestWait(t *testing.T) {
	t.Parallel()
	s := NewState(KindImport)

	if snap, err := s.Wait(context.Background()); err != nil || snap.Status != StatusIdle {
		t.Errorf("Wait() on idle = %v, %v", snap.Status, err)
	}

	s.Start()
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.RecordSuccess()
		s.Finalize(StatusCompleted)
	}()

	snap, err := s.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if snap.Status != StatusCompleted || snap.Succeeded != 1 {
		t.Errorf("Wait() snapshot = %+v", snap)
	}

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}

func TestSnapshotViews(t *testing.T) {
	t.Parallel()
	s := NewState(KindImport)
	fixed := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.Start()
	s.SetTotal(4)
	s.RecordSuccess()
	s.Increment(CounterDeduplicated, 1)
	s.RecordFailure("bad.mov: ffprobe exited 1")
	s.Finalize(StatusCompleted)

	v := s.Snapshot().ImportView()
	if v.Status != StatusCompleted || v.TotalFiles != 4 || v.ProcessedFiles != 2 ||
		v.SuccessfulImports != 1 || v.FailedImports != 1 || v.Deduplicated != 1 {
		t.Errorf("ImportView() = %+v", v)
	}
	if v.StartedAt != "2024-06-15T12:00:00Z" || v.CompletedAt != "2024-06-15T12:00:00Z" {
		t.Errorf("timestamps = %q, %q", v.StartedAt, v.CompletedAt)
	}

	r := NewState(KindRegeneration).Snapshot().RegenerationView()
	if r.Status != StatusIdle || r.Errors == nil || r.StartedAt != "" {
		t.Errorf("idle RegenerationView() = %+v", r)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	for _, k := range []Kind{KindImport, KindRegeneration, KindWatch} {
		s, ok := r.Get(k)
		if !ok || s.Kind() != k {
			t.Errorf("Get(%q) = %v, %v", k, s, ok)
		}
	}
	if _, ok := r.Get("bogus"); ok {
		t.Error("Get(bogus) ok = true")
	}

	if r.AnyRunning() {
		t.Error("AnyRunning() = true on fresh registry")
	}
	r.Regeneration.Start()
	if !r.AnyRunning() {
		t.Error("AnyRunning() = false with regeneration running")
	}
	if r.Import.Start() == false {
		t.Error("job classes are not independent")
	}
	r.CancelAll()
	if !r.Import.IsCancelled() || !r.Regeneration.IsCancelled() || r.Watch.IsCancelled() {
		t.Error("CancelAll() did not flag exactly the running jobs")
	}
}
