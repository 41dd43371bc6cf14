/*
Package jobs implements the state machine shared by every long-running
background job: local import, watch-folder cycles and metadata regeneration.

# States

	idle → running → completed | failed | cancelled

A terminal state returns to running only through a fresh Start. Start on a
running job is a no-op that returns false, which is how the at-most-one
active run per job class is enforced.

# Progress and errors

Workers call RecordSuccess, RecordFailure and Increment as they go. The
error log keeps at most MaxErrors entries followed by a single
TruncatedSentinel, so a run over a very large library has bounded memory.

# Cancellation

Cancel sets a flag that dispatch loops poll with IsCancelled before handing
out each new item. Work already in flight finishes and its result is still
recorded; Finalize(StatusCompleted) then lands on cancelled.

# Registry

Registry holds one State per job class and is injected into the importer,
watcher, regenerator and HTTP handlers instead of living in a global.
*/
package jobs
