package regenerator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"momento/internal/database"
	"momento/internal/geo"
	"momento/internal/hashing"
	"momento/internal/ingest"
	"momento/internal/jobs"
	"momento/internal/logging"
	"momento/internal/mediatypes"
	"momento/internal/memory"
	"momento/internal/metadata"
	"momento/internal/workers"
)

var log = logging.ForComponent("regenerator")

// ErrRegenerationRunning is returned by Run when a sweep is in progress
var ErrRegenerationRunning = errors.New("regeneration already running")

// Options control one sweep
type Options struct {
	// MissingOnly limits the sweep to records lacking thumbnails or
	// dimensions. When false, derived metadata is cleared and every record
	// is rebuilt.
	MissingOnly bool
}

// Config locates the stored files
type Config struct {
	OriginalsDir  string
	ThumbnailsDir string
	TinyDir       string
	// Concurrency bounds records processed at once; non-positive uses one per CPU
	Concurrency int
}

// Regenerator rebuilds metadata, thumbnails, tags and spatial entries for
// stored records.
type Regenerator struct {
	db         *database.Database
	cfg        Config
	extractor  ingest.MetadataExtractor
	thumbnails ingest.Thumbnailer
	state      *jobs.State
	gate       memory.Gate
}

// New creates a regenerator reporting into state. gate may be nil.
func New(db *database.Database, cfg Config, extractor ingest.MetadataExtractor, thumbnails ingest.Thumbnailer, state *jobs.State, gate memory.Gate) *Regenerator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = workers.ForCPU(0)
	}
	return &Regenerator{
		db:         db,
		cfg:        cfg,
		extractor:  extractor,
		thumbnails: thumbnails,
		state:      state,
		gate:       gate,
	}
}

// State returns the job state the sweep reports into
func (r *Regenerator) State() *jobs.State {
	return r.state
}

// Start runs a sweep in the background. It returns false when one is
// already running.
func (r *Regenerator) Start(ctx context.Context, opts Options) bool {
	if !r.state.Start() {
		return false
	}
	go r.run(ctx, opts)
	return true
}

// Run performs a sweep and blocks until it finalizes
func (r *Regenerator) Run(ctx context.Context, opts Options) (jobs.Snapshot, error) {
	if !r.state.Start() {
		return r.state.Snapshot(), ErrRegenerationRunning
	}
	r.run(ctx, opts)
	return r.state.Snapshot(), nil
}

func (r *Regenerator) run(ctx context.Context, opts Options) {
	log.Info("Regeneration started (missing only: %v)", opts.MissingOnly)

	if err := r.backfillHashes(ctx); err != nil {
		r.state.Fail(err)
		return
	}

	if !opts.MissingOnly {
		n, err := r.db.ClearDerivedData(ctx)
		if err != nil {
			r.state.Fail(fmt.Errorf("clear derived data: %w", err))
			return
		}
		log.Info("Cleared derived data on %d records", n)
	}

	candidates, err := r.db.MediaForRegeneration(ctx, opts.MissingOnly)
	if err != nil {
		r.state.Fail(fmt.Errorf("list records: %w", err))
		return
	}
	r.state.SetTotal(len(candidates))
	log.Info("Regenerating %d records", len(candidates))

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i := range candidates {
		if !r.proceed(ctx) {
			break
		}
		m := candidates[i]
		g.Go(func() error {
			r.regenerateOne(ctx, m)
			return nil
		})
	}
	_ = g.Wait()

	snap := r.state.Snapshot()
	log.Info("Regeneration finished: %d processed, %d metadata updated, %d thumbnails generated, %d failed",
		snap.Processed, snap.Counters[jobs.CounterUpdatedMetadata],
		snap.Counters[jobs.CounterGeneratedThumbnails], snap.Failed)
	r.state.Finalize(jobs.StatusCompleted)
}

// proceed checks cancellation and memory pressure before dispatching
func (r *Regenerator) proceed(ctx context.Context) bool {
	if r.state.IsCancelled() {
		return false
	}
	if ctx.Err() != nil {
		r.state.Cancel()
		return false
	}
	if r.gate != nil {
		if err := r.gate.Wait(ctx); err != nil {
			r.state.Cancel()
			return false
		}
	}
	return true
}

// backfillHashes digests legacy records stored before content hashing.
// Only a failure to list the records is fatal.
func (r *Regenerator) backfillHashes(ctx context.Context) error {
	legacy, err := r.db.MediaMissingHash(ctx)
	if err != nil {
		return fmt.Errorf("list records without hash: %w", err)
	}
	if len(legacy) == 0 {
		return nil
	}
	log.Info("Backfilling content hashes for %d records", len(legacy))

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i := range legacy {
		if !r.proceed(ctx) {
			break
		}
		m := legacy[i]
		g.Go(func() error {
			hash, err := hashing.File(ctx, filepath.Join(r.cfg.OriginalsDir, m.FilePath))
			if err != nil {
				r.state.RecordError(fmt.Sprintf("%s: hash: %v", m.FilePath, err))
				return nil
			}

			err = r.db.SetContentHash(ctx, m.ID, hash)
			switch {
			case errors.Is(err, database.ErrDuplicateContent):
				log.Warn("Record %d duplicates content stored by another record", m.ID)
				r.state.RecordError(fmt.Sprintf("%s: content already stored under another record", m.FilePath))
			case err != nil:
				r.state.RecordError(fmt.Sprintf("%s: store hash: %v", m.FilePath, err))
			default:
				r.state.Increment(jobs.CounterBackfilledHashes, 1)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Regenerator) regenerateOne(ctx context.Context, m database.Media) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Panic while regenerating %d: %v", m.ID, rec)
			r.state.RecordFailure(fmt.Sprintf("%s: panic: %v", m.FilePath, rec))
		}
	}()

	original := filepath.Join(r.cfg.OriginalsDir, m.FilePath)
	if _, err := os.Stat(original); err != nil {
		r.state.RecordFailure(fmt.Sprintf("missing file: %s", m.FilePath))
		return
	}

	kind := mediatypes.Kind(m.MediaType)
	fresh := r.extractor.Extract(ctx, original, kind)
	merged := Merge(m, fresh)

	if err := r.db.UpdateMedia(ctx, &merged); err != nil {
		r.state.RecordFailure(fmt.Sprintf("%s: update metadata: %v", m.FilePath, err))
		return
	}
	if m.Width == nil || m.Height == nil {
		r.state.Increment(jobs.CounterUpdatedMetadata, 1)
	}

	if r.thumbnailsMissing(m) {
		res := r.thumbnails.Generate(ctx, original, m.FilePath, kind)
		if res.Normal.OK() || res.Tiny.OK() {
			if err := r.db.SetThumbnails(ctx, m.ID, res.Normal.PathPtr(), res.Tiny.PathPtr()); err != nil {
				log.Warn("Failed to record thumbnails for %d: %v", m.ID, err)
			}
		}
		if res.Normal.OK() {
			r.state.Increment(jobs.CounterGeneratedThumbnails, 1)
		} else {
			log.Warn("Thumbnail failed for %s: %v", m.FilePath, res.Normal.Err)
		}
		if res.Tiny.Err != nil {
			log.Warn("Tiny thumbnail failed for %s: %v", m.FilePath, res.Tiny.Err)
		}
	}

	if merged.Keywords != nil {
		n, err := r.db.MergeKeywordTags(ctx, m.ID, *merged.Keywords)
		if err != nil {
			log.Warn("Failed to merge keyword tags for %d: %v", m.ID, err)
		} else if n > 0 {
			r.state.Increment(jobs.CounterUpdatedTags, int64(n))
		}
	}

	// The spatial entry follows the merged coordinates.
	if err := r.db.UnindexLocation(ctx, m.ID); err != nil {
		log.Warn("Failed to clear spatial entry for %d: %v", m.ID, err)
	}
	if merged.HasLocation() {
		if err := r.db.IndexLocation(ctx, m.ID, *merged.Latitude, *merged.Longitude); err != nil {
			log.Warn("Failed to index location for %d: %v", m.ID, err)
		}
	}

	r.state.RecordSuccess()
}

// thumbnailsMissing reports whether either thumbnail is unset or gone from disk
func (r *Regenerator) thumbnailsMissing(m database.Media) bool {
	if m.ThumbnailPath == nil || m.TinyThumbnail == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(r.cfg.ThumbnailsDir, *m.ThumbnailPath)); err != nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(r.cfg.TinyDir, *m.TinyThumbnail)); err != nil {
		return true
	}
	return false
}

// Merge combines a stored record with freshly extracted metadata. Stored
// values win, except GPS where a fresh fix replaces the stored one. The
// geohash follows the merged coordinates.
func Merge(existing database.Media, fresh metadata.Metadata) database.Media {
	m := existing

	if m.MimeType == "" || m.MimeType == "application/octet-stream" {
		if fresh.MimeType != "" {
			m.MimeType = fresh.MimeType
		}
	}

	m.Width = prefer(existing.Width, fresh.Width)
	m.Height = prefer(existing.Height, fresh.Height)
	m.Duration = prefer(existing.Duration, fresh.Duration)
	m.CapturedAt = prefer(existing.CapturedAt, fresh.CapturedAt)
	m.City = prefer(existing.City, fresh.City)
	m.State = prefer(existing.State, fresh.State)
	m.Country = prefer(existing.Country, fresh.Country)
	m.CameraMake = prefer(existing.CameraMake, fresh.CameraMake)
	m.CameraModel = prefer(existing.CameraModel, fresh.CameraModel)
	m.LensMake = prefer(existing.LensMake, fresh.LensMake)
	m.LensModel = prefer(existing.LensModel, fresh.LensModel)
	m.ISO = prefer(existing.ISO, fresh.ISO)
	m.ExposureTime = prefer(existing.ExposureTime, fresh.ExposureTime)
	m.FNumber = prefer(existing.FNumber, fresh.FNumber)
	m.FocalLength = prefer(existing.FocalLength, fresh.FocalLength)
	m.FocalLength35mm = prefer(existing.FocalLength35mm, fresh.FocalLength35mm)
	m.VideoCodec = prefer(existing.VideoCodec, fresh.VideoCodec)
	m.Keywords = prefer(existing.Keywords, fresh.Keywords)

	if fresh.HasLocation() {
		m.Latitude = fresh.Latitude
		m.Longitude = fresh.Longitude
		m.Altitude = prefer(fresh.Altitude, existing.Altitude)
	}

	m.Geohash = nil
	if m.HasLocation() {
		gh := geo.CalculateGeohash(*m.Latitude, *m.Longitude)
		m.Geohash = &gh
	}
	return m
}

func prefer[T any](first, second *T) *T {
	if first != nil {
		return first
	}
	return second
}
