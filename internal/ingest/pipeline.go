package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"momento/internal/database"
	"momento/internal/filesystem"
	"momento/internal/geo"
	"momento/internal/hashing"
	"momento/internal/logging"
	"momento/internal/media"
	"momento/internal/mediatypes"
	"momento/internal/metadata"
	"momento/internal/metrics"
)

var log = logging.ForComponent("ingest")

// ErrUnsupportedType is returned for files whose extension is not a known
// image or video type.
var ErrUnsupportedType = errors.New("unsupported file type")

// Outcome describes what ingesting one file did
type Outcome string

const (
	// OutcomeCreated means a new record was stored
	OutcomeCreated Outcome = "created"
	// OutcomeExisting means the user already owned identical content
	OutcomeExisting Outcome = "existing"
	// OutcomeRestored means a trashed grant on identical content was restored
	OutcomeRestored Outcome = "restored"
	// OutcomeGranted means the user was granted existing identical content
	OutcomeGranted Outcome = "granted"
)

// Deduplicated reports whether no new record was created
func (o Outcome) Deduplicated() bool {
	return o != OutcomeCreated
}

func outcomeFromAccess(a database.AccessOutcome) Outcome {
	switch a {
	case database.AccessRestored:
		return OutcomeRestored
	case database.AccessGranted:
		return OutcomeGranted
	default:
		return OutcomeExisting
	}
}

// MetadataExtractor reads metadata from a source file
type MetadataExtractor interface {
	Extract(ctx context.Context, path string, kind mediatypes.Kind) metadata.Metadata
}

// Thumbnailer renders thumbnails for a stored original
type Thumbnailer interface {
	Generate(ctx context.Context, originalPath, relPath string, kind mediatypes.Kind) media.Result
}

// FileRequest asks the pipeline to ingest one file for one user
type FileRequest struct {
	Path   string
	UserID int64
	// OriginalFilename defaults to the base name of Path
	OriginalFilename string
	// Source labels metrics: "import" or "watch"
	Source string
}

// Result is the outcome of a successful ingestion
type Result struct {
	MediaID int64
	Outcome Outcome
}

// Pipeline is the single-file ingestion path shared by the import
// scheduler and the watch folder.
type Pipeline struct {
	db           *database.Database
	extractor    MetadataExtractor
	thumbnails   Thumbnailer
	originalsDir string
	retry        filesystem.RetryConfig
	newID        func() string

	// afterLookup, when set, runs between a content hash hit and the grant
	afterLookup func(mediaID int64)
}

// NewPipeline creates a pipeline storing originals under originalsDir
func NewPipeline(db *database.Database, extractor MetadataExtractor, thumbnails Thumbnailer, originalsDir string) *Pipeline {
	return &Pipeline{
		db:           db,
		extractor:    extractor,
		thumbnails:   thumbnails,
		originalsDir: originalsDir,
		retry:        filesystem.DefaultRetryConfig(),
		newID:        func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:12] },
	}
}

// OriginalsDir returns the root originals are stored under
func (p *Pipeline) OriginalsDir() string {
	return p.originalsDir
}

// ProcessFile hashes the file and either resolves access to an existing
// record with the same content or stores it as a new record. Only new
// content is copied, extracted and thumbnailed.
func (p *Pipeline) ProcessFile(ctx context.Context, req FileRequest) (Result, error) {
	source := req.Source
	if source == "" {
		source = "import"
	}

	start := time.Now()
	metrics.IngestInFlight.WithLabelValues(source).Inc()
	defer func() {
		metrics.IngestInFlight.WithLabelValues(source).Dec()
		metrics.IngestFileDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}()

	res, err := p.process(ctx, req)
	if err != nil {
		metrics.IngestFilesTotal.WithLabelValues(source, "failed").Inc()
		return Result{}, err
	}
	metrics.IngestFilesTotal.WithLabelValues(source, string(res.Outcome)).Inc()
	return res, nil
}

func (p *Pipeline) process(ctx context.Context, req FileRequest) (Result, error) {
	kind := mediatypes.KindOf(req.Path)
	if kind == mediatypes.KindUnsupported {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Base(req.Path))
	}

	info, err := filesystem.StatWithRetry(req.Path, p.retry)
	if err != nil {
		return Result{}, fmt.Errorf("stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Result{}, fmt.Errorf("not a regular file: %s", req.Path)
	}

	hash, err := hashing.File(ctx, req.Path)
	if err != nil {
		return Result{}, fmt.Errorf("hash: %w", err)
	}

	existing, err := p.db.FindByContentHash(ctx, hash)
	switch {
	case err == nil:
		if p.afterLookup != nil {
			p.afterLookup(existing)
		}
		res, err := p.resolve(ctx, existing, req.UserID)
		if !errors.Is(err, database.ErrNotFound) {
			return res, err
		}
		// Purged between the lookup and the grant: store it as new content.
		log.Debug("Media %d was purged during ingestion of %s, storing again", existing, req.Path)
	case !errors.Is(err, database.ErrNotFound):
		return Result{}, fmt.Errorf("look up content hash: %w", err)
	}

	return p.create(ctx, req, kind, hash, info.Size())
}

func (p *Pipeline) resolve(ctx context.Context, mediaID, userID int64) (Result, error) {
	access, err := p.db.ResolveAccess(ctx, mediaID, userID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve access: %w", err)
	}
	return Result{MediaID: mediaID, Outcome: outcomeFromAccess(access)}, nil
}

func (p *Pipeline) create(ctx context.Context, req FileRequest, kind mediatypes.Kind, hash string, size int64) (Result, error) {
	md := p.extractor.Extract(ctx, req.Path, kind)

	captured := time.Now().UTC()
	if md.CapturedAt != nil {
		captured = md.CapturedAt.UTC()
	}

	relPath := p.originalRelPath(captured, req.Path)
	dst := filepath.Join(p.originalsDir, relPath)
	if err := filesystem.CopyFile(req.Path, dst, p.retry); err != nil {
		return Result{}, fmt.Errorf("store original: %w", err)
	}

	name := req.OriginalFilename
	if name == "" {
		name = filepath.Base(req.Path)
	}

	record := recordFromMetadata(md, relPath, name, kind, size, hash)
	id, err := p.db.InsertMedia(ctx, record, req.UserID)
	if err != nil {
		p.removeStored(dst)
		if errors.Is(err, database.ErrDuplicateContent) {
			// Another worker stored the same bytes first.
			winner, findErr := p.db.FindByContentHash(ctx, hash)
			if findErr != nil {
				return Result{}, fmt.Errorf("look up content hash after race: %w", findErr)
			}
			return p.resolve(ctx, winner, req.UserID)
		}
		return Result{}, fmt.Errorf("insert record: %w", err)
	}

	p.finish(ctx, id, dst, relPath, kind, record)
	return Result{MediaID: id, Outcome: OutcomeCreated}, nil
}

// finish runs the steps whose failure leaves a valid record behind:
// thumbnails, tags and the spatial index. The regeneration sweep repairs
// anything missing here.
func (p *Pipeline) finish(ctx context.Context, id int64, dst, relPath string, kind mediatypes.Kind, record *database.Media) {
	thumbs := p.thumbnails.Generate(ctx, dst, relPath, kind)
	if thumbs.Normal.Err != nil {
		log.Warn("Thumbnail failed for %s: %v", relPath, thumbs.Normal.Err)
	}
	if thumbs.Tiny.Err != nil {
		log.Warn("Tiny thumbnail failed for %s: %v", relPath, thumbs.Tiny.Err)
	}
	if thumbs.Normal.OK() || thumbs.Tiny.OK() {
		if err := p.db.SetThumbnails(ctx, id, thumbs.Normal.PathPtr(), thumbs.Tiny.PathPtr()); err != nil {
			log.Warn("Failed to record thumbnails for %d: %v", id, err)
		}
	}

	if record.Keywords != nil {
		if _, err := p.db.MergeKeywordTags(ctx, id, *record.Keywords); err != nil {
			log.Warn("Failed to merge keyword tags for %d: %v", id, err)
		}
	}

	if record.HasLocation() {
		if err := p.db.IndexLocation(ctx, id, *record.Latitude, *record.Longitude); err != nil {
			log.Warn("Failed to index location for %d: %v", id, err)
		}
	}
}

// originalRelPath builds YYYY-MM/YYYYmmdd_HHMMSS_<id>.<ext> from the
// capture time.
func (p *Pipeline) originalRelPath(captured time.Time, source string) string {
	name := fmt.Sprintf("%s_%s%s", captured.Format("20060102_150405"), p.newID(), mediatypes.Ext(source))
	return filepath.Join(captured.Format("2006-01"), name)
}

func (p *Pipeline) removeStored(path string) {
	if err := filesystem.RemoveIfExists(path); err != nil {
		log.Warn("Failed to remove stored original %s: %v", path, err)
	}
}

func recordFromMetadata(md metadata.Metadata, relPath, name string, kind mediatypes.Kind, size int64, hash string) *database.Media {
	m := &database.Media{
		FilePath:         relPath,
		OriginalFilename: name,
		MediaType:        string(kind),
		MimeType:         md.MimeType,
		FileSize:         size,
		Width:            md.Width,
		Height:           md.Height,
		Duration:         md.Duration,
		CapturedAt:       md.CapturedAt,
		Latitude:         md.Latitude,
		Longitude:        md.Longitude,
		Altitude:         md.Altitude,
		City:             md.City,
		State:            md.State,
		Country:          md.Country,
		CameraMake:       md.CameraMake,
		CameraModel:      md.CameraModel,
		LensMake:         md.LensMake,
		LensModel:        md.LensModel,
		ISO:              md.ISO,
		ExposureTime:     md.ExposureTime,
		FNumber:          md.FNumber,
		FocalLength:      md.FocalLength,
		FocalLength35mm:  md.FocalLength35mm,
		VideoCodec:       md.VideoCodec,
		Keywords:         md.Keywords,
		ContentHash:      &hash,
	}
	if m.HasLocation() {
		gh := geo.CalculateGeohash(*m.Latitude, *m.Longitude)
		m.Geohash = &gh
	}
	return m
}
