package regenerator

import (
	"bytes"
	"context"
	"errors"
	stdlog "log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"momento/internal/database"
	"momento/internal/geo"
	"momento/internal/jobs"
	"momento/internal/logging"
	"momento/internal/media"
	"momento/internal/mediatypes"
	"momento/internal/metadata"
)

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

type fakeExtractor struct {
	md     metadata.Metadata
	onCall func()
	calls  atomic.Int64
}

func (f *fakeExtractor) Extract(ctx context.Context, path string, kind mediatypes.Kind) metadata.Metadata {
	f.calls.Add(1)
	if f.onCall != nil {
		f.onCall()
	}
	return f.md
}

type fakeThumbnailer struct {
	calls   atomic.Int64
	tinyErr error
}

func (f *fakeThumbnailer) Generate(ctx context.Context, originalPath, relPath string, kind mediatypes.Kind) media.Result {
	f.calls.Add(1)
	rel := media.ThumbnailRelPath(relPath)
	res := media.Result{Normal: media.Outcome{RelPath: rel}, Tiny: media.Outcome{RelPath: rel}}
	if f.tinyErr != nil {
		res.Tiny = media.Outcome{Err: f.tinyErr}
	}
	return res
}

type testEnv struct {
	db        *database.Database
	regen     *Regenerator
	extractor *fakeExtractor
	thumbs    *fakeThumbnailer
	originals string
	userID    int64
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	db, err := database.New(context.Background(), filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	user, err := db.CreateUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	cfg := Config{
		OriginalsDir:  filepath.Join(dir, "originals"),
		ThumbnailsDir: filepath.Join(dir, "thumbnails"),
		TinyDir:       filepath.Join(dir, "thumbnails_tiny"),
		Concurrency:   2,
	}
	extractor := &fakeExtractor{}
	thumbs := &fakeThumbnailer{}

	return &testEnv{
		db:        db,
		regen:     New(db, cfg, extractor, thumbs, jobs.NewState(jobs.KindRegeneration), nil),
		extractor: extractor,
		thumbs:    thumbs,
		originals: cfg.OriginalsDir,
		userID:    user.ID,
	}
}

// store writes the original to disk and inserts m. An empty hash stores a
// legacy record without one.
func (e *testEnv) store(t *testing.T, m database.Media, content, hash string) int64 {
	t.Helper()
	path := filepath.Join(e.originals, m.FilePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if m.OriginalFilename == "" {
		m.OriginalFilename = filepath.Base(m.FilePath)
	}
	if m.MediaType == "" {
		m.MediaType = string(mediatypes.KindImage)
		m.MimeType = "image/jpeg"
	}
	if hash != "" {
		m.ContentHash = &hash
	}

	id, err := e.db.InsertMedia(context.Background(), &m, e.userID)
	if err != nil {
		t.Fatalf("InsertMedia(%s) error = %v", m.FilePath, err)
	}
	return id
}

func TestMerge(t *testing.T) {
	t.Parallel()
	captured := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	existing := database.Media{
		MimeType:   "image/jpeg",
		Width:      intPtr(100),
		CameraMake: strPtr("Old"),
		CapturedAt: &captured,
		Latitude:   floatPtr(1),
		Longitude:  floatPtr(1),
		Altitude:   floatPtr(30),
	}
	later := captured.AddDate(1, 0, 0)
	fresh := metadata.Metadata{
		MimeType:   "image/png",
		Width:      intPtr(200),
		Height:     intPtr(150),
		CameraMake: strPtr("New"),
		CapturedAt: &later,
		Latitude:   floatPtr(40.7128),
		Longitude:  floatPtr(-74.0060),
	}

	got := Merge(existing, fresh)

	if *got.Width != 100 {
		t.Errorf("Width = %d, want 100", *got.Width)
	}
	if got.Height == nil || *got.Height != 150 {
		t.Errorf("Height = %v, want 150", got.Height)
	}
	if *got.CameraMake != "Old" {
		t.Errorf("CameraMake = %q, want Old", *got.CameraMake)
	}
	if !got.CapturedAt.Equal(captured) {
		t.Errorf("CapturedAt = %v, want %v", got.CapturedAt, captured)
	}
	if got.MimeType != "image/jpeg" {
		t.Errorf("MimeType = %q, want image/jpeg", got.MimeType)
	}
	if *got.Latitude != 40.7128 || *got.Longitude != -74.0060 {
		t.Errorf("location = %v,%v, want fresh fix", *got.Latitude, *got.Longitude)
	}
	if got.Altitude == nil || *got.Altitude != 30 {
		t.Errorf("Altitude = %v, want stored 30", got.Altitude)
	}
	if got.Geohash == nil || *got.Geohash != geo.CalculateGeohash(40.7128, -74.0060) {
		t.Errorf("Geohash = %v, want geohash of the fresh fix", got.Geohash)
	}
}

func TestMergeKeepsLocationWithoutFreshFix(t *testing.T) {
	t.Parallel()
	existing := database.Media{Latitude: floatPtr(51.5074), Longitude: floatPtr(-0.1278)}

	got := Merge(existing, metadata.Metadata{})

	if got.Latitude == nil || *got.Latitude != 51.5074 {
		t.Errorf("Latitude = %v, want 51.5074", got.Latitude)
	}
	if got.Geohash == nil || len(*got.Geohash) != 7 {
		t.Errorf("Geohash = %v, want 7 characters", got.Geohash)
	}
}

func TestRunMissingOnly(t *testing.T) {
	t.Parallel()
	env := setup(t)
	ctx := context.Background()

	incomplete := env.store(t, database.Media{
		FilePath:   "2024-06/a.jpg",
		CameraMake: strPtr("Old"),
		Latitude:   floatPtr(1),
		Longitude:  floatPtr(1),
	}, "a", "hash-a")
	env.store(t, database.Media{
		FilePath:      "2024-06/b.jpg",
		Width:         intPtr(10),
		Height:        intPtr(10),
		ThumbnailPath: strPtr("2024-06/b.jpg"),
		TinyThumbnail: strPtr("2024-06/b.jpg"),
	}, "b", "hash-b")

	env.extractor.md = metadata.Metadata{
		Width:      intPtr(640),
		Height:     intPtr(480),
		CameraMake: strPtr("New"),
		Latitude:   floatPtr(10),
		Longitude:  floatPtr(20),
		Keywords:   strPtr("beach, sunset"),
	}

	snap, err := env.regen.Run(ctx, Options{MissingOnly: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if snap.Status != jobs.StatusCompleted {
		t.Errorf("Status = %v, want %v", snap.Status, jobs.StatusCompleted)
	}
	if snap.Total != 1 || snap.Processed != 1 {
		t.Errorf("Total = %d, Processed = %d, want 1/1", snap.Total, snap.Processed)
	}
	view := snap.RegenerationView()
	if view.UpdatedMetadata != 1 || view.GeneratedThumbnails != 1 || view.UpdatedTags != 2 {
		t.Errorf("counters = %+v, want 1 metadata, 1 thumbnail, 2 tags", view)
	}

	m, err := env.db.GetMedia(ctx, incomplete)
	if err != nil {
		t.Fatalf("GetMedia() error = %v", err)
	}
	if m.Width == nil || *m.Width != 640 {
		t.Errorf("Width = %v, want 640", m.Width)
	}
	if *m.CameraMake != "Old" {
		t.Errorf("CameraMake = %q, want Old", *m.CameraMake)
	}
	if *m.Latitude != 10 || *m.Longitude != 20 {
		t.Errorf("location = %v,%v, want 10,20", *m.Latitude, *m.Longitude)
	}
	if m.ThumbnailPath == nil {
		t.Error("ThumbnailPath = nil, want set")
	}

	hits, err := env.db.QueryBox(ctx, geo.Bounds{North: 11, South: 9, East: 21, West: 19})
	if err != nil {
		t.Fatalf("QueryBox() error = %v", err)
	}
	if len(hits) != 1 || hits[0].ID != incomplete {
		t.Errorf("QueryBox() = %v, want [%d]", hits, incomplete)
	}
}

// Not parallel: captures the process-wide log output.
func TestRunLogsTinyThumbnailFailure(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	var buf bytes.Buffer
	prevOut, prevLevel := stdlog.Writer(), logging.GetLevel()
	stdlog.SetOutput(&buf)
	logging.SetLevel(logging.LevelWarn)
	t.Cleanup(func() {
		stdlog.SetOutput(prevOut)
		logging.SetLevel(prevLevel)
	})

	id := env.store(t, database.Media{FilePath: "2024-06/c.jpg"}, "c", "hash-c")
	env.thumbs.tinyErr = errors.New("decode failed")

	snap, err := env.regen.Run(ctx, Options{MissingOnly: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if snap.Failed != 0 {
		t.Errorf("Failed = %d, want 0", snap.Failed)
	}
	if got := snap.RegenerationView().GeneratedThumbnails; got != 1 {
		t.Errorf("GeneratedThumbnails = %d, want 1", got)
	}

	m, err := env.db.GetMedia(ctx, id)
	if err != nil {
		t.Fatalf("GetMedia() error = %v", err)
	}
	if m.ThumbnailPath == nil || m.TinyThumbnail != nil {
		t.Errorf("thumbnails = %v, %v, want normal only", m.ThumbnailPath, m.TinyThumbnail)
	}

	want := "Tiny thumbnail failed for 2024-06/c.jpg: decode failed"
	if !strings.Contains(buf.String(), want) {
		t.Errorf("log = %q, want it to contain %q", buf.String(), want)
	}
}

func TestRunFullClearsFirst(t *testing.T) {
	t.Parallel()
	env := setup(t)
	ctx := context.Background()

	id := env.store(t, database.Media{
		FilePath:   "2024-06/a.jpg",
		Width:      intPtr(10),
		Height:     intPtr(10),
		CameraMake: strPtr("Stale"),
	}, "a", "hash-a")
	env.store(t, database.Media{FilePath: "2024-06/b.jpg"}, "b", "hash-b")

	env.extractor.md = metadata.Metadata{Width: intPtr(800), Height: intPtr(600), CameraMake: strPtr("Fresh")}

	snap, err := env.regen.Run(ctx, Options{MissingOnly: false})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if snap.Total != 2 || snap.Succeeded != 2 {
		t.Errorf("Total = %d, Succeeded = %d, want 2/2", snap.Total, snap.Succeeded)
	}

	m, err := env.db.GetMedia(ctx, id)
	if err != nil {
		t.Fatalf("GetMedia() error = %v", err)
	}
	if *m.Width != 800 || *m.CameraMake != "Fresh" {
		t.Errorf("record = %d/%q, want 800/Fresh", *m.Width, *m.CameraMake)
	}
	if n := env.thumbs.calls.Load(); n != 2 {
		t.Errorf("thumbnail calls = %d, want 2", n)
	}
}

func TestRunMissingFile(t *testing.T) {
	t.Parallel()
	env := setup(t)

	env.store(t, database.Media{FilePath: "2024-06/gone.jpg"}, "gone", "hash-gone")
	if err := os.Remove(filepath.Join(env.originals, "2024-06", "gone.jpg")); err != nil {
		t.Fatal(err)
	}

	snap, err := env.regen.Run(context.Background(), Options{MissingOnly: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if snap.Failed != 1 || len(snap.Errors) != 1 {
		t.Errorf("Failed = %d, Errors = %v, want one failure", snap.Failed, snap.Errors)
	}
	if env.extractor.calls.Load() != 0 {
		t.Error("Extract called for a missing file")
	}
}

func TestBackfillHashes(t *testing.T) {
	t.Parallel()
	env := setup(t)
	ctx := context.Background()

	first := env.store(t, database.Media{FilePath: "2019-01/a.jpg"}, "legacy bytes", "")
	second := env.store(t, database.Media{FilePath: "2019-01/b.jpg"}, "legacy bytes", "")

	snap, err := env.regen.Run(ctx, Options{MissingOnly: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := snap.Counters[jobs.CounterBackfilledHashes]; got != 1 {
		t.Errorf("backfilledHashes = %d, want 1", got)
	}

	hashed := 0
	for _, id := range []int64{first, second} {
		m, err := env.db.GetMedia(ctx, id)
		if err != nil {
			t.Fatalf("GetMedia(%d) error = %v", id, err)
		}
		if m.ContentHash != nil {
			hashed++
		}
	}
	if hashed != 1 {
		t.Errorf("records with hash = %d, want 1", hashed)
	}

	legacy, err := env.db.MediaMissingHash(ctx)
	if err != nil {
		t.Fatalf("MediaMissingHash() error = %v", err)
	}
	if len(legacy) != 1 {
		t.Errorf("MediaMissingHash() = %d records, want 1", len(legacy))
	}
}

func TestRunCancel(t *testing.T) {
	t.Parallel()
	env := setup(t)
	env.regen.cfg.Concurrency = 1

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		env.store(t, database.Media{FilePath: "2024-06/" + name + ".jpg"}, name, "hash-"+name)
	}
	env.extractor.onCall = func() { env.regen.state.Cancel() }

	snap, err := env.regen.Run(context.Background(), Options{MissingOnly: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if snap.Status != jobs.StatusCancelled {
		t.Errorf("Status = %v, want %v", snap.Status, jobs.StatusCancelled)
	}
	if snap.Processed >= 5 {
		t.Errorf("Processed = %d, want fewer than 5", snap.Processed)
	}
}

func TestStartIsSingleFlight(t *testing.T) {
	t.Parallel()
	env := setup(t)
	env.regen.state.Start()

	if env.regen.Start(context.Background(), Options{MissingOnly: true}) {
		t.Error("Start() = true while running, want false")
	}
	if _, err := env.regen.Run(context.Background(), Options{}); !errors.Is(err, ErrRegenerationRunning) {
		t.Errorf("Run() error = %v, want ErrRegenerationRunning", err)
	}
}

func TestStartRunsInBackground(t *testing.T) {
	t.Parallel()
	env := setup(t)
	env.store(t, database.Media{FilePath: "2024-06/a.jpg"}, "a", "hash-a")
	env.extractor.md = metadata.Metadata{Width: intPtr(1), Height: intPtr(1)}

	if !env.regen.Start(context.Background(), Options{MissingOnly: true}) {
		t.Fatal("Start() = false, want true")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap, err := env.regen.State().Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if snap.Status != jobs.StatusCompleted || snap.Succeeded != 1 {
		t.Errorf("snapshot = %+v, want completed with 1 success", snap)
	}
}
