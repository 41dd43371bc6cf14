package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"momento/internal/database"
	"momento/internal/geo"
	"momento/internal/media"
	"momento/internal/mediatypes"
	"momento/internal/metadata"
)

type fakeExtractor struct {
	captured time.Time
	lat, lon *float64
	keywords *string
	delay    time.Duration
	onCall   func()

	calls    atomic.Int64
	inFlight atomic.Int64
	mu       sync.Mutex
	peak     int64
}

func (f *fakeExtractor) Extract(ctx context.Context, path string, kind mediatypes.Kind) metadata.Metadata {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)

	f.mu.Lock()
	if n > f.peak {
		f.peak = n
	}
	f.mu.Unlock()

	if f.onCall != nil {
		f.onCall()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	captured := f.captured
	w, h := 640, 480
	return metadata.Metadata{
		MimeType:   mediatypes.MimeType(path),
		Width:      &w,
		Height:     &h,
		CapturedAt: &captured,
		Latitude:   f.lat,
		Longitude:  f.lon,
		Keywords:   f.keywords,
	}
}

func (f *fakeExtractor) maxInFlight() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

type fakeThumbnailer struct {
	fail bool
}

func (f *fakeThumbnailer) Generate(ctx context.Context, originalPath, relPath string, kind mediatypes.Kind) media.Result {
	if f.fail {
		err := errors.New("render failed")
		return media.Result{Normal: media.Outcome{Err: err}, Tiny: media.Outcome{Err: err}}
	}
	rel := media.ThumbnailRelPath(relPath)
	return media.Result{Normal: media.Outcome{RelPath: rel}, Tiny: media.Outcome{RelPath: rel}}
}

type testEnv struct {
	db        *database.Database
	pipeline  *Pipeline
	extractor *fakeExtractor
	originals string
	sources   string
}

func setupPipeline(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	db, err := database.New(context.Background(), filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	extractor := &fakeExtractor{captured: time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)}
	originals := filepath.Join(dir, "originals")
	sources := filepath.Join(dir, "sources")
	if err := os.MkdirAll(sources, 0o755); err != nil {
		t.Fatal(err)
	}

	return &testEnv{
		db:        db,
		pipeline:  NewPipeline(db, extractor, &fakeThumbnailer{}, originals),
		extractor: extractor,
		originals: originals,
		sources:   sources,
	}
}

func (e *testEnv) user(t *testing.T, name string) int64 {
	t.Helper()
	u, err := e.db.CreateUser(context.Background(), name)
	if err != nil {
		t.Fatalf("CreateUser(%q) error = %v", name, err)
	}
	return u.ID
}

func (e *testEnv) writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.sources, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	return n
}

func TestProcessFileCreatesRecord(t *testing.T) {
	t.Parallel()
	env := setupPipeline(t)
	lat, lon, kw := 48.8584, 2.2945, "paris, tower"
	env.extractor.lat, env.extractor.lon, env.extractor.keywords = &lat, &lon, &kw
	alice := env.user(t, "alice")
	ctx := context.Background()

	src := env.writeSource(t, "IMG_0001.JPG", "first image")
	res, err := env.pipeline.ProcessFile(ctx, FileRequest{Path: src, UserID: alice})
	if err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}
	if res.Outcome != OutcomeCreated {
		t.Errorf("Outcome = %v, want %v", res.Outcome, OutcomeCreated)
	}

	m, err := env.db.GetMedia(ctx, res.MediaID)
	if err != nil {
		t.Fatalf("GetMedia() error = %v", err)
	}

	pattern := regexp.MustCompile(`^2024-06/20240615_103000_[0-9a-f]{12}\.jpg$`)
	if !pattern.MatchString(filepath.ToSlash(m.FilePath)) {
		t.Errorf("FilePath = %q, want match %s", m.FilePath, pattern)
	}
	if m.OriginalFilename != "IMG_0001.JPG" {
		t.Errorf("OriginalFilename = %q, want IMG_0001.JPG", m.OriginalFilename)
	}
	if m.Geohash == nil || len(*m.Geohash) != 7 {
		t.Errorf("Geohash = %v, want 7 characters", m.Geohash)
	}
	if m.ThumbnailPath == nil || m.TinyThumbnail == nil {
		t.Errorf("thumbnails = %v/%v, want both set", m.ThumbnailPath, m.TinyThumbnail)
	}

	stored, err := os.ReadFile(filepath.Join(env.originals, m.FilePath))
	if err != nil {
		t.Fatalf("stored original missing: %v", err)
	}
	if string(stored) != "first image" {
		t.Errorf("stored content = %q, want %q", stored, "first image")
	}

	tags, err := env.db.TagsForMedia(ctx, res.MediaID)
	if err != nil {
		t.Fatalf("TagsForMedia() error = %v", err)
	}
	if len(tags) != 2 {
		t.Errorf("tags = %v, want 2", tags)
	}

	hits, err := env.db.QueryBox(ctx, geo.Bounds{North: 49, South: 48, East: 3, West: 2})
	if err != nil {
		t.Fatalf("QueryBox() error = %v", err)
	}
	if len(hits) != 1 || hits[0].ID != res.MediaID {
		t.Errorf("QueryBox() = %v, want [%d]", hits, res.MediaID)
	}
}

func TestProcessFileDeduplicates(t *testing.T) {
	t.Parallel()
	env := setupPipeline(t)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	ctx := context.Background()

	first := env.writeSource(t, "a.jpg", "same bytes")
	second := env.writeSource(t, "b.jpg", "same bytes")

	created, err := env.pipeline.ProcessFile(ctx, FileRequest{Path: first, UserID: alice})
	if err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}

	steps := []struct {
		name   string
		path   string
		userID int64
		before func()
		want   Outcome
	}{
		{name: "same user", path: second, userID: alice, want: OutcomeExisting},
		{name: "other user", path: second, userID: bob, want: OutcomeGranted},
		{
			name:   "after trash",
			path:   first,
			userID: alice,
			before: func() {
				if err := env.db.SoftDelete(ctx, created.MediaID, alice, time.Now()); err != nil {
					t.Fatalf("SoftDelete() error = %v", err)
				}
			},
			want: OutcomeRestored,
		},
	}

	for _, step := range steps {
		if step.before != nil {
			step.before()
		}
		res, err := env.pipeline.ProcessFile(ctx, FileRequest{Path: step.path, UserID: step.userID})
		if err != nil {
			t.Fatalf("%s: ProcessFile() error = %v", step.name, err)
		}
		if res.Outcome != step.want {
			t.Errorf("%s: Outcome = %v, want %v", step.name, res.Outcome, step.want)
		}
		if res.MediaID != created.MediaID {
			t.Errorf("%s: MediaID = %d, want %d", step.name, res.MediaID, created.MediaID)
		}
	}

	if n := env.extractor.calls.Load(); n != 1 {
		t.Errorf("Extract calls = %d, want 1", n)
	}
	if n := countFiles(t, env.originals); n != 1 {
		t.Errorf("stored originals = %d, want 1", n)
	}
}

func TestProcessFileRecreatesPurgedRecord(t *testing.T) {
	t.Parallel()
	env := setupPipeline(t)
	alice := env.user(t, "alice")
	ctx := context.Background()

	path := env.writeSource(t, "a.jpg", "purged bytes")
	first, err := env.pipeline.ProcessFile(ctx, FileRequest{Path: path, UserID: alice})
	if err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}
	if err := env.db.SoftDelete(ctx, first.MediaID, alice, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}

	// The trash purge lands after the hash lookup found the old record.
	env.pipeline.afterLookup = func(mediaID int64) {
		if mediaID != first.MediaID {
			t.Errorf("lookup hit %d, want %d", mediaID, first.MediaID)
		}
		res, err := env.db.PurgeExpiredTrash(ctx, time.Now())
		if err != nil {
			t.Errorf("PurgeExpiredTrash() error = %v", err)
		}
		if len(res.Orphans) != 1 {
			t.Errorf("purged %d orphans, want 1", len(res.Orphans))
		}
	}

	again, err := env.pipeline.ProcessFile(ctx, FileRequest{Path: path, UserID: alice})
	if err != nil {
		t.Fatalf("ProcessFile() after purge error = %v", err)
	}
	if again.Outcome != OutcomeCreated {
		t.Errorf("Outcome = %v, want %v", again.Outcome, OutcomeCreated)
	}
	if again.MediaID == first.MediaID {
		t.Errorf("MediaID = %d, want a new record", again.MediaID)
	}
	live, err := env.db.HasLiveGrant(ctx, again.MediaID, alice)
	if err != nil {
		t.Fatalf("HasLiveGrant() error = %v", err)
	}
	if !live {
		t.Error("HasLiveGrant() = false, want true")
	}
}

func TestProcessFileConcurrentSameContent(t *testing.T) {
	t.Parallel()
	env := setupPipeline(t)
	env.extractor.delay = 20 * time.Millisecond
	alice := env.user(t, "alice")
	ctx := context.Background()

	const copies = 4
	paths := make([]string, copies)
	for i := range paths {
		paths[i] = env.writeSource(t, filepath.Join("dup", string(rune('a'+i))+".jpg"), "racing bytes")
	}

	var wg sync.WaitGroup
	results := make([]Result, copies)
	errs := make([]error, copies)
	for i, p := range paths {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			results[i], errs[i] = env.pipeline.ProcessFile(ctx, FileRequest{Path: p, UserID: alice})
		}(i, p)
	}
	wg.Wait()

	created := 0
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("ProcessFile(%d) error = %v", i, errs[i])
		}
		if results[i].Outcome == OutcomeCreated {
			created++
		}
		if results[i].MediaID != results[0].MediaID {
			t.Errorf("MediaID[%d] = %d, want %d", i, results[i].MediaID, results[0].MediaID)
		}
	}
	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
	if n := countFiles(t, env.originals); n != 1 {
		t.Errorf("stored originals = %d, want 1", n)
	}
}

func TestProcessFileErrors(t *testing.T) {
	t.Parallel()
	env := setupPipeline(t)
	alice := env.user(t, "alice")
	ctx := context.Background()

	unsupported := env.writeSource(t, "notes.txt", "text")
	if _, err := env.pipeline.ProcessFile(ctx, FileRequest{Path: unsupported, UserID: alice}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("ProcessFile(txt) error = %v, want ErrUnsupportedType", err)
	}

	missing := filepath.Join(env.sources, "missing.jpg")
	if _, err := env.pipeline.ProcessFile(ctx, FileRequest{Path: missing, UserID: alice}); err == nil {
		t.Error("ProcessFile(missing) error = nil, want error")
	}

	// Unknown user violates the grant foreign key, so the copy is rolled back.
	src := env.writeSource(t, "orphan.jpg", "orphan")
	if _, err := env.pipeline.ProcessFile(ctx, FileRequest{Path: src, UserID: 9999}); err == nil {
		t.Error("ProcessFile(unknown user) error = nil, want error")
	}
	if n := countFiles(t, env.originals); n != 0 {
		t.Errorf("stored originals after failed insert = %d, want 0", n)
	}
}

func TestProcessFileThumbnailFailureKeepsRecord(t *testing.T) {
	t.Parallel()
	env := setupPipeline(t)
	env.pipeline.thumbnails = &fakeThumbnailer{fail: true}
	alice := env.user(t, "alice")
	ctx := context.Background()

	src := env.writeSource(t, "clip.mp4", "video bytes")
	res, err := env.pipeline.ProcessFile(ctx, FileRequest{Path: src, UserID: alice})
	if err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}

	m, err := env.db.GetMedia(ctx, res.MediaID)
	if err != nil {
		t.Fatalf("GetMedia() error = %v", err)
	}
	if m.ThumbnailPath != nil {
		t.Errorf("ThumbnailPath = %q, want nil", *m.ThumbnailPath)
	}
	if m.MediaType != string(mediatypes.KindVideo) {
		t.Errorf("MediaType = %q, want video", m.MediaType)
	}
}
