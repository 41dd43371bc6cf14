package metadata

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"momento/internal/mediatypes"
)

type fakeResult struct {
	out []byte
	err error
}

// fakeRunner returns canned output per tool name and records calls.
type fakeRunner struct {
	mu      sync.Mutex
	results map[string]fakeResult
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, name string, _ ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	r, ok := f.results[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolMissing, name)
	}
	return r.out, r.err
}

type fakeGeocoder struct {
	loc   Location
	err   error
	calls int
}

func (f *fakeGeocoder) Reverse(context.Context, float64, float64) (Location, error) {
	f.calls++
	return f.loc, f.err
}

func writeFile(t *testing.T, name string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("not really media"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return path
}

const exifJSON = `[{
	"SourceFile": "x.jpg",
	"ImageWidth": 4032,
	"ImageHeight": 3024,
	"DateTimeOriginal": "2024:06:15 10:30:00",
	"GPSLatitude": 40.7128,
	"GPSLongitude": -74.006,
	"GPSAltitude": 10.5,
	"Make": "Apple",
	"Model": "iPhone 15 Pro",
	"LensModel": "iPhone 15 Pro back camera",
	"ISO": 64,
	"ExposureTime": 0.004,
	"FNumber": 1.78,
	"FocalLength": 6.86,
	"FocalLengthIn35mmFormat": 24,
	"Keywords": ["beach", "summer"]
}]`

func TestExtractImage(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "x.jpg", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	runner := &fakeRunner{results: map[string]fakeResult{"exiftool": {out: []byte(exifJSON)}}}
	geo := &fakeGeocoder{loc: Location{City: "New York", State: "New York", Country: "United States"}}

	md := NewExtractor(runner, geo).Extract(context.Background(), path, mediatypes.KindImage)

	if md.MimeType != "image/jpeg" {
		t.Errorf("MimeType = %q, want image/jpeg", md.MimeType)
	}
	if md.Width == nil || *md.Width != 4032 || md.Height == nil || *md.Height != 3024 {
		t.Errorf("dimensions = %v x %v, want 4032 x 3024", md.Width, md.Height)
	}
	want := time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)
	if md.CapturedAt == nil || !md.CapturedAt.Equal(want) {
		t.Errorf("CapturedAt = %v, want %v", md.CapturedAt, want)
	}
	if !md.HasLocation() || *md.Latitude != 40.7128 || *md.Longitude != -74.006 {
		t.Errorf("location = %v,%v, want 40.7128,-74.006", md.Latitude, md.Longitude)
	}
	if md.ExposureTime == nil || *md.ExposureTime != "1/250" {
		t.Errorf("ExposureTime = %v, want 1/250", md.ExposureTime)
	}
	if md.ISO == nil || *md.ISO != 64 {
		t.Errorf("ISO = %v, want 64", md.ISO)
	}
	if md.FocalLength35mm == nil || *md.FocalLength35mm != 24 {
		t.Errorf("FocalLength35mm = %v, want 24", md.FocalLength35mm)
	}
	if md.Keywords == nil || *md.Keywords != "beach,summer" {
		t.Errorf("Keywords = %v, want beach,summer", md.Keywords)
	}
	if md.City == nil || *md.City != "New York" || md.Country == nil || *md.Country != "United States" {
		t.Errorf("geocoded location = %v/%v, want New York/United States", md.City, md.Country)
	}
	if geo.calls != 1 {
		t.Errorf("geocoder calls = %d, want 1", geo.calls)
	}
}

func TestExtractFallsBackToModTime(t *testing.T) {
	t.Parallel()

	mtime := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	path := writeFile(t, "broken.jpg", mtime)
	runner := &fakeRunner{results: map[string]fakeResult{}}
	geo := &fakeGeocoder{}

	md := NewExtractor(runner, geo).Extract(context.Background(), path, mediatypes.KindImage)

	if md.CapturedAt == nil || !md.CapturedAt.Equal(mtime) {
		t.Errorf("CapturedAt = %v, want %v", md.CapturedAt, mtime)
	}
	if md.Width != nil || md.HasLocation() {
		t.Errorf("unexpected fields on unreadable file: %+v", md)
	}
	if geo.calls != 0 {
		t.Errorf("geocoder calls = %d, want 0 without GPS", geo.calls)
	}
}

func TestExtractFallsBackToNow(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	e := NewExtractor(&fakeRunner{results: map[string]fakeResult{}}, nil)
	e.now = func() time.Time { return now }

	md := e.Extract(context.Background(), filepath.Join(t.TempDir(), "gone.jpg"), mediatypes.KindImage)
	if md.CapturedAt == nil || !md.CapturedAt.Equal(now) {
		t.Errorf("CapturedAt = %v, want %v", md.CapturedAt, now)
	}
}

func TestExtractImageDecodesDimensions(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "small.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 30, 20))); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	md := NewExtractor(&fakeRunner{results: map[string]fakeResult{}}, nil).
		Extract(context.Background(), path, mediatypes.KindImage)

	if md.Width == nil || *md.Width != 30 || md.Height == nil || *md.Height != 20 {
		t.Errorf("dimensions = %v x %v, want 30 x 20", md.Width, md.Height)
	}
}

const ffprobeJSON = `{
	"streams": [
		{"codec_type": "audio", "codec_name": "aac"},
		{"codec_type": "video", "codec_name": "hevc", "width": 1920, "height": 1080}
	],
	"format": {
		"duration": "12.345",
		"tags": {
			"creation_time": "2024-06-15T10:30:00.000000Z",
			"com.apple.quicktime.location.ISO6709": "+40.7128-074.0060+010.000/"
		}
	}
}`

func TestExtractVideo(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "clip.mov", time.Now())
	runner := &fakeRunner{results: map[string]fakeResult{
		"ffprobe":  {out: []byte(ffprobeJSON)},
		"exiftool": {out: []byte(`[{"Make": "Apple", "Model": "iPhone", "GPSLatitude": 1, "GPSLongitude": 1}]`)},
	}}

	md := NewExtractor(runner, nil).Extract(context.Background(), path, mediatypes.KindVideo)

	if md.MimeType != "video/quicktime" {
		t.Errorf("MimeType = %q, want video/quicktime", md.MimeType)
	}
	if md.Width == nil || *md.Width != 1920 || md.Height == nil || *md.Height != 1080 {
		t.Errorf("dimensions = %v x %v, want 1920 x 1080", md.Width, md.Height)
	}
	if md.VideoCodec == nil || *md.VideoCodec != "hevc" {
		t.Errorf("VideoCodec = %v, want hevc", md.VideoCodec)
	}
	if md.Duration == nil || *md.Duration != 12.345 {
		t.Errorf("Duration = %v, want 12.345", md.Duration)
	}
	want := time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)
	if md.CapturedAt == nil || !md.CapturedAt.Equal(want) {
		t.Errorf("CapturedAt = %v, want %v", md.CapturedAt, want)
	}
	// ffprobe location wins over exiftool's.
	if !md.HasLocation() || *md.Latitude != 40.7128 || *md.Longitude != -74.006 {
		t.Errorf("location = %v,%v, want 40.7128,-74.006", md.Latitude, md.Longitude)
	}
	if md.CameraMake == nil || *md.CameraMake != "Apple" {
		t.Errorf("CameraMake = %v, want Apple from exiftool", md.CameraMake)
	}
}

func TestExtractVideoWithoutTools(t *testing.T) {
	t.Parallel()

	mtime := time.Date(2022, 2, 2, 2, 2, 2, 0, time.UTC)
	path := writeFile(t, "clip.mp4", mtime)
	runner := &fakeRunner{results: map[string]fakeResult{
		"ffprobe": {err: errors.New("exit status 1")},
	}}

	md := NewExtractor(runner, nil).Extract(context.Background(), path, mediatypes.KindVideo)
	if md.CapturedAt == nil || !md.CapturedAt.Equal(mtime) {
		t.Errorf("CapturedAt = %v, want %v", md.CapturedAt, mtime)
	}
	if md.Duration != nil {
		t.Errorf("Duration = %v, want nil", *md.Duration)
	}
}

func TestGeocodeOnlyFillsEmptyFields(t *testing.T) {
	t.Parallel()

	existing := "Manhattan"
	lat, lon := 40.7, -74.0
	md := Metadata{City: &existing, Latitude: &lat, Longitude: &lon}
	geo := &fakeGeocoder{loc: Location{City: "New York", State: "NY", Country: "US"}}

	e := NewExtractor(&fakeRunner{}, geo)
	e.geocode(context.Background(), "x.jpg", &md)

	if *md.City != "Manhattan" {
		t.Errorf("City = %q, want embedded value kept", *md.City)
	}
	if md.State == nil || *md.State != "NY" {
		t.Errorf("State = %v, want NY", md.State)
	}

	geo.err = errors.New("offline")
	md2 := Metadata{Latitude: &lat, Longitude: &lon}
	e.geocode(context.Background(), "y.jpg", &md2)
	if md2.City != nil || md2.Country != nil {
		t.Errorf("geocode failure filled fields: %+v", md2)
	}
}

func TestFormatExposure(t *testing.T) {
	t.Parallel()

	f := func(v float64) *float64 { return &v }
	tests := []struct {
		in   *float64
		want string
	}{
		{f(0.004), "1/250"},
		{f(0.5), "1/2"},
		{f(1.0 / 3), "1/3"},
		{f(2), "2"},
		{f(1.5), "1.5"},
		{f(0), ""},
		{nil, ""},
	}

	for _, tt := range tests {
		got := formatExposure(tt.in)
		gotStr := ""
		if got != nil {
			gotStr = *got
		}
		if gotStr != tt.want {
			t.Errorf("formatExposure(%v) = %q, want %q", tt.in, gotStr, tt.want)
		}
	}
}

func TestParseExifTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   time.Time
		wantOK bool
	}{
		{"2024:06:15 10:30:00", time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC), true},
		{"2024-06-15 10:30:00", time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC), true},
		{"2024:06:15 10:30:00+02:00", time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC), true},
		{"2024:06:15", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), true},
		{"2024-06-15", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), true},
		{"0000:00:00 00:00:00", time.Time{}, false},
		{"yesterday", time.Time{}, false},
	}

	for _, tt := range tests {
		got, ok := parseExifTime(tt.in)
		if ok != tt.wantOK || !got.Equal(tt.want) {
			t.Errorf("parseExifTime(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseISO6709(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		lat, lon float64
		hasAlt   bool
		ok       bool
	}{
		{"+40.7128-074.0060/", 40.7128, -74.006, false, true},
		{"-33.8688+151.2093+025.000/", -33.8688, 151.2093, true, true},
		{"+48.8566+002.3522", 48.8566, 2.3522, false, true},
		{"+40.7128", 0, 0, false, false},
		{"", 0, 0, false, false},
		{"+95.0000+010.0000/", 0, 0, false, false},
		{"+00.0000+000.0000/", 0, 0, false, false},
		{"+00.0000+000.0000+010.000/", 0, 0, false, false},
		{"+00.0000+010.0000/", 0, 10, false, true},
	}

	for _, tt := range tests {
		lat, lon, alt, ok := ParseISO6709(tt.in)
		if ok != tt.ok {
			t.Errorf("ParseISO6709(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if lat != tt.lat || lon != tt.lon {
			t.Errorf("ParseISO6709(%q) = %v,%v, want %v,%v", tt.in, lat, lon, tt.lat, tt.lon)
		}
		if (alt != nil) != tt.hasAlt {
			t.Errorf("ParseISO6709(%q) altitude = %v, want present=%v", tt.in, alt, tt.hasAlt)
		}
	}
}

func TestParseExifJSONErrors(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "[]", "{", `{"a":1}`} {
		if _, err := parseExifJSON([]byte(in)); err == nil {
			t.Errorf("parseExifJSON(%q) error = nil, want error", in)
		}
	}
}

func TestProbeDuration(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{results: map[string]fakeResult{"ffprobe": {out: []byte(ffprobeJSON)}}}
	if got := ProbeDuration(context.Background(), runner, "clip.mov"); got != 12.345 {
		t.Errorf("ProbeDuration() = %v, want 12.345", got)
	}

	missing := &fakeRunner{results: map[string]fakeResult{}}
	if got := ProbeDuration(context.Background(), missing, "clip.mov"); got != 0 {
		t.Errorf("ProbeDuration() without ffprobe = %v, want 0", got)
	}
}
