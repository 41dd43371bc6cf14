package metadata

import (
	"context"
	"image"
	"os"
	"time"

	// Decoders for dimension fallback.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"momento/internal/logging"
	"momento/internal/mediatypes"
)

var log = logging.ForComponent("metadata")

// Metadata is everything extracted from one file. Unknown values are nil.
type Metadata struct {
	MimeType        string
	Width           *int
	Height          *int
	Duration        *float64
	CapturedAt      *time.Time
	Latitude        *float64
	Longitude       *float64
	Altitude        *float64
	City            *string
	State           *string
	Country         *string
	CameraMake      *string
	CameraModel     *string
	LensMake        *string
	LensModel       *string
	ISO             *int
	ExposureTime    *string
	FNumber         *float64
	FocalLength     *float64
	FocalLength35mm *int
	VideoCodec      *string
	Keywords        *string
}

// HasLocation reports whether both coordinates were found.
func (m *Metadata) HasLocation() bool {
	return m.Latitude != nil && m.Longitude != nil
}

// Extractor reads metadata with exiftool and ffprobe. Missing tools or
// unparsable output degrade to fewer fields, never to an error.
type Extractor struct {
	runner   CommandRunner
	geocoder ReverseGeocoder
	now      func() time.Time
}

// NewExtractor creates an Extractor. geocoder may be nil to disable
// reverse geocoding.
func NewExtractor(runner CommandRunner, geocoder ReverseGeocoder) *Extractor {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Extractor{
		runner:   runner,
		geocoder: geocoder,
		now:      time.Now,
	}
}

// Extract reads metadata from path. The capture time is always set:
// embedded tags first, then file modification time, then now.
func (e *Extractor) Extract(ctx context.Context, path string, kind mediatypes.Kind) Metadata {
	md := Metadata{MimeType: mediatypes.MimeType(path)}

	switch kind {
	case mediatypes.KindVideo:
		if probe, err := e.probeVideo(ctx, path); err != nil {
			log.Debug("ffprobe failed for %s: %v", path, err)
		} else {
			probe.applyTo(&md)
		}
		// Camera fields and GPS for videos usually only show up in exiftool.
		if exif, err := e.readExif(ctx, path); err == nil {
			exif.mergeMissing(&md)
		}
	default:
		if exif, err := e.readExif(ctx, path); err != nil {
			log.Debug("exiftool failed for %s: %v", path, err)
		} else {
			exif.applyTo(&md)
		}
		if md.Width == nil || md.Height == nil {
			if w, h, err := decodeDimensions(path); err == nil {
				md.Width, md.Height = &w, &h
			}
		}
	}

	if md.CapturedAt == nil {
		md.CapturedAt = e.fallbackTime(path)
	}

	if md.HasLocation() && e.geocoder != nil {
		e.geocode(ctx, path, &md)
	}

	return md
}

func (e *Extractor) fallbackTime(path string) *time.Time {
	if info, err := os.Stat(path); err == nil {
		t := info.ModTime().UTC()
		return &t
	}
	t := e.now().UTC()
	return &t
}

// geocode fills location names that extraction left empty.
func (e *Extractor) geocode(ctx context.Context, path string, md *Metadata) {
	if md.State != nil && md.Country != nil {
		return
	}

	loc, err := e.geocoder.Reverse(ctx, *md.Latitude, *md.Longitude)
	if err != nil {
		log.Warn("Reverse geocoding failed for %s: %v", path, err)
		return
	}

	fill := func(dst **string, v string) {
		if *dst == nil && v != "" {
			s := v
			*dst = &s
		}
	}
	fill(&md.City, loc.City)
	fill(&md.State, loc.State)
	fill(&md.Country, loc.Country)
}

// decodeDimensions reads only the image header.
func decodeDimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
