package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"momento/internal/geo"
)

// exifFields is one exiftool -json -n record. With -n, numeric tags come
// back as numbers, but some files still produce strings.
type exifFields map[string]interface{}

func (e *Extractor) readExif(ctx context.Context, path string) (exifFields, error) {
	out, err := runTool(ctx, e.runner, "exiftool", "-json", "-n", path)
	if err != nil {
		return nil, err
	}
	return parseExifJSON(out)
}

func parseExifJSON(data []byte) (exifFields, error) {
	var records []exifFields
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode exiftool output: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("exiftool returned no records")
	}
	return records[0], nil
}

func (f exifFields) str(keys ...string) *string {
	for _, k := range keys {
		switch v := f[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return &s
			}
		case float64:
			s := strconv.FormatFloat(v, 'f', -1, 64)
			return &s
		}
	}
	return nil
}

func (f exifFields) num(keys ...string) *float64 {
	for _, k := range keys {
		switch v := f[k].(type) {
		case float64:
			return &v
		case string:
			if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return &n
			}
		}
	}
	return nil
}

func (f exifFields) integer(keys ...string) *int {
	if n := f.num(keys...); n != nil {
		i := int(math.Round(*n))
		return &i
	}
	return nil
}

func (f exifFields) captureTime() *time.Time {
	for _, k := range []string{"DateTimeOriginal", "CreateDate", "MediaCreateDate"} {
		if s := f.str(k); s != nil {
			if t, ok := parseExifTime(*s); ok {
				return &t
			}
		}
	}
	return nil
}

// keywords joins Keywords (string or list) and Subject with commas.
func (f exifFields) keywords() *string {
	for _, k := range []string{"Keywords", "Subject"} {
		switch v := f[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return &s
			}
		case float64:
			s := strconv.FormatFloat(v, 'f', -1, 64)
			return &s
		case []interface{}:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				switch iv := item.(type) {
				case string:
					if s := strings.TrimSpace(iv); s != "" {
						parts = append(parts, s)
					}
				case float64:
					parts = append(parts, strconv.FormatFloat(iv, 'f', -1, 64))
				}
			}
			if len(parts) > 0 {
				s := strings.Join(parts, ",")
				return &s
			}
		}
	}
	return nil
}

// applyTo overwrites md with every field exiftool reported.
func (f exifFields) applyTo(md *Metadata) {
	if v := f.integer("ImageWidth", "ExifImageWidth"); v != nil {
		md.Width = v
	}
	if v := f.integer("ImageHeight", "ExifImageHeight"); v != nil {
		md.Height = v
	}
	if v := f.captureTime(); v != nil {
		md.CapturedAt = v
	}

	lat, lon := f.num("GPSLatitude"), f.num("GPSLongitude")
	if lat != nil && lon != nil && geo.ValidCoordinate(*lat, *lon) && !(*lat == 0 && *lon == 0) {
		md.Latitude, md.Longitude = lat, lon
		md.Altitude = f.num("GPSAltitude")
	}

	md.CameraMake = f.str("Make")
	md.CameraModel = f.str("Model")
	md.LensMake = f.str("LensMake")
	md.LensModel = f.str("LensModel", "Lens", "LensID")
	md.ISO = f.integer("ISO")
	md.ExposureTime = formatExposure(f.num("ExposureTime"))
	md.FNumber = f.num("FNumber")
	md.FocalLength = f.num("FocalLength")
	md.FocalLength35mm = f.integer("FocalLengthIn35mmFormat")
	md.Keywords = f.keywords()
	if v := f.str("MIMEType"); v != nil && md.MimeType == "application/octet-stream" {
		md.MimeType = *v
	}
}

// mergeMissing fills only fields md does not already have. Used after
// ffprobe on videos.
func (f exifFields) mergeMissing(md *Metadata) {
	var extra Metadata
	f.applyTo(&extra)

	setStr := func(dst **string, v *string) {
		if *dst == nil {
			*dst = v
		}
	}
	setStr(&md.CameraMake, extra.CameraMake)
	setStr(&md.CameraModel, extra.CameraModel)
	setStr(&md.LensMake, extra.LensMake)
	setStr(&md.LensModel, extra.LensModel)
	setStr(&md.Keywords, extra.Keywords)

	if md.CapturedAt == nil {
		md.CapturedAt = extra.CapturedAt
	}
	if !md.HasLocation() && extra.HasLocation() {
		md.Latitude, md.Longitude, md.Altitude = extra.Latitude, extra.Longitude, extra.Altitude
	}
	if md.Width == nil {
		md.Width = extra.Width
	}
	if md.Height == nil {
		md.Height = extra.Height
	}
}

// formatExposure renders sub-second exposures as a fraction, e.g. 0.004 -> "1/250".
func formatExposure(v *float64) *string {
	if v == nil || *v <= 0 {
		return nil
	}
	var s string
	if *v < 1 {
		s = fmt.Sprintf("1/%d", int(math.Round(1 / *v)))
	} else {
		s = strconv.FormatFloat(*v, 'f', -1, 64)
	}
	return &s
}

var exifTimeLayouts = []string{
	"2006:01:02 15:04:05",
	"2006-01-02 15:04:05",
	"2006:01:02",
	"2006-01-02",
}

// parseExifTime accepts the common EXIF layouts. Trailing sub-seconds or
// zone offsets are ignored and the result is treated as UTC.
func parseExifTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) > 19 {
		s = s[:19]
	}
	if strings.HasPrefix(s, "0000") {
		return time.Time{}, false
	}
	for _, layout := range exifTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
