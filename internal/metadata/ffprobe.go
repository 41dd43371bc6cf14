package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type ffprobeFormat struct {
	Duration string            `json:"duration"`
	Tags     map[string]string `json:"tags"`
}

// probeResult is the parsed subset of ffprobe output.
type probeResult struct {
	width, height int
	codec         string
	duration      float64
	hasDuration   bool
	capturedAt    *time.Time
	lat, lon, alt *float64
}

func (e *Extractor) probeVideo(ctx context.Context, path string) (probeResult, error) {
	return probe(ctx, e.runner, path)
}

// probe runs ffprobe on path and parses stream and container info.
func probe(ctx context.Context, r CommandRunner, path string) (probeResult, error) {
	out, err := runTool(ctx, r, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return probeResult{}, err
	}
	return parseFFprobeJSON(out)
}

// ProbeDuration returns the container duration in seconds, or 0 when unknown.
func ProbeDuration(ctx context.Context, r CommandRunner, path string) float64 {
	res, err := probe(ctx, r, path)
	if err != nil || !res.hasDuration {
		return 0
	}
	return res.duration
}

func parseFFprobeJSON(data []byte) (probeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return probeResult{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	var res probeResult
	for _, s := range raw.Streams {
		if s.CodecType == "video" {
			res.width, res.height, res.codec = s.Width, s.Height, s.CodecName
			break
		}
	}

	if d, err := strconv.ParseFloat(strings.TrimSpace(raw.Format.Duration), 64); err == nil && d >= 0 {
		res.duration, res.hasDuration = d, true
	}

	tags := lowerKeys(raw.Format.Tags)
	for _, k := range []string{"com.apple.quicktime.creationdate", "creation_time"} {
		if t, ok := parseVideoTime(tags[k]); ok {
			res.capturedAt = &t
			break
		}
	}
	for _, k := range []string{"com.apple.quicktime.location.iso6709", "location", "location-eng"} {
		if lat, lon, alt, ok := ParseISO6709(tags[k]); ok {
			res.lat, res.lon, res.alt = &lat, &lon, alt
			break
		}
	}
	return res, nil
}

func (p probeResult) applyTo(md *Metadata) {
	if p.width > 0 && p.height > 0 {
		w, h := p.width, p.height
		md.Width, md.Height = &w, &h
	}
	if p.codec != "" {
		c := p.codec
		md.VideoCodec = &c
	}
	if p.hasDuration {
		d := p.duration
		md.Duration = &d
	}
	if p.capturedAt != nil {
		md.CapturedAt = p.capturedAt
	}
	if p.lat != nil && p.lon != nil {
		md.Latitude, md.Longitude, md.Altitude = p.lat, p.lon, p.alt
	}
}

func lowerKeys(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[strings.ToLower(k)] = v
	}
	return out
}

var videoTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.000000Z",
	"2006-01-02 15:04:05",
}

func parseVideoTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range videoTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() <= 1970 {
				// Cameras without a clock write the epoch.
				return time.Time{}, false
			}
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseISO6709 parses a location string such as "+40.7128-074.0060/" or
// "+34.0522-118.2437+089.000/". Altitude is optional. The null island
// location 0,0 is rejected.
func ParseISO6709(s string) (lat, lon float64, alt *float64, ok bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "/")
	if len(s) < 2 {
		return 0, 0, nil, false
	}

	parts := splitSigned(s)
	if len(parts) < 2 {
		return 0, 0, nil, false
	}

	var err error
	if lat, err = strconv.ParseFloat(parts[0], 64); err != nil {
		return 0, 0, nil, false
	}
	if lon, err = strconv.ParseFloat(parts[1], 64); err != nil {
		return 0, 0, nil, false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, nil, false
	}
	// 0,0 is what devices write when they have no fix.
	if lat == 0 && lon == 0 {
		return 0, 0, nil, false
	}
	if len(parts) > 2 {
		if a, err := strconv.ParseFloat(parts[2], 64); err == nil {
			alt = &a
		}
	}
	return lat, lon, alt, true
}

// splitSigned splits at every '+' or '-' that starts a new component.
func splitSigned(s string) []string {
	var parts []string
	start := 0
	for i := 1; i < len(s); i++ {
		if s[i] == '+' || s[i] == '-' {
			parts = append(parts, s[start:i])
			start = i
		}
	}
	return append(parts, s[start:])
}
