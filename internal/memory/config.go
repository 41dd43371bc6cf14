package memory

import (
	"math"
	"os"
	"runtime/debug"
	"strconv"

	"momento/internal/logging"
)

// DefaultMemoryRatio is the share of the container limit given to the Go
// heap. The remainder is left for exiftool, ffmpeg and libvips, which run
// outside the Go allocator.
const DefaultMemoryRatio = 0.75

// LimitSource identifies where the soft memory limit came from
type LimitSource string

const (
	SourceGoMemLimit  LimitSource = "GOMEMLIMIT"
	SourceMemoryLimit LimitSource = "MEMORY_LIMIT"
	SourceNone        LimitSource = "none"
)

// Limit describes the configured soft memory limit
type Limit struct {
	Source         LimitSource
	ContainerBytes int64
	GoBytes        int64
	Ratio          float64
}

// Configured reports whether a soft limit is in effect
func (l Limit) Configured() bool {
	return l.GoBytes > 0
}

// ConfigureFromEnv sets the Go soft memory limit. Call it early in main.
//
//   - GOMEMLIMIT, when set, is left as is and reported
//   - MEMORY_LIMIT (bytes, e.g. from the Kubernetes downward API) times
//     MEMORY_RATIO (default DefaultMemoryRatio) is applied otherwise
func ConfigureFromEnv() Limit {
	if env := os.Getenv("GOMEMLIMIT"); env != "" {
		limit := debug.SetMemoryLimit(-1)
		if limit <= 0 || limit == math.MaxInt64 {
			return Limit{Source: SourceNone}
		}
		logging.Info("GOMEMLIMIT set via environment: %s", env)
		return Limit{Source: SourceGoMemLimit, GoBytes: limit}
	}

	raw := os.Getenv("MEMORY_LIMIT")
	if raw == "" {
		return Limit{Source: SourceNone}
	}

	containerBytes, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || containerBytes <= 0 {
		logging.Warn("Ignoring invalid MEMORY_LIMIT %q", raw)
		return Limit{Source: SourceNone}
	}

	ratio := DefaultMemoryRatio
	if s := os.Getenv("MEMORY_RATIO"); s != "" {
		parsed, err := strconv.ParseFloat(s, 64)
		switch {
		case err != nil:
			logging.Warn("Failed to parse MEMORY_RATIO %q: %v, using %.2f", s, err, DefaultMemoryRatio)
		case parsed <= 0 || parsed > 1:
			logging.Warn("MEMORY_RATIO %q out of range (0.0-1.0), using %.2f", s, DefaultMemoryRatio)
		default:
			ratio = parsed
		}
	}

	goBytes := int64(float64(containerBytes) * ratio)
	debug.SetMemoryLimit(goBytes)

	logging.Info("Configured GOMEMLIMIT: %s (%.0f%% of %s)", FormatBytes(goBytes), ratio*100, FormatBytes(containerBytes))

	return Limit{
		Source:         SourceMemoryLimit,
		ContainerBytes: containerBytes,
		GoBytes:        goBytes,
		Ratio:          ratio,
	}
}

// FormatBytes renders a byte count with binary units
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(b)/float64(div), 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "iB"
}
