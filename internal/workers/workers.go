package workers

import (
	"os"
	"runtime"
	"strconv"
)

// Count returns a worker count scaled from the CPUs available to the
// process. GOMAXPROCS already reflects container CPU limits.
//
// The multiplier adjusts for task characteristics:
//   - 1.0 for CPU-bound tasks (decoding, thumbnailing)
//   - 2.0 for I/O-bound tasks (directory walking, hashing on network mounts)
//   - 1.5 for mixed tasks
//
// The limit parameter caps the worker count. Use 0 for no limit.
func Count(multiplier float64, limit int) int {
	workers := int(float64(runtime.GOMAXPROCS(0)) * multiplier)

	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}

	return workers
}

// FromEnv returns the positive integer in the named environment variable,
// or Count(multiplier, limit) when it is unset or invalid. An explicit value
// is still capped by limit.
func FromEnv(name string, multiplier float64, limit int) int {
	if override := os.Getenv(name); override != "" {
		if count, err := strconv.Atoi(override); err == nil && count > 0 {
			if limit > 0 && count > limit {
				return limit
			}
			return count
		}
	}
	return Count(multiplier, limit)
}

// ForCPU returns worker count for CPU-bound tasks (1 per CPU).
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO returns worker count for I/O-bound tasks (2 per CPU).
func ForIO(limit int) int {
	return Count(2.0, limit)
}

// ForMixed returns worker count for mixed tasks (1.5 per CPU).
func ForMixed(limit int) int {
	return Count(1.5, limit)
}
