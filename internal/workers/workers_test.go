package workers

import (
	"runtime"
	"testing"
)

func TestCount(t *testing.T) {
	availableCPU := runtime.GOMAXPROCS(0)

	tests := []struct {
		name       string
		multiplier float64
		limit      int
		want       int
	}{
		{"cpu bound", 1.0, 0, availableCPU},
		{"io bound", 2.0, 0, availableCPU * 2},
		{"limit caps", 2.0, 1, 1},
		{"zero multiplier floors at one", 0, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Count(tt.multiplier, tt.limit); got != tt.want {
				t.Errorf("Count(%v, %d) = %d, want %d", tt.multiplier, tt.limit, got, tt.want)
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	const name = "MOMENTO_TEST_WORKERS"

	tests := []struct {
		name  string
		value string
		limit int
		want  int
	}{
		{"explicit value", "3", 0, 3},
		{"explicit value capped", "12", 4, 4},
		{"invalid falls back", "lots", 0, runtime.GOMAXPROCS(0)},
		{"zero falls back", "0", 0, runtime.GOMAXPROCS(0)},
		{"unset falls back", "", 0, runtime.GOMAXPROCS(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(name, tt.value)
			if got := FromEnv(name, 1.0, tt.limit); got != tt.want {
				t.Errorf("FromEnv(%q=%q) = %d, want %d", name, tt.value, got, tt.want)
			}
		})
	}
}

func TestForHelpers(t *testing.T) {
	if ForCPU(0) < 1 || ForIO(0) < ForCPU(0) || ForMixed(0) < ForCPU(0) {
		t.Errorf("ForCPU=%d ForIO=%d ForMixed=%d, want ForIO and ForMixed >= ForCPU >= 1",
			ForCPU(0), ForIO(0), ForMixed(0))
	}
}
