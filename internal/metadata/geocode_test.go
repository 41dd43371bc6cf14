package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func newTestGeocoder(t *testing.T, handler http.HandlerFunc) (*Geocoder, *[]time.Duration) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultGeocoderConfig()
	cfg.BaseURL = srv.URL + "/reverse"
	cfg.Timeout = 2 * time.Second
	cfg.RateLimit = 50 * time.Millisecond

	g := NewGeocoder(cfg)

	var mu sync.Mutex
	var sleeps []time.Duration
	g.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		sleeps = append(sleeps, d)
		return nil
	}
	return g, &sleeps
}

func TestGeocoderReverse(t *testing.T) {
	t.Parallel()

	g, sleeps := newTestGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		for key, want := range map[string]string{
			"format":         "json",
			"lat":            "40.7128",
			"lon":            "-74.006",
			"zoom":           "10",
			"addressdetails": "1",
		} {
			if got := q.Get(key); got != want {
				t.Errorf("query %s = %q, want %q", key, got, want)
			}
		}
		if ua := r.Header.Get("User-Agent"); ua != "Momento/1.0 (self-hosted)" {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"address": {"town": "Hoboken", "region": "Jersey", "country": "United States", "place_rank": 16}}`))
	})

	loc, err := g.Reverse(context.Background(), 40.7128, -74.006)
	if err != nil {
		t.Fatalf("Reverse() error = %v", err)
	}
	want := Location{City: "Hoboken", State: "Jersey", Country: "United States"}
	if loc != want {
		t.Errorf("Reverse() = %+v, want %+v", loc, want)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 50*time.Millisecond {
		t.Errorf("post-request sleeps = %v, want [50ms]", *sleeps)
	}
}

func TestGeocoderReverseFailureStillSleeps(t *testing.T) {
	t.Parallel()

	g, sleeps := newTestGeocoder(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})

	if _, err := g.Reverse(context.Background(), 1, 2); err == nil {
		t.Fatal("Reverse() error = nil, want status error")
	}
	if len(*sleeps) != 1 {
		t.Errorf("post-request sleeps = %d, want 1", len(*sleeps))
	}
}

func TestGeocoderReverseNoResult(t *testing.T) {
	t.Parallel()

	g, _ := newTestGeocoder(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error": "Unable to geocode"}`))
	})

	loc, err := g.Reverse(context.Background(), 0, -150)
	if err != nil {
		t.Fatalf("Reverse() error = %v", err)
	}
	if loc != (Location{}) {
		t.Errorf("Reverse() = %+v, want empty", loc)
	}
}

func TestSleepCtxCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := sleepCtx(ctx, time.Minute); err == nil {
		t.Error("sleepCtx() error = nil, want context error")
	}
	if time.Since(start) > time.Second {
		t.Error("sleepCtx() did not return promptly on cancel")
	}
	if err := sleepCtx(context.Background(), 0); err != nil {
		t.Errorf("sleepCtx(0) error = %v", err)
	}
}
