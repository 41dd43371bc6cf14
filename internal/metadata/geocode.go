package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"momento/internal/metrics"
)

// Location is a reverse geocoding result. Empty strings mean unknown.
type Location struct {
	City    string
	State   string
	Country string
}

// ReverseGeocoder resolves coordinates to place names.
type ReverseGeocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (Location, error)
}

// GeocoderConfig configures a Nominatim-compatible endpoint.
type GeocoderConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// RateLimit is the pause after every request. The public Nominatim
	// usage policy allows one request per second.
	RateLimit time.Duration
}

// DefaultGeocoderConfig targets the public Nominatim instance.
func DefaultGeocoderConfig() GeocoderConfig {
	return GeocoderConfig{
		BaseURL:   "https://nominatim.openstreetmap.org/reverse",
		UserAgent: "Momento/1.0 (self-hosted)",
		Timeout:   10 * time.Second,
		RateLimit: time.Second,
	}
}

// Geocoder calls a Nominatim reverse endpoint. A single Geocoder is shared
// by all workers so the rate limit holds process-wide.
type Geocoder struct {
	cfg     GeocoderConfig
	client  *http.Client
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewGeocoder creates a Geocoder.
func NewGeocoder(cfg GeocoderConfig) *Geocoder {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Every(cfg.RateLimit)
	}
	return &Geocoder{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		sleep:   sleepCtx,
	}
}

type nominatimResponse struct {
	Error   string                 `json:"error"`
	Address map[string]interface{} `json:"address"`
}

// Reverse looks up lat/lon. It always pauses for the configured rate
// limit after the request, whether or not the request succeeded.
func (g *Geocoder) Reverse(ctx context.Context, lat, lon float64) (Location, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Location{}, err
	}

	loc, err := g.lookup(ctx, lat, lon)

	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case loc == (Location{}):
		outcome = "empty"
	}
	metrics.GeocodeRequestsTotal.WithLabelValues(outcome).Inc()

	if sleepErr := g.sleep(ctx, g.cfg.RateLimit); sleepErr != nil && err == nil {
		err = sleepErr
	}
	return loc, err
}

func (g *Geocoder) lookup(ctx context.Context, lat, lon float64) (Location, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("zoom", "10")
	q.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Location{}, fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("User-Agent", g.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	metrics.GeocodeRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return Location{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Location{}, fmt.Errorf("geocode request: unexpected status %d", resp.StatusCode)
	}

	var body nominatimResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("decode geocode response: %w", err)
	}
	if body.Error != "" {
		return Location{}, nil
	}

	return Location{
		City:    firstOf(body.Address, "city", "town", "village", "hamlet"),
		State:   firstOf(body.Address, "state", "region", "province"),
		Country: firstOf(body.Address, "country"),
	}, nil
}

func firstOf(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
