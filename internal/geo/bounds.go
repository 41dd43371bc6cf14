package geo

import (
	"errors"
	"fmt"
)

// ErrInvalidBounds is returned by Bounds.Validate
var ErrInvalidBounds = errors.New("invalid bounds")

// Bounds is a map viewport. West may be greater than East when the viewport
// crosses the antimeridian.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Validate checks ranges and that South is not above North.
func (b Bounds) Validate() error {
	if b.South < -90 || b.North > 90 || b.South > b.North {
		return fmt.Errorf("%w: latitude %v..%v", ErrInvalidBounds, b.South, b.North)
	}
	if b.West < -180 || b.West > 180 || b.East < -180 || b.East > 180 {
		return fmt.Errorf("%w: longitude %v..%v", ErrInvalidBounds, b.West, b.East)
	}
	return nil
}

// CrossesAntimeridian reports whether the longitude range wraps past 180.
func (b Bounds) CrossesAntimeridian() bool {
	return b.West > b.East
}

// LonRange is an inclusive longitude interval that does not wrap.
type LonRange struct {
	Min, Max float64
}

// LonRanges splits the longitude span into non-wrapping intervals: one
// normally, two when crossing the antimeridian.
func (b Bounds) LonRanges() []LonRange {
	if b.CrossesAntimeridian() {
		return []LonRange{{Min: b.West, Max: 180}, {Min: -180, Max: b.East}}
	}
	return []LonRange{{Min: b.West, Max: b.East}}
}

// Contains reports whether the point lies inside the bounds (edges included).
func (b Bounds) Contains(lat, lon float64) bool {
	if lat < b.South || lat > b.North {
		return false
	}
	for _, r := range b.LonRanges() {
		if lon >= r.Min && lon <= r.Max {
			return true
		}
	}
	return false
}

// World covers every coordinate.
func World() Bounds {
	return Bounds{North: 90, South: -90, East: 180, West: -180}
}

// Cluster is one aggregated map marker.
type Cluster struct {
	CellID           string  `json:"cellId"`
	CenterLat        float64 `json:"centerLat"`
	CenterLon        float64 `json:"centerLon"`
	Count            int     `json:"count"`
	RepresentativeID int64   `json:"representativeId"`
}
