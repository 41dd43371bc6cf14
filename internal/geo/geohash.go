package geo

import "strings"

// StoredPrecision is the geohash length persisted on every geotagged record.
// Shorter prefixes of it serve all coarser zoom levels.
const StoredPrecision = 7

const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// Encode returns the standard geohash of (lat, lon) with the given number of
// characters. Bits alternate longitude first. Out-of-range inputs are clamped.
func Encode(lat, lon float64, precision int) string {
	if precision <= 0 {
		return ""
	}
	lat = clamp(lat, -90, 90)
	lon = clamp(lon, -180, 180)

	latLo, latHi := -90.0, 90.0
	lonLo, lonHi := -180.0, 180.0

	var sb strings.Builder
	sb.Grow(precision)

	evenBit := true
	bit, ch := 0, 0
	for sb.Len() < precision {
		if evenBit {
			mid := (lonLo + lonHi) / 2
			if lon >= mid {
				ch = ch<<1 | 1
				lonLo = mid
			} else {
				ch <<= 1
				lonHi = mid
			}
		} else {
			mid := (latLo + latHi) / 2
			if lat >= mid {
				ch = ch<<1 | 1
				latLo = mid
			} else {
				ch <<= 1
				latHi = mid
			}
		}
		evenBit = !evenBit

		bit++
		if bit == 5 {
			sb.WriteByte(base32[ch])
			bit, ch = 0, 0
		}
	}
	return sb.String()
}

// CalculateGeohash returns the StoredPrecision geohash for a coordinate.
func CalculateGeohash(lat, lon float64) string {
	return Encode(lat, lon, StoredPrecision)
}

// PrecisionForZoom maps a map zoom level to the geohash prefix length used
// for clustering. Coarser zoom gives a shorter prefix and bigger clusters.
func PrecisionForZoom(zoom int) int {
	switch {
	case zoom <= 3:
		return 1
	case zoom <= 6:
		return 2
	case zoom <= 9:
		return 3
	case zoom <= 12:
		return 4
	case zoom <= 15:
		return 5
	case zoom <= 18:
		return 6
	default:
		return 7
	}
}

// ValidCoordinate reports whether lat/lon are finite and in range.
func ValidCoordinate(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
