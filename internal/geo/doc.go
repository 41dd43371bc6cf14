// Package geo holds the pure geospatial logic of the index: geohash
// encoding, the zoom-to-prefix table used for clustering, and viewport
// bounds with antimeridian handling.
//
// Every geotagged record stores one geohash at StoredPrecision (7). Cluster
// queries group by a prefix of that stored value whose length comes from
// PrecisionForZoom; the hash is never recomputed per zoom level.
//
//	zoom 0-3 → 1, 4-6 → 2, 7-9 → 3, 10-12 → 4, 13-15 → 5, 16-18 → 6, 19+ → 7
//
// Storage of the bounding-box entries and the cluster SQL live in the
// database package.
package geo
