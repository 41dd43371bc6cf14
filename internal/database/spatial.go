package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"momento/internal/geo"
	"momento/internal/metrics"
)

// IndexLocation stores a degenerate bounding box for id. Any previous
// entry is replaced, so calling it twice is harmless.
func (d *Database) IndexLocation(ctx context.Context, id int64, lat, lon float64) error {
	done := observeQuery("index_location")

	if !geo.ValidCoordinate(lat, lon) {
		err := fmt.Errorf("%w: coordinate %v,%v", geo.ErrInvalidBounds, lat, lon)
		done(err)
		metrics.SpatialIndexOpsTotal.WithLabelValues("index", "error").Inc()
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM media_rtree WHERE id = ?", id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO media_rtree (id, min_lat, max_lat, min_lon, max_lon) VALUES (?, ?, ?, ?, ?)",
			id, lat, lat, lon, lon,
		)
		return err
	})
	done(err)
	metrics.SpatialIndexOpsTotal.WithLabelValues("index", outcomeLabel(err)).Inc()
	return err
}

// UnindexLocation removes the entry for id. Missing entries are not an error.
func (d *Database) UnindexLocation(ctx context.Context, id int64) error {
	done := observeQuery("unindex_location")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := d.db.ExecContext(ctx, "DELETE FROM media_rtree WHERE id = ?", id)
	done(err)
	metrics.SpatialIndexOpsTotal.WithLabelValues("unindex", outcomeLabel(err)).Inc()
	return err
}

// lonClause builds the longitude filter for b. A viewport crossing the
// antimeridian yields two ranges joined with OR. The rtree stores 32-bit
// coordinates rounded outward, so the exact media columns are checked too.
func lonClause(b geo.Bounds) (string, []interface{}) {
	ranges := b.LonRanges()
	parts := make([]string, 0, len(ranges))
	args := make([]interface{}, 0, len(ranges)*4)
	for _, r := range ranges {
		parts = append(parts, "(r.max_lon >= ? AND r.min_lon <= ? AND m.longitude BETWEEN ? AND ?)")
		args = append(args, r.Min, r.Max, r.Min, r.Max)
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// QueryBox returns every indexed record inside b, regardless of access.
func (d *Database) QueryBox(ctx context.Context, b geo.Bounds) ([]LocatedMedia, error) {
	done := observeQuery("query_box")

	if err := b.Validate(); err != nil {
		done(err)
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	lon, lonArgs := lonClause(b)
	query := `
		SELECT m.id, m.latitude, m.longitude
		FROM media_rtree r
		JOIN media m ON m.id = r.id
		WHERE r.max_lat >= ? AND r.min_lat <= ?
		  AND m.latitude BETWEEN ? AND ?
		  AND ` + lon + `
		ORDER BY m.id`
	args := append([]interface{}{b.South, b.North, b.South, b.North}, lonArgs...)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		done(err)
		return nil, err
	}
	defer rows.Close()

	var out []LocatedMedia
	for rows.Next() {
		var lm LocatedMedia
		if err := rows.Scan(&lm.ID, &lm.Latitude, &lm.Longitude); err != nil {
			done(err)
			return nil, err
		}
		out = append(out, lm)
	}
	err = rows.Err()
	done(err)
	return out, err
}

// Clusters groups the records userID can see inside b by the stored
// geohash truncated to the prefix length for zoom. Each cluster carries
// the mean position, the member count and the most recent member, ordered
// by capture time (falling back to creation time) then id.
func (d *Database) Clusters(ctx context.Context, userID int64, b geo.Bounds, zoom int) ([]geo.Cluster, error) {
	done := observeQuery("clusters")

	if err := b.Validate(); err != nil {
		done(err)
		return nil, err
	}

	precision := geo.PrecisionForZoom(zoom)
	start := time.Now()
	defer func() {
		metrics.ClusterQueryDuration.WithLabelValues(strconv.Itoa(precision)).Observe(time.Since(start).Seconds())
	}()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	lon, lonArgs := lonClause(b)
	query := `
		WITH visible AS (
			SELECT m.id, m.latitude, m.longitude,
				substr(m.geohash, 1, ?) AS cell,
				COALESCE(m.captured_at, m.created_at) AS ts
			FROM media_rtree r
			JOIN media m ON m.id = r.id
			JOIN media_access a ON a.media_id = m.id
			WHERE a.user_id = ? AND a.deleted_at IS NULL
			  AND m.geohash IS NOT NULL
			  AND r.max_lat >= ? AND r.min_lat <= ?
			  AND m.latitude BETWEEN ? AND ?
			  AND ` + lon + `
		),
		ranked AS (
			SELECT cell, id,
				ROW_NUMBER() OVER (PARTITION BY cell ORDER BY ts DESC, id DESC) AS rn,
				COUNT(*) OVER (PARTITION BY cell) AS n,
				AVG(latitude) OVER (PARTITION BY cell) AS center_lat,
				AVG(longitude) OVER (PARTITION BY cell) AS center_lon
			FROM visible
		)
		SELECT cell, center_lat, center_lon, n, id
		FROM ranked
		WHERE rn = 1
		ORDER BY n DESC, cell`
	args := append([]interface{}{precision, userID, b.South, b.North, b.South, b.North}, lonArgs...)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		done(err)
		return nil, fmt.Errorf("cluster query: %w", err)
	}
	defer rows.Close()

	clusters := []geo.Cluster{}
	for rows.Next() {
		var c geo.Cluster
		if err := rows.Scan(&c.CellID, &c.CenterLat, &c.CenterLon, &c.Count, &c.RepresentativeID); err != nil {
			done(err)
			return nil, err
		}
		clusters = append(clusters, c)
	}
	err = rows.Err()
	done(err)
	return clusters, err
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
