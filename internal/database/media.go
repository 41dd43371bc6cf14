package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const mediaColumns = `
	m.id, m.file_path, m.original_filename, m.media_type, m.mime_type, m.file_size,
	m.width, m.height, m.duration, m.captured_at,
	m.latitude, m.longitude, m.altitude, m.geohash, m.city, m.state, m.country,
	m.camera_make, m.camera_model, m.lens_make, m.lens_model,
	m.iso, m.exposure_time, m.f_number, m.focal_length, m.focal_length_35mm,
	m.video_codec, m.keywords, m.thumbnail_path, m.thumbnail_tiny_path,
	m.content_hash, m.created_at, m.updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMedia(row rowScanner) (*Media, error) {
	var m Media
	var captured sql.NullInt64
	var created, updated int64

	err := row.Scan(
		&m.ID, &m.FilePath, &m.OriginalFilename, &m.MediaType, &m.MimeType, &m.FileSize,
		&m.Width, &m.Height, &m.Duration, &captured,
		&m.Latitude, &m.Longitude, &m.Altitude, &m.Geohash, &m.City, &m.State, &m.Country,
		&m.CameraMake, &m.CameraModel, &m.LensMake, &m.LensModel,
		&m.ISO, &m.ExposureTime, &m.FNumber, &m.FocalLength, &m.FocalLength35mm,
		&m.VideoCodec, &m.Keywords, &m.ThumbnailPath, &m.TinyThumbnail,
		&m.ContentHash, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	m.CapturedAt = timePtr(captured)
	m.CreatedAt = time.Unix(created, 0).UTC()
	m.UpdatedAt = time.Unix(updated, 0).UTC()
	return &m, nil
}

func queryMedia(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}, query string, args ...interface{}) ([]Media, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// FindByContentHash returns the id of the record owning hash, or
// ErrNotFound.
func (d *Database) FindByContentHash(ctx context.Context, hash string) (int64, error) {
	done := observeQuery("find_by_content_hash")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var id int64
	err := d.db.QueryRowContext(ctx,
		"SELECT id FROM media WHERE content_hash = ? LIMIT 1", hash,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	done(err)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetMedia loads a record by id
func (d *Database) GetMedia(ctx context.Context, id int64) (*Media, error) {
	done := observeQuery("get_media")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	m, err := scanMedia(d.db.QueryRowContext(ctx,
		"SELECT "+mediaColumns+" FROM media m WHERE m.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	done(err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// InsertMedia stores a new record and grants userID access to it in one
// transaction. It returns ErrDuplicateContent if another record already
// has the same content hash.
func (d *Database) InsertMedia(ctx context.Context, m *Media, userID int64) (int64, error) {
	done := observeQuery("insert_media")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var id int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO media (
				file_path, original_filename, media_type, mime_type, file_size,
				width, height, duration, captured_at,
				latitude, longitude, altitude, geohash, city, state, country,
				camera_make, camera_model, lens_make, lens_model,
				iso, exposure_time, f_number, focal_length, focal_length_35mm,
				video_codec, keywords, thumbnail_path, thumbnail_tiny_path, content_hash
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.FilePath, m.OriginalFilename, m.MediaType, m.MimeType, m.FileSize,
			m.Width, m.Height, m.Duration, nullableTime(m.CapturedAt),
			m.Latitude, m.Longitude, m.Altitude, m.Geohash, m.City, m.State, m.Country,
			m.CameraMake, m.CameraModel, m.LensMake, m.LensModel,
			m.ISO, m.ExposureTime, m.FNumber, m.FocalLength, m.FocalLength35mm,
			m.VideoCodec, m.Keywords, m.ThumbnailPath, m.TinyThumbnail, m.ContentHash,
		)
		if err != nil {
			if isUniqueViolation(err) && strings.Contains(err.Error(), "content_hash") {
				return fmt.Errorf("%w: %v", ErrDuplicateContent, err)
			}
			return fmt.Errorf("insert media: %w", err)
		}

		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read media id: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO media_access (media_id, user_id, access_level, deleted_at) VALUES (?, ?, ?, NULL)",
			id, userID, DefaultAccessLevel,
		)
		if err != nil {
			return fmt.Errorf("insert access grant: %w", err)
		}
		return nil
	})
	done(err)
	if err != nil {
		return 0, err
	}

	m.ID = id
	return id, nil
}

// UpdateMedia writes the metadata columns of an existing record.
// file_path, content_hash and thumbnails are left alone.
func (d *Database) UpdateMedia(ctx context.Context, m *Media) error {
	done := observeQuery("update_media")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `
		UPDATE media SET
			mime_type = ?, file_size = ?, width = ?, height = ?, duration = ?, captured_at = ?,
			latitude = ?, longitude = ?, altitude = ?, geohash = ?, city = ?, state = ?, country = ?,
			camera_make = ?, camera_model = ?, lens_make = ?, lens_model = ?,
			iso = ?, exposure_time = ?, f_number = ?, focal_length = ?, focal_length_35mm = ?,
			video_codec = ?, keywords = ?, updated_at = strftime('%s', 'now')
		WHERE id = ?`,
		m.MimeType, m.FileSize, m.Width, m.Height, m.Duration, nullableTime(m.CapturedAt),
		m.Latitude, m.Longitude, m.Altitude, m.Geohash, m.City, m.State, m.Country,
		m.CameraMake, m.CameraModel, m.LensMake, m.LensModel,
		m.ISO, m.ExposureTime, m.FNumber, m.FocalLength, m.FocalLength35mm,
		m.VideoCodec, m.Keywords, m.ID,
	)
	if err == nil {
		err = requireRow(res)
	}
	done(err)
	return err
}

// SetThumbnails records derivative paths; a nil path leaves the column as is.
func (d *Database) SetThumbnails(ctx context.Context, id int64, normal, tiny *string) error {
	done := observeQuery("set_thumbnails")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `
		UPDATE media SET
			thumbnail_path = COALESCE(?, thumbnail_path),
			thumbnail_tiny_path = COALESCE(?, thumbnail_tiny_path),
			updated_at = strftime('%s', 'now')
		WHERE id = ?`, normal, tiny, id)
	if err == nil {
		err = requireRow(res)
	}
	done(err)
	return err
}

// MediaMissingHash returns id and file path of legacy rows with no content hash
func (d *Database) MediaMissingHash(ctx context.Context) ([]Media, error) {
	done := observeQuery("media_missing_hash")

	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := queryMedia(ctx, d.db,
		"SELECT "+mediaColumns+" FROM media m WHERE m.content_hash IS NULL ORDER BY m.id")
	done(err)
	return rows, err
}

// SetContentHash backfills the digest of a legacy row. It returns
// ErrDuplicateContent when another record already owns the digest.
func (d *Database) SetContentHash(ctx context.Context, id int64, hash string) error {
	done := observeQuery("set_content_hash")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := d.db.ExecContext(ctx,
		"UPDATE media SET content_hash = ? WHERE id = ? AND content_hash IS NULL", hash, id)
	if isUniqueViolation(err) {
		err = fmt.Errorf("%w: %s", ErrDuplicateContent, hash)
	}
	done(err)
	return err
}

// MediaForRegeneration returns candidates for the regeneration sweep. With
// missingOnly, only records lacking a thumbnail or dimensions are returned.
func (d *Database) MediaForRegeneration(ctx context.Context, missingOnly bool) ([]Media, error) {
	done := observeQuery("media_for_regeneration")

	d.mu.RLock()
	defer d.mu.RUnlock()

	query := "SELECT " + mediaColumns + " FROM media m"
	if missingOnly {
		query += " WHERE m.thumbnail_path IS NULL OR m.thumbnail_tiny_path IS NULL OR m.width IS NULL OR m.height IS NULL"
	}
	query += " ORDER BY m.id"

	rows, err := queryMedia(ctx, d.db, query)
	done(err)
	return rows, err
}

// ClearDerivedData nulls extracted metadata and thumbnail paths on every
// record so that a full regeneration rebuilds them. Content hash, file
// path, capture time and GPS are kept.
func (d *Database) ClearDerivedData(ctx context.Context) (int64, error) {
	done := observeQuery("clear_derived_data")

	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.ExecContext(ctx, `
		UPDATE media SET
			width = NULL, height = NULL, duration = NULL,
			camera_make = NULL, camera_model = NULL, lens_make = NULL, lens_model = NULL,
			iso = NULL, exposure_time = NULL, f_number = NULL, focal_length = NULL,
			focal_length_35mm = NULL, video_codec = NULL,
			thumbnail_path = NULL, thumbnail_tiny_path = NULL,
			updated_at = strftime('%s', 'now')`)
	var n int64
	if err == nil {
		n, err = res.RowsAffected()
	}
	done(err)
	return n, err
}

// DeleteMedia hard-deletes a record together with its grants, tags and
// spatial entry.
func (d *Database) DeleteMedia(ctx context.Context, id int64) error {
	done := observeQuery("delete_media")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		return deleteMediaTx(ctx, tx, id)
	})
	done(err)
	return err
}

func deleteMediaTx(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM media_rtree WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete spatial entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM media WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
