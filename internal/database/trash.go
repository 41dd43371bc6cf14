package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PurgeExpiredTrash removes grants trashed before cutoff. Records left
// with no grant at all are hard-deleted and returned so the caller can
// remove their files.
func (d *Database) PurgeExpiredTrash(ctx context.Context, cutoff time.Time) (PurgeResult, error) {
	done := observeQuery("purge_expired_trash")

	d.mu.Lock()
	defer d.mu.Unlock()

	var result PurgeResult
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT DISTINCT media_id FROM media_access WHERE deleted_at IS NOT NULL AND deleted_at < ?",
			cutoff.Unix())
		if err != nil {
			return fmt.Errorf("find expired grants: %w", err)
		}
		var candidates []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			candidates = append(candidates, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			"DELETE FROM media_access WHERE deleted_at IS NOT NULL AND deleted_at < ?", cutoff.Unix())
		if err != nil {
			return fmt.Errorf("delete expired grants: %w", err)
		}
		result.GrantsRemoved, _ = res.RowsAffected()

		for _, id := range candidates {
			var remaining int
			if err := tx.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM media_access WHERE media_id = ?", id,
			).Scan(&remaining); err != nil {
				return err
			}
			if remaining > 0 {
				continue
			}

			m, err := scanMedia(tx.QueryRowContext(ctx,
				"SELECT "+mediaColumns+" FROM media m WHERE m.id = ?", id))
			if err != nil {
				return fmt.Errorf("load orphan %d: %w", id, err)
			}
			if err := deleteMediaTx(ctx, tx, id); err != nil {
				return err
			}
			result.Orphans = append(result.Orphans, *m)
		}
		return nil
	})
	done(err)
	if err != nil {
		return PurgeResult{}, err
	}
	return result, nil
}
