package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ResolveAccess makes sure userID holds a live grant on mediaID. A grant
// that was moved to trash is restored, a missing grant is created with
// the default access level, and a live grant is left untouched.
func (d *Database) ResolveAccess(ctx context.Context, mediaID, userID int64) (AccessOutcome, error) {
	done := observeQuery("resolve_access")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	outcome := AccessExisting
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var deletedAt sql.NullInt64
		err := tx.QueryRowContext(ctx,
			"SELECT deleted_at FROM media_access WHERE media_id = ? AND user_id = ?",
			mediaID, userID,
		).Scan(&deletedAt)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO media_access (media_id, user_id, access_level, deleted_at) VALUES (?, ?, ?, NULL)",
				mediaID, userID, DefaultAccessLevel,
			); err != nil {
				if isForeignKeyViolation(err) {
					// The record was purged after the caller looked it up.
					return fmt.Errorf("grant access to media %d: %w", mediaID, ErrNotFound)
				}
				return fmt.Errorf("grant access: %w", err)
			}
			outcome = AccessGranted
		case err != nil:
			return fmt.Errorf("look up access grant: %w", err)
		case deletedAt.Valid:
			if _, err := tx.ExecContext(ctx,
				"UPDATE media_access SET deleted_at = NULL WHERE media_id = ? AND user_id = ?",
				mediaID, userID,
			); err != nil {
				return fmt.Errorf("restore access grant: %w", err)
			}
			outcome = AccessRestored
		}
		return nil
	})
	done(err)
	if err != nil {
		return AccessExisting, err
	}
	return outcome, nil
}

// SoftDelete moves a user's grant to trash. The record itself survives
// until the grant expires and no other live grant references it.
func (d *Database) SoftDelete(ctx context.Context, mediaID, userID int64, at time.Time) error {
	done := observeQuery("soft_delete")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx,
		"UPDATE media_access SET deleted_at = ? WHERE media_id = ? AND user_id = ? AND deleted_at IS NULL",
		at.Unix(), mediaID, userID,
	)
	if err == nil {
		err = requireRow(res)
	}
	done(err)
	return err
}

// HasLiveGrant reports whether userID can currently see mediaID.
func (d *Database) HasLiveGrant(ctx context.Context, mediaID, userID int64) (bool, error) {
	done := observeQuery("has_live_grant")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var n int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM media_access WHERE media_id = ? AND user_id = ? AND deleted_at IS NULL",
		mediaID, userID,
	).Scan(&n)
	done(err)
	return n > 0, err
}

// CountGrants returns the number of grants, live or trashed, on mediaID.
func (d *Database) CountGrants(ctx context.Context, mediaID int64) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var n int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM media_access WHERE media_id = ?", mediaID,
	).Scan(&n)
	return n, err
}
