package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"momento/internal/logging"
)

// SplitKeywords splits a comma-separated keyword list, trimming blanks and
// dropping case-insensitive duplicates.
func SplitKeywords(keywords string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, k := range strings.Split(keywords, ",") {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		key := strings.ToLower(k)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, k)
	}
	return out
}

// MergeKeywordTags attaches each embedded keyword to mediaID as a tag,
// creating tags as needed. Existing links are kept. It returns how many
// links were added.
func (d *Database) MergeKeywordTags(ctx context.Context, mediaID int64, keywords string) (int, error) {
	names := SplitKeywords(keywords)
	if len(names) == 0 {
		return 0, nil
	}

	done := observeQuery("merge_keyword_tags")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	added := 0
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		for _, name := range names {
			if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO tags (name) VALUES (?)", name); err != nil {
				return fmt.Errorf("create tag %q: %w", name, err)
			}

			var tagID int64
			if err := tx.QueryRowContext(ctx,
				"SELECT id FROM tags WHERE name = ? COLLATE NOCASE", name,
			).Scan(&tagID); err != nil {
				return fmt.Errorf("look up tag %q: %w", name, err)
			}

			res, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO media_tags (media_id, tag_id) VALUES (?, ?)", mediaID, tagID)
			if err != nil {
				return fmt.Errorf("link tag %q: %w", name, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				added++
			}
		}
		return nil
	})
	done(err)
	if err != nil {
		return 0, err
	}
	return added, nil
}

// TagsForMedia returns the tag names attached to mediaID, sorted.
func (d *Database) TagsForMedia(ctx context.Context, mediaID int64) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT t.name
		FROM tags t
		INNER JOIN media_tags mt ON t.id = mt.tag_id
		WHERE mt.media_id = ?
		ORDER BY t.name COLLATE NOCASE
	`, mediaID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logging.Error("error closing rows: %v", err)
		}
	}()

	var tags []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tags = append(tags, name)
	}
	return tags, rows.Err()
}
