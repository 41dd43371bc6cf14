package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"momento/internal/logging"
	"momento/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// Database manages storage of media records, access grants, tags and the
// spatial index.
type Database struct {
	db     *sql.DB
	dbPath string
	// mu serializes writers; SQLite allows one writer at a time and the
	// busy timeout alone produces lock errors under import concurrency.
	mu sync.RWMutex
}

// New opens the database file at dbPath, creating the schema if needed.
// The parent directory must exist and be writable.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	if err := diagnoseDatabasePermissions(dbPath); err != nil {
		logging.Warn("Database permission diagnostics: %v", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&_temp_store=MEMORY", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{
		db:     db,
		dbPath: dbPath,
	}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return d, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE TABLE IF NOT EXISTS media (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path TEXT NOT NULL UNIQUE,
	original_filename TEXT NOT NULL,
	media_type TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	file_size INTEGER NOT NULL DEFAULT 0,
	width INTEGER,
	height INTEGER,
	duration REAL,
	captured_at INTEGER,
	latitude REAL,
	longitude REAL,
	altitude REAL,
	city TEXT,
	state TEXT,
	country TEXT,
	camera_make TEXT,
	camera_model TEXT,
	lens_make TEXT,
	lens_model TEXT,
	iso INTEGER,
	exposure_time TEXT,
	f_number REAL,
	focal_length REAL,
	focal_length_35mm INTEGER,
	video_codec TEXT,
	keywords TEXT,
	thumbnail_path TEXT,
	thumbnail_tiny_path TEXT,
	created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
	updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_media_captured_at ON media(captured_at);

CREATE TABLE IF NOT EXISTS media_access (
	media_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	access_level INTEGER NOT NULL DEFAULT 2,
	deleted_at INTEGER,
	created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
	PRIMARY KEY (media_id, user_id),
	FOREIGN KEY (media_id) REFERENCES media(id) ON DELETE CASCADE,
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_media_access_user ON media_access(user_id, deleted_at);

CREATE VIRTUAL TABLE IF NOT EXISTS media_rtree USING rtree(
	id,
	min_lat, max_lat,
	min_lon, max_lon
);

CREATE TABLE IF NOT EXISTS tags (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE COLLATE NOCASE,
	created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE TABLE IF NOT EXISTS media_tags (
	media_id INTEGER NOT NULL,
	tag_id INTEGER NOT NULL,
	PRIMARY KEY (media_id, tag_id),
	FOREIGN KEY (media_id) REFERENCES media(id) ON DELETE CASCADE,
	FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
);
`

func (d *Database) initialize(ctx context.Context) error {
	start := time.Now()
	_, err := d.db.ExecContext(ctx, schema)
	recordQuery("initialize_schema", start, err)
	if err != nil {
		return err
	}
	return d.runMigrations(ctx)
}

// runMigrations brings databases created before content hashing and
// geohashing up to date. Legacy rows keep a NULL hash until the
// regeneration sweep backfills it.
func (d *Database) runMigrations(ctx context.Context) error {
	columns := []struct {
		name string
		ddl  string
	}{
		{"content_hash", "ALTER TABLE media ADD COLUMN content_hash TEXT"},
		{"geohash", "ALTER TABLE media ADD COLUMN geohash TEXT"},
	}

	for _, c := range columns {
		var exists bool
		err := d.db.QueryRowContext(ctx, `
			SELECT COUNT(*) > 0
			FROM pragma_table_info('media')
			WHERE name = ?
		`, c.name).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check for %s column: %w", c.name, err)
		}
		if exists {
			continue
		}

		logging.Info("Migrating database: adding %s column to media table", c.name)
		if _, err := d.db.ExecContext(ctx, c.ddl); err != nil {
			return fmt.Errorf("failed to add %s column: %w", c.name, err)
		}
	}

	_, err := d.db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_media_content_hash ON media(content_hash);
		CREATE INDEX IF NOT EXISTS idx_media_geohash ON media(geohash);
	`)
	if err != nil {
		return fmt.Errorf("failed to create hash indexes: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Path returns the database file path
func (d *Database) Path() string {
	return d.dbPath
}

// withTx runs fn inside a transaction, committing on success.
func (d *Database) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}
	return tx.Commit()
}

// observeQuery starts timing an operation; call the returned func with
// the final error.
func observeQuery(operation string) func(error) {
	start := time.Now()
	return func(err error) {
		recordQuery(operation, start, err)
	}
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// isForeignKeyViolation reports whether err is a FOREIGN KEY constraint failure
func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

// GetStats implements metrics.StatsProvider
func (d *Database) GetStats() metrics.Stats {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	done := observeQuery("library_stats")

	var s metrics.Stats
	err := d.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM media WHERE media_type = 'image'),
			(SELECT COUNT(*) FROM media WHERE media_type = 'video'),
			(SELECT COUNT(*) FROM media WHERE latitude IS NOT NULL AND longitude IS NOT NULL),
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM media_access WHERE deleted_at IS NOT NULL)
	`).Scan(&s.TotalImages, &s.TotalVideos, &s.Geotagged, &s.Users, &s.TrashedGrants)
	done(err)
	if err != nil {
		logging.Warn("Failed to collect library stats: %v", err)
	}

	s.OpenConns = d.db.Stats().OpenConnections
	return s
}

// diagnoseDatabasePermissions checks database directory and file permissions
func diagnoseDatabasePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}
	logging.Debug("Database directory: %s (mode: %v)", dir, dirInfo.Mode())

	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Mode().Perm()&0o200 == 0 {
			logging.Warn("%s is read-only (mode %v), writes will fail", path, info.Mode())
			if chmodErr := os.Chmod(path, 0o600); chmodErr != nil {
				logging.Error("Failed to fix permissions on %s: %v", path, chmodErr)
			} else {
				logging.Info("Fixed permissions on %s", path)
			}
		}
	}

	return nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
