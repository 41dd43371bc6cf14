// Package startup loads configuration and owns the startup and shutdown log
// output.
//
// # Configuration
//
// [Load] resolves settings in increasing precedence:
//
//  1. Built-in defaults
//  2. A .env file in the working directory (via godotenv)
//  3. The YAML overlay at $MOMENTO_DATA_DIR/config.yaml, or $CONFIG_FILE
//  4. Environment variables
//
// The result is validated with go-playground/validator; an invalid value
// aborts startup with every failing field listed.
//
// Environment variables:
//
//   - MOMENTO_DATA_DIR: root of all application data (default: /data)
//   - DATABASE_DIR: SQLite directory (default: $MOMENTO_DATA_DIR/database)
//   - PORT, METRICS_PORT, METRICS_ENABLED, LOG_HEALTH_CHECKS
//   - THUMBNAIL_SIZE, THUMBNAIL_TINY_SIZE, THUMBNAIL_QUALITY, VIDEO_FRAME_QUALITY
//   - IMPORT_CONCURRENCY
//   - WATCH_ENABLED, WATCH_NOTIFY, WATCH_INTERVAL, WATCH_STABILITY
//   - GEOCODING_ENABLED, GEOCODING_URL, GEOCODING_USER_AGENT,
//     GEOCODING_TIMEOUT, GEOCODING_RATE_LIMIT
//   - TRASH_RETENTION_DAYS, TRASH_PURGE_INTERVAL
//   - LOG_LEVEL, MEMORY_LIMIT, MEMORY_RATIO, GOMEMLIMIT
//
// A config file uses the section names thumbnails, geocoding, import, watch
// and trash with snake_case keys:
//
//	watch:
//	  interval: 1m
//	  stability: 15s
//	trash:
//	  retention_days: 14
//
// # Directory Setup
//
// [PrepareDirectories] creates originals, thumbnails, thumbnails_tiny,
// imports, webdav, trash and the database directory under the data root
// and fails startup if any of them is not writable.
//
// # External Tools
//
// [ProbeTools] checks for exiftool, ffprobe, ffmpeg and ImageMagick's
// convert. A missing tool degrades the matching feature and is only logged.
package startup
