// Command momentoctl administers a Momento data directory without the
// server running.
//
// Usage:
//
//	momentoctl [-v] <command> [arguments]
//
// -v enables debug logging.
//
// Commands:
//
//	import <user> <dir> [--delete]
//	        Import every supported file under dir for user, with the same
//	        deduplication and access rules as the server. --delete removes
//	        each source file once it is stored or deduplicated.
//
//	regenerate [--all] [--yes]
//	        Backfill content hashes and fill in missing metadata and
//	        thumbnails. --all clears derived data first and rebuilds every
//	        record; on a terminal it asks for confirmation, elsewhere it
//	        requires --yes.
//
//	purge-trash
//	        Remove trash entries older than the retention window and delete
//	        records no user can access any more.
//
//	adduser <name>
//	        Create a user. Its watch folder is <data dir>/webdav/<name>.
//
//	status  Print library totals and the user list.
//
// Configuration is read exactly as the server reads it, so MOMENTO_DATA_DIR,
// DATABASE_DIR and config.yaml apply.
package main
