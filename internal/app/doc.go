// Package app assembles the ingestion components from a loaded
// configuration. The server and the admin CLI share it so both run the
// exact same pipeline.
package app
