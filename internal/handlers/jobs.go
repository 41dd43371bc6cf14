package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"momento/internal/database"
	"momento/internal/ingest"
	"momento/internal/logging"
	"momento/internal/regenerator"
)

// ImportRequest is the body of POST /api/import
type ImportRequest struct {
	Username          string `json:"username"`
	DeleteAfterImport bool   `json:"deleteAfterImport"`
}

// RegenerateRequest is the body of POST /api/regenerate
type RegenerateRequest struct {
	MissingOnly *bool `json:"missingOnly"`
}

// ImportStatus returns the state of the current or last import
func (h *Handlers) ImportStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.jobs.Import.Snapshot().ImportView())
}

// WatchStatus returns the state of the current or last watch cycle
func (h *Handlers) WatchStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.jobs.Watch.Snapshot().ImportView())
}

// RegenerationStatus returns the state of the current or last regeneration
func (h *Handlers) RegenerationStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.jobs.Regeneration.Snapshot().RegenerationView())
}

// StartImport imports the imports directory on behalf of a user
func (h *Handlers) StartImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		writeJSONError(w, "username is required", http.StatusBadRequest)
		return
	}

	user, err := h.store.UserByUsername(r.Context(), req.Username)
	if errors.Is(err, database.ErrNotFound) {
		writeJSONError(w, "unknown user", http.StatusNotFound)
		return
	}
	if err != nil {
		logging.Error("import: user lookup for %q failed: %v", req.Username, err)
		writeJSONError(w, "user lookup failed", http.StatusInternalServerError)
		return
	}

	opts := ingest.Options{DeleteAfterImport: req.DeleteAfterImport, Source: "import"}
	if !h.importer.StartImport(h.baseCtx, user.ID, h.importsDir, opts) {
		writeJSONError(w, "an import is already running", http.StatusConflict)
		return
	}

	logging.Info("Import of %s started for user %s", h.importsDir, user.Username)
	writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// CancelImport requests cancellation of the running import
func (h *Handlers) CancelImport(w http.ResponseWriter, _ *http.Request) {
	if !h.jobs.Import.Cancel() {
		writeJSONError(w, "no import is running", http.StatusConflict)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// StartRegeneration starts a regeneration sweep. The body is optional and
// missingOnly defaults to true.
func (h *Handlers) StartRegeneration(w http.ResponseWriter, r *http.Request) {
	var req RegenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	opts := regenerator.Options{MissingOnly: true}
	if req.MissingOnly != nil {
		opts.MissingOnly = *req.MissingOnly
	}

	if !h.regenerator.Start(h.baseCtx, opts) {
		writeJSONError(w, "a regeneration is already running", http.StatusConflict)
		return
	}

	logging.Info("Regeneration started (missing only: %v)", opts.MissingOnly)
	writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// CancelRegeneration requests cancellation of the running regeneration
func (h *Handlers) CancelRegeneration(w http.ResponseWriter, _ *http.Request) {
	if !h.jobs.Regeneration.Cancel() {
		writeJSONError(w, "no regeneration is running", http.StatusConflict)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}
