package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"momento/internal/database"
	"momento/internal/geo"
	"momento/internal/logging"
)

// ClustersResponse is the body of GET /api/map/clusters
type ClustersResponse struct {
	Zoom     int           `json:"zoom"`
	Clusters []geo.Cluster `json:"clusters"`
}

// MapClusters returns per-cell marker clusters for a user's live media
// inside the requested bounding box.
func (h *Handlers) MapClusters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	bounds, err := parseBounds(q)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	zoom, err := strconv.Atoi(q.Get("zoom"))
	if err != nil || zoom < 0 || zoom > 22 {
		writeJSONError(w, "zoom must be an integer between 0 and 22", http.StatusBadRequest)
		return
	}

	username := q.Get("user")
	if username == "" {
		writeJSONError(w, "user is required", http.StatusBadRequest)
		return
	}
	user, err := h.store.UserByUsername(r.Context(), username)
	if errors.Is(err, database.ErrNotFound) {
		writeJSONError(w, "unknown user", http.StatusNotFound)
		return
	}
	if err != nil {
		logging.Error("clusters: user lookup for %q failed: %v", username, err)
		writeJSONError(w, "user lookup failed", http.StatusInternalServerError)
		return
	}

	clusters, err := h.store.Clusters(r.Context(), user.ID, bounds, zoom)
	if errors.Is(err, geo.ErrInvalidBounds) {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		logging.Error("clusters query failed: %v", err)
		writeJSONError(w, "cluster query failed", http.StatusInternalServerError)
		return
	}
	if clusters == nil {
		clusters = []geo.Cluster{}
	}

	writeJSONResponse(w, http.StatusOK, ClustersResponse{Zoom: zoom, Clusters: clusters})
}

func parseBounds(q url.Values) (geo.Bounds, error) {
	var b geo.Bounds
	fields := []struct {
		name string
		dst  *float64
	}{
		{"north", &b.North},
		{"south", &b.South},
		{"east", &b.East},
		{"west", &b.West},
	}
	for _, f := range fields {
		raw := q.Get(f.name)
		if raw == "" {
			return b, fmt.Errorf("%s is required", f.name)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return b, fmt.Errorf("%s must be a number", f.name)
		}
		*f.dst = v
	}
	return b, b.Validate()
}
