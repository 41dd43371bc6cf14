package handlers

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"momento/internal/database"
	"momento/internal/geo"
	"momento/internal/ingest"
	"momento/internal/jobs"
	"momento/internal/metrics"
	"momento/internal/regenerator"
)

// Importer starts background imports of a directory
type Importer interface {
	StartImport(ctx context.Context, userID int64, dir string, opts ingest.Options) bool
}

// Regenerator starts background regeneration sweeps
type Regenerator interface {
	Start(ctx context.Context, opts regenerator.Options) bool
}

// Store is the subset of the database the handlers read
type Store interface {
	UserByUsername(ctx context.Context, username string) (*database.User, error)
	Clusters(ctx context.Context, userID int64, b geo.Bounds, zoom int) ([]geo.Cluster, error)
	GetStats() metrics.Stats
}

// Config carries everything the handlers need
type Config struct {
	Store       Store
	Jobs        *jobs.Registry
	Importer    Importer
	Regenerator Regenerator
	ImportsDir  string
	// BaseContext outlives individual requests; jobs started over HTTP use it.
	BaseContext context.Context
}

type Handlers struct {
	store       Store
	jobs        *jobs.Registry
	importer    Importer
	regenerator Regenerator
	importsDir  string
	baseCtx     context.Context
	startTime   time.Time
	ready       atomic.Bool
}

func New(cfg Config) *Handlers {
	ctx := cfg.BaseContext
	if ctx == nil {
		ctx = context.Background()
	}
	return &Handlers{
		store:       cfg.Store,
		jobs:        cfg.Jobs,
		importer:    cfg.Importer,
		regenerator: cfg.Regenerator,
		importsDir:  cfg.ImportsDir,
		baseCtx:     ctx,
		startTime:   time.Now(),
	}
}

// SetReady flips the readiness probe once startup has finished
func (h *Handlers) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Register adds every route to r
func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/import/status", h.ImportStatus).Methods("GET")
	api.HandleFunc("/import", h.StartImport).Methods("POST")
	api.HandleFunc("/import/cancel", h.CancelImport).Methods("POST")

	api.HandleFunc("/regenerate/status", h.RegenerationStatus).Methods("GET")
	api.HandleFunc("/regenerate", h.StartRegeneration).Methods("POST")
	api.HandleFunc("/regenerate/cancel", h.CancelRegeneration).Methods("POST")

	api.HandleFunc("/watch/status", h.WatchStatus).Methods("GET")

	api.HandleFunc("/map/clusters", h.MapClusters).Methods("GET")
}
