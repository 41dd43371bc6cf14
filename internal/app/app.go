package app

import (
	"context"
	"fmt"
	"time"

	"momento/internal/database"
	"momento/internal/ingest"
	"momento/internal/jobs"
	"momento/internal/logging"
	"momento/internal/media"
	"momento/internal/memory"
	"momento/internal/metadata"
	"momento/internal/regenerator"
	"momento/internal/startup"
	"momento/internal/trash"
	"momento/internal/watcher"
)

// App holds the wired components. Nothing runs until the caller starts it.
type App struct {
	Config      *startup.Config
	DB          *database.Database
	Jobs        *jobs.Registry
	Memory      *memory.Monitor
	Extractor   *metadata.Extractor
	Thumbnails  *media.ThumbnailGenerator
	Pipeline    *ingest.Pipeline
	Scheduler   *ingest.Scheduler
	Regenerator *regenerator.Regenerator
	Watcher     *watcher.Watcher
	Purger      *trash.Purger

	// DBInitDuration is how long opening and migrating the database took
	DBInitDuration time.Duration
}

// New opens the database and builds every component. limit is the soft
// memory limit the monitor measures against.
func New(ctx context.Context, cfg *startup.Config, limit memory.Limit) (*App, error) {
	dbStart := time.Now()
	db, err := database.New(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &App{
		Config:         cfg,
		DB:             db,
		Jobs:           jobs.NewRegistry(),
		DBInitDuration: time.Since(dbStart),
	}

	monitorCfg := memory.DefaultConfig()
	monitorCfg.LimitBytes = limit.GoBytes
	a.Memory = memory.NewMonitor(monitorCfg)

	var geocoder metadata.ReverseGeocoder
	if cfg.Geocoding.Enabled {
		geocoder = metadata.NewGeocoder(metadata.GeocoderConfig{
			BaseURL:   cfg.Geocoding.URL,
			UserAgent: cfg.Geocoding.UserAgent,
			Timeout:   cfg.Geocoding.Timeout,
			RateLimit: cfg.Geocoding.RateLimit,
		})
	}
	runner := metadata.ExecRunner{}
	a.Extractor = metadata.NewExtractor(runner, geocoder)

	a.Thumbnails = media.NewThumbnailGenerator(media.Config{
		ThumbnailsDir:     cfg.ThumbnailsDir,
		TinyDir:           cfg.TinyThumbnailsDir,
		Size:              cfg.Thumbnails.Size,
		TinySize:          cfg.Thumbnails.TinySize,
		Quality:           cfg.Thumbnails.Quality,
		VideoFrameQuality: cfg.Thumbnails.VideoFrameQuality,
	}, runner)

	a.Pipeline = ingest.NewPipeline(db, a.Extractor, a.Thumbnails, cfg.OriginalsDir)
	a.Scheduler = ingest.NewScheduler(a.Pipeline, a.Jobs.Import, cfg.Import.Concurrency, a.Memory)

	a.Regenerator = regenerator.New(db, regenerator.Config{
		OriginalsDir:  cfg.OriginalsDir,
		ThumbnailsDir: cfg.ThumbnailsDir,
		TinyDir:       cfg.TinyThumbnailsDir,
		Concurrency:   cfg.Import.Concurrency,
	}, a.Extractor, a.Thumbnails, a.Jobs.Regeneration, a.Memory)

	a.Watcher = watcher.New(watcher.Config{
		Root:        cfg.WebDAVDir,
		Interval:    cfg.Watch.Interval,
		Stability:   cfg.Watch.Stability,
		Concurrency: cfg.Import.Concurrency,
		Notify:      cfg.Watch.Notify,
	}, db, a.Pipeline, a.Jobs.Watch, a.Memory)

	a.Purger = trash.NewPurger(db, trash.Config{
		OriginalsDir:  cfg.OriginalsDir,
		ThumbnailsDir: cfg.ThumbnailsDir,
		TinyDir:       cfg.TinyThumbnailsDir,
		Retention:     cfg.Trash.Retention(),
		Interval:      cfg.Trash.PurgeInterval,
	})

	return a, nil
}

// Close cancels running jobs, waits up to timeout for them to settle and
// closes the database.
func (a *App) Close(timeout time.Duration) error {
	a.Jobs.CancelAll()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, state := range []*jobs.State{a.Jobs.Import, a.Jobs.Regeneration, a.Jobs.Watch} {
		if _, err := state.Wait(ctx); err != nil {
			logging.Warn("%s job did not stop in time: %v", state.Kind(), err)
		}
	}

	return a.DB.Close()
}
