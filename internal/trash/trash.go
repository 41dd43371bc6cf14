package trash

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"momento/internal/database"
	"momento/internal/filesystem"
	"momento/internal/logging"
	"momento/internal/metrics"
)

var log = logging.ForComponent("trash")

// Config configures retention
type Config struct {
	OriginalsDir  string
	ThumbnailsDir string
	TinyDir       string
	Retention     time.Duration
	Interval      time.Duration
}

// Result summarises one purge
type Result struct {
	GrantsRemoved int64
	MediaDeleted  int
	FilesRemoved  int
}

// Purger periodically purges expired trash
type Purger struct {
	db  *database.Database
	cfg Config
	now func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPurger creates a purger
func NewPurger(db *database.Database, cfg Config) *Purger {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	return &Purger{
		db:       db,
		cfg:      cfg,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start purges once and then on every interval until Stop
func (p *Purger) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()

		p.purgeLogged(ctx)
		for {
			select {
			case <-ticker.C:
				p.purgeLogged(ctx)
			case <-p.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the purge loop
func (p *Purger) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}

func (p *Purger) purgeLogged(ctx context.Context) {
	res, err := p.Purge(ctx)
	if err != nil {
		log.Error("Trash purge failed: %v", err)
		return
	}
	if res.GrantsRemoved > 0 {
		log.Info("Purged %d expired grants, deleted %d records (%d files)",
			res.GrantsRemoved, res.MediaDeleted, res.FilesRemoved)
	}
}

// Purge removes grants trashed before now minus the retention window and
// deletes the files of records that lost their last grant.
func (p *Purger) Purge(ctx context.Context) (Result, error) {
	cutoff := p.now().Add(-p.cfg.Retention)

	purged, err := p.db.PurgeExpiredTrash(ctx, cutoff)
	if err != nil {
		return Result{}, fmt.Errorf("purge expired trash: %w", err)
	}

	res := Result{GrantsRemoved: purged.GrantsRemoved, MediaDeleted: len(purged.Orphans)}
	for _, m := range purged.Orphans {
		res.FilesRemoved += p.removeFiles(m)
	}

	metrics.TrashPurgedGrantsTotal.Add(float64(purged.GrantsRemoved))
	metrics.TrashPurgedMediaTotal.Add(float64(len(purged.Orphans)))
	return res, nil
}

func (p *Purger) removeFiles(m database.Media) int {
	paths := []string{filepath.Join(p.cfg.OriginalsDir, m.FilePath)}
	if m.ThumbnailPath != nil {
		paths = append(paths, filepath.Join(p.cfg.ThumbnailsDir, *m.ThumbnailPath))
	}
	if m.TinyThumbnail != nil {
		paths = append(paths, filepath.Join(p.cfg.TinyDir, *m.TinyThumbnail))
	}

	removed := 0
	for _, path := range paths {
		if err := filesystem.RemoveIfExists(path); err != nil {
			log.Warn("Failed to remove %s: %v", path, err)
			continue
		}
		removed++
	}
	return removed
}
