package metrics

import (
	"os"
	"time"

	"momento/internal/logging"
)

// StatsProvider supplies library totals for periodic export
type StatsProvider interface {
	GetStats() Stats
}

// Stats holds the current library totals
type Stats struct {
	TotalImages   int
	TotalVideos   int
	Geotagged     int
	Users         int
	TrashedGrants int
	OpenConns     int
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	dbPath        string
	interval      time.Duration
	stopChan      chan struct{}
	done          chan struct{}
}

// NewCollector creates a new metrics collector. dbPath may be empty to skip
// database file size reporting.
func NewCollector(provider StatsProvider, dbPath string, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		dbPath:        dbPath,
		interval:      interval,
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the collection loop and waits for it to exit
func (c *Collector) Stop() {
	close(c.stopChan)
	<-c.done
}

func (c *Collector) collectLoop() {
	defer close(c.done)

	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	c.collectDBSize()

	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()

	MediaTotal.WithLabelValues("image").Set(float64(stats.TotalImages))
	MediaTotal.WithLabelValues("video").Set(float64(stats.TotalVideos))
	MediaGeotaggedTotal.Set(float64(stats.Geotagged))
	UsersTotal.Set(float64(stats.Users))
	TrashedGrantsTotal.Set(float64(stats.TrashedGrants))
	DBConnectionsOpen.Set(float64(stats.OpenConns))

	logging.Debug("Metrics collected: images=%d, videos=%d, geotagged=%d, users=%d",
		stats.TotalImages, stats.TotalVideos, stats.Geotagged, stats.Users)
}

func (c *Collector) collectDBSize() {
	if c.dbPath == "" {
		return
	}
	for label, suffix := range map[string]string{"main": "", "wal": "-wal", "shm": "-shm"} {
		info, err := os.Stat(c.dbPath + suffix)
		if err != nil {
			DBSizeBytes.WithLabelValues(label).Set(0)
			continue
		}
		DBSizeBytes.WithLabelValues(label).Set(float64(info.Size()))
	}
}
