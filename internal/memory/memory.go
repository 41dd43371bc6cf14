package memory

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"momento/internal/logging"
	"momento/internal/metrics"
)

// Config holds memory backpressure configuration
type Config struct {
	// LimitBytes is the soft limit; 0 means use GOMEMLIMIT, and no limit
	// at all disables backpressure.
	LimitBytes int64

	// ResumeWaterMark is the usage ratio below which paused dispatch resumes.
	ResumeWaterMark float64

	// PauseWaterMark is the usage ratio at which dispatch pauses.
	PauseWaterMark float64

	CheckInterval time.Duration
}

// DefaultConfig returns the default watermarks
func DefaultConfig() Config {
	return Config{
		ResumeWaterMark: 0.7,
		PauseWaterMark:  0.85,
		CheckInterval:   5 * time.Second,
	}
}

// Gate is what dispatch loops wait on before handing out new work
type Gate interface {
	Wait(ctx context.Context) error
}

// Monitor samples heap usage and pauses work dispatch above the pause
// watermark until usage drops below the resume watermark.
type Monitor struct {
	config   Config
	limit    int64
	stopOnce sync.Once
	stopChan chan struct{}

	mu        sync.Mutex
	current   uint64
	paused    bool
	resumeCh  chan struct{}
	readStats func() uint64
}

// NewMonitor creates a monitor; it does nothing until Start is called
func NewMonitor(config Config) *Monitor {
	limit := config.LimitBytes
	if limit == 0 {
		if l := debug.SetMemoryLimit(-1); l > 0 && l < 1<<62 {
			limit = l
		}
	}

	if limit == 0 {
		logging.Debug("Memory monitor: no limit configured, backpressure disabled")
	}

	return &Monitor{
		config:   config,
		limit:    limit,
		stopChan: make(chan struct{}),
		resumeCh: make(chan struct{}),
		readStats: func() uint64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return stats.Alloc
		},
	}
}

// Start begins sampling in the background
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}
	go m.loop()
}

// Stop ends sampling and releases any waiters
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.mu.Lock()
		if m.paused {
			m.paused = false
			close(m.resumeCh)
			m.resumeCh = make(chan struct{})
		}
		m.mu.Unlock()
	})
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sample()
		case <-m.stopChan:
			return
		}
	}
}

func (m *Monitor) sample() {
	alloc := m.readStats()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = alloc
	if m.limit <= 0 {
		return
	}

	usage := float64(alloc) / float64(m.limit)
	metrics.MemoryUsageRatio.Set(usage)

	switch {
	case usage >= m.config.PauseWaterMark && !m.paused:
		logging.Warn("Memory at %.1f%% of limit, pausing work dispatch", usage*100)
		m.paused = true
		metrics.MemoryPaused.Set(1)
		metrics.MemoryGCPauses.Inc()
		go runtime.GC()
	case usage < m.config.ResumeWaterMark && m.paused:
		logging.Info("Memory at %.1f%% of limit, resuming work dispatch", usage*100)
		m.paused = false
		metrics.MemoryPaused.Set(0)
		close(m.resumeCh)
		m.resumeCh = make(chan struct{})
	}
}

// Wait blocks while dispatch is paused. It returns ctx.Err() if the context
// ends first and nil once work may proceed or the monitor is stopped.
func (m *Monitor) Wait(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	if !m.paused {
		m.mu.Unlock()
		return nil
	}
	resume := m.resumeCh
	m.mu.Unlock()

	select {
	case <-resume:
		return nil
	case <-m.stopChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsPaused reports whether dispatch is currently paused
func (m *Monitor) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Usage returns heap usage as a fraction of the limit, 0 without a limit
func (m *Monitor) Usage() float64 {
	if m.limit == 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.current) / float64(m.limit)
}
