package startup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"momento/internal/logging"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// ThumbnailConfig sizes and encodes thumbnails
type ThumbnailConfig struct {
	Size              int `yaml:"size" validate:"min=16,max=4096"`
	TinySize          int `yaml:"tiny_size" validate:"min=8,max=512"`
	Quality           int `yaml:"quality" validate:"min=1,max=100"`
	VideoFrameQuality int `yaml:"video_frame_quality" validate:"min=1,max=31"`
}

// GeocodingConfig configures reverse geocoding
type GeocodingConfig struct {
	Enabled   bool          `yaml:"enabled"`
	URL       string        `yaml:"url" validate:"required,url"`
	UserAgent string        `yaml:"user_agent" validate:"required"`
	Timeout   time.Duration `yaml:"timeout" validate:"min=1s"`
	RateLimit time.Duration `yaml:"rate_limit" validate:"min=0s"`
}

// ImportConfig configures local imports
type ImportConfig struct {
	Concurrency int `yaml:"concurrency" validate:"min=1,max=256"`
}

// WatchConfig configures the watch folder
type WatchConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Notify    bool          `yaml:"notify"`
	Interval  time.Duration `yaml:"interval" validate:"min=1s"`
	Stability time.Duration `yaml:"stability" validate:"min=0s"`
}

// TrashConfig configures trash retention
type TrashConfig struct {
	RetentionDays int           `yaml:"retention_days" validate:"min=1,max=3650"`
	PurgeInterval time.Duration `yaml:"purge_interval" validate:"min=1m"`
}

// Retention returns the retention window as a duration
func (t TrashConfig) Retention() time.Duration {
	return time.Duration(t.RetentionDays) * 24 * time.Hour
}

// Config holds all application configuration. Sections can be set in
// <data dir>/config.yaml; environment variables override the file.
type Config struct {
	DataDir         string `yaml:"-" validate:"required"`
	DatabaseDir     string `yaml:"-" validate:"required"`
	Port            string `yaml:"-" validate:"required,numeric"`
	MetricsPort     string `yaml:"-" validate:"required,numeric"`
	MetricsEnabled  bool   `yaml:"-"`
	LogHealthChecks bool   `yaml:"-"`

	Thumbnails ThumbnailConfig `yaml:"thumbnails"`
	Geocoding  GeocodingConfig `yaml:"geocoding"`
	Import     ImportConfig    `yaml:"import"`
	Watch      WatchConfig     `yaml:"watch"`
	Trash      TrashConfig     `yaml:"trash"`

	// Derived paths
	DatabasePath      string `yaml:"-"`
	OriginalsDir      string `yaml:"-"`
	ThumbnailsDir     string `yaml:"-"`
	TinyThumbnailsDir string `yaml:"-"`
	ImportsDir        string `yaml:"-"`
	WebDAVDir         string `yaml:"-"`
	TrashDir          string `yaml:"-"`

	// ConfigFile is the overlay that was applied, if any
	ConfigFile string `yaml:"-"`

	Tools Tools `yaml:"-"`
}

func defaultConfig(dataDir string) *Config {
	return &Config{
		DataDir:         dataDir,
		DatabaseDir:     filepath.Join(dataDir, "database"),
		Port:            "8080",
		MetricsPort:     "9090",
		MetricsEnabled:  true,
		LogHealthChecks: true,
		Thumbnails: ThumbnailConfig{
			Size:              400,
			TinySize:          48,
			Quality:           85,
			VideoFrameQuality: 2,
		},
		Geocoding: GeocodingConfig{
			URL:       "https://nominatim.openstreetmap.org/reverse",
			UserAgent: "Momento/1.0 (self-hosted)",
			Timeout:   10 * time.Second,
			RateLimit: time.Second,
		},
		Import: ImportConfig{Concurrency: runtime.NumCPU()},
		Watch: WatchConfig{
			Enabled:   true,
			Notify:    true,
			Interval:  30 * time.Second,
			Stability: 10 * time.Second,
		},
		Trash: TrashConfig{
			RetentionDays: 30,
			PurgeInterval: 6 * time.Hour,
		},
	}
}

// LoadConfig loads, validates and logs the configuration and prepares the
// data directories.
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	logConfig(cfg)

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")
	if err := PrepareDirectories(cfg); err != nil {
		return nil, err
	}

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("EXTERNAL TOOLS")
	logging.Info("------------------------------------------------------------")
	cfg.Tools = ProbeTools()

	return cfg, nil
}

// Load resolves configuration from defaults, an optional .env file, the
// optional config.yaml overlay and environment variables, in increasing
// precedence, then validates it. It touches no directories.
func Load() (*Config, error) {
	// A missing .env is normal; variables already set are not overridden.
	_ = godotenv.Load()

	dataDir, err := filepath.Abs(getEnv("MOMENTO_DATA_DIR", "/data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	cfg := defaultConfig(dataDir)

	configFile := getEnv("CONFIG_FILE", filepath.Join(dataDir, "config.yaml"))
	applied, err := applyFile(cfg, configFile)
	if err != nil {
		return nil, err
	}
	if applied {
		cfg.ConfigFile = configFile
	}

	applyEnv(cfg)

	cfg.DatabaseDir, err = filepath.Abs(cfg.DatabaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database directory path: %w", err)
	}
	cfg.DatabasePath = filepath.Join(cfg.DatabaseDir, "momento.db")
	cfg.OriginalsDir = filepath.Join(dataDir, "originals")
	cfg.ThumbnailsDir = filepath.Join(dataDir, "thumbnails")
	cfg.TinyThumbnailsDir = filepath.Join(dataDir, "thumbnails_tiny")
	cfg.ImportsDir = filepath.Join(dataDir, "imports")
	cfg.WebDAVDir = filepath.Join(dataDir, "webdav")
	cfg.TrashDir = filepath.Join(dataDir, "trash")

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DatabaseDir = getEnv("DATABASE_DIR", cfg.DatabaseDir)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.MetricsPort = getEnv("METRICS_PORT", cfg.MetricsPort)
	cfg.MetricsEnabled = getEnvBool("METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.LogHealthChecks = getEnvBool("LOG_HEALTH_CHECKS", cfg.LogHealthChecks)

	cfg.Thumbnails.Size = getEnvInt("THUMBNAIL_SIZE", cfg.Thumbnails.Size)
	cfg.Thumbnails.TinySize = getEnvInt("THUMBNAIL_TINY_SIZE", cfg.Thumbnails.TinySize)
	cfg.Thumbnails.Quality = getEnvInt("THUMBNAIL_QUALITY", cfg.Thumbnails.Quality)
	cfg.Thumbnails.VideoFrameQuality = getEnvInt("VIDEO_FRAME_QUALITY", cfg.Thumbnails.VideoFrameQuality)

	cfg.Geocoding.Enabled = getEnvBool("GEOCODING_ENABLED", cfg.Geocoding.Enabled)
	cfg.Geocoding.URL = getEnv("GEOCODING_URL", cfg.Geocoding.URL)
	cfg.Geocoding.UserAgent = getEnv("GEOCODING_USER_AGENT", cfg.Geocoding.UserAgent)
	cfg.Geocoding.Timeout = getEnvDuration("GEOCODING_TIMEOUT", cfg.Geocoding.Timeout)
	cfg.Geocoding.RateLimit = getEnvDuration("GEOCODING_RATE_LIMIT", cfg.Geocoding.RateLimit)

	cfg.Import.Concurrency = getEnvInt("IMPORT_CONCURRENCY", cfg.Import.Concurrency)

	cfg.Watch.Enabled = getEnvBool("WATCH_ENABLED", cfg.Watch.Enabled)
	cfg.Watch.Notify = getEnvBool("WATCH_NOTIFY", cfg.Watch.Notify)
	cfg.Watch.Interval = getEnvDuration("WATCH_INTERVAL", cfg.Watch.Interval)
	cfg.Watch.Stability = getEnvDuration("WATCH_STABILITY", cfg.Watch.Stability)

	cfg.Trash.RetentionDays = getEnvInt("TRASH_RETENTION_DAYS", cfg.Trash.RetentionDays)
	cfg.Trash.PurgeInterval = getEnvDuration("TRASH_PURGE_INTERVAL", cfg.Trash.PurgeInterval)
}

var validate = func() func(*Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	return func(cfg *Config) error {
		err := v.Struct(cfg)
		if err == nil {
			return nil
		}

		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}
}()

// PrepareDirectories creates every data directory and checks it is writable
func PrepareDirectories(cfg *Config) error {
	dirs := []struct {
		path, name string
	}{
		{cfg.DatabaseDir, "database"},
		{cfg.OriginalsDir, "originals"},
		{cfg.ThumbnailsDir, "thumbnails"},
		{cfg.TinyThumbnailsDir, "tiny thumbnails"},
		{cfg.ImportsDir, "imports"},
		{cfg.WebDAVDir, "webdav"},
		{cfg.TrashDir, "trash"},
	}

	for _, d := range dirs {
		if err := ensureDirectory(d.path, d.name); err != nil {
			return fmt.Errorf("%s directory error: %w", d.name, err)
		}
		if err := testWriteAccess(d.path); err != nil {
			return fmt.Errorf("%s directory is not writable: %w", d.name, err)
		}
		logging.Info("  [OK] %-16s %s", d.name+":", d.path)
	}
	return nil
}

func logConfig(cfg *Config) {
	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	if cfg.ConfigFile != "" {
		logging.Info("  Config file:          %s", cfg.ConfigFile)
	}
	logging.Info("  MOMENTO_DATA_DIR:     %s", cfg.DataDir)
	logging.Info("  DATABASE_DIR:         %s", cfg.DatabaseDir)
	logging.Info("  PORT:                 %s", cfg.Port)
	logging.Info("  METRICS_PORT:         %s", cfg.MetricsPort)
	logging.Info("  METRICS_ENABLED:      %v", cfg.MetricsEnabled)
	logging.Info("  LOG_LEVEL:            %s", logging.GetLevel())
	logging.Info("")
	logging.Info("  Thumbnails:           %dpx / %dpx tiny, quality %d, video frame q%d",
		cfg.Thumbnails.Size, cfg.Thumbnails.TinySize, cfg.Thumbnails.Quality, cfg.Thumbnails.VideoFrameQuality)
	logging.Info("  Import concurrency:   %d", cfg.Import.Concurrency)
	logging.Info("  Watch folder:         %s (every %v, stable after %v)",
		enabledString(cfg.Watch.Enabled), cfg.Watch.Interval, cfg.Watch.Stability)
	logging.Info("  Reverse geocoding:    %s", enabledString(cfg.Geocoding.Enabled))
	if cfg.Geocoding.Enabled {
		logging.Info("    URL:                %s", cfg.Geocoding.URL)
		logging.Info("    Rate limit:         %v", cfg.Geocoding.RateLimit)
	}
	logging.Info("  Trash retention:      %d days (purge every %v)", cfg.Trash.RetentionDays, cfg.Trash.PurgeInterval)
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

func printBanner() {
	banner := `
------------------------------------------------------------
                                         __
   ____ ___  ____  ____ ___  ___  ____  / /_____
  / __ '__ \/ __ \/ __ '__ \/ _ \/ __ \/ __/ __ \
 / / / / / / /_/ / / / / / /  __/ / / / /_/ /_/ /
/_/ /_/ /_/\____/_/ /_/ /_/\___/_/ /_/\__/\____/

------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		logging.Warn("Invalid duration for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
