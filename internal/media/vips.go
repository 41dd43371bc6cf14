package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"momento/internal/logging"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
	vipsAvailable   bool
)

// vipsLogSettings maps the application log level to a libvips threshold
// and handler.
func vipsLogSettings() (func(string, vips.LogLevel, string), vips.LogLevel) {
	switch logging.GetLevel() {
	case logging.LevelDebug:
		return func(domain string, level vips.LogLevel, msg string) {
			switch level {
			case vips.LogLevelError, vips.LogLevelCritical:
				logging.Error("[%s] %s", domain, msg)
			case vips.LogLevelWarning:
				logging.Warn("[%s] %s", domain, msg)
			default:
				logging.Debug("[%s] %s", domain, msg)
			}
		}, vips.LogLevelInfo
	case logging.LevelWarn, logging.LevelError:
		return func(domain string, level vips.LogLevel, msg string) {
			if level >= vips.LogLevelError {
				logging.Error("[%s] %s", domain, msg)
			}
		}, vips.LogLevelError
	default:
		return func(domain string, level vips.LogLevel, msg string) {
			switch level {
			case vips.LogLevelError, vips.LogLevelCritical:
				logging.Error("[%s] %s", domain, msg)
			case vips.LogLevelWarning:
				logging.Warn("[%s] %s", domain, msg)
			}
		}, vips.LogLevelWarning
	}
}

// InitVips initializes libvips. Call once at startup; thumbnails fall
// back to pure Go resizing when it was never called.
func InitVips(concurrency int) error {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return nil
	}

	handler, level := vipsLogSettings()
	vips.LoggingSettings(handler, level)

	if concurrency < 1 {
		concurrency = 1
	}
	vips.Startup(&vips.Config{
		ConcurrencyLevel: concurrency,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
		ReportLeaks:      false,
		CacheTrace:       false,
		CollectStats:     false,
	})

	vipsInitialized = true
	vipsAvailable = true
	logging.Info("libvips initialized successfully (version: %s)", vips.Version)
	return nil
}

// ShutdownVips cleans up libvips resources
func ShutdownVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		vipsAvailable = false
		logging.Info("libvips shutdown complete")
	}
}

// IsVipsAvailable returns whether libvips is initialized and available
func IsVipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsAvailable
}

// thumbnailWithVips writes a size x size center-cropped JPEG. libvips
// shrinks during decode, so large originals never load at full size.
func thumbnailWithVips(src, dst string, size, quality int) error {
	if !IsVipsAvailable() {
		return fmt.Errorf("libvips not available")
	}

	ref, err := vips.LoadImageFromFile(src, vips.NewImportParams())
	if err != nil {
		return fmt.Errorf("vips failed to load image: %w", err)
	}
	defer ref.Close()

	if err := ref.AutoRotate(); err != nil {
		return fmt.Errorf("vips auto-rotate failed: %w", err)
	}

	logging.Debug("Vips loaded %s: %dx%d, cropping to %dx%d",
		filepath.Base(src), ref.Width(), ref.Height(), size, size)

	if err := ref.Thumbnail(size, size, vips.InterestingCentre); err != nil {
		return fmt.Errorf("vips resize failed: %w", err)
	}

	data, _, err := ref.ExportJpeg(&vips.JpegExportParams{
		Quality:        quality,
		StripMetadata:  true,
		OptimizeCoding: true,
	})
	if err != nil {
		return fmt.Errorf("vips export failed: %w", err)
	}

	return os.WriteFile(dst, data, 0o644)
}
