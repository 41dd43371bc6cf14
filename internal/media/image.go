package media

import (
	"fmt"
	"image"
	"os"

	"momento/internal/logging"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// MaxImageDimension is the maximum width or height decoded at full
	// size by the pure Go path. Larger images are downscaled first.
	MaxImageDimension = 4096

	// MaxImagePixels caps total pixels (~20MP, ~80MB as RGBA).
	MaxImagePixels = 20_000_000
)

// loadImageConstrained loads an image, downscaling if it exceeds the limits
func loadImageConstrained(path string, maxDimension, maxPixels int) (image.Image, error) {
	width, height, err := Dimensions(path)
	if err != nil {
		logging.Debug("Could not get image dimensions for %s: %v, loading directly", path, err)
		return imaging.Open(path, imaging.AutoOrientation(true))
	}

	pixels := width * height
	if width <= maxDimension && height <= maxDimension && pixels <= maxPixels {
		return imaging.Open(path, imaging.AutoOrientation(true))
	}

	targetWidth, targetHeight := width, height
	if width > maxDimension || height > maxDimension {
		if width > height {
			targetWidth = maxDimension
			targetHeight = height * maxDimension / width
		} else {
			targetHeight = maxDimension
			targetWidth = width * maxDimension / height
		}
	}
	if targetPixels := targetWidth * targetHeight; targetPixels > maxPixels {
		scale := float64(maxPixels) / float64(targetPixels)
		targetWidth = int(float64(targetWidth) * scale)
		targetHeight = int(float64(targetHeight) * scale)
	}

	logging.Info("Constraining large image %s from %dx%d to %dx%d", path, width, height, targetWidth, targetHeight)

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	return imaging.Resize(img, targetWidth, targetHeight, imaging.Lanczos), nil
}

// thumbnailWithImaging is the pure Go fallback: a size x size
// center-cropped JPEG.
func thumbnailWithImaging(src, dst string, size, quality int) error {
	img, err := loadImageConstrained(src, MaxImageDimension, MaxImagePixels)
	if err != nil {
		return fmt.Errorf("decode %s: %w", src, err)
	}

	thumb := imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)
	if err := imaging.Save(thumb, dst, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("save thumbnail: %w", err)
	}
	return nil
}

// Dimensions returns image width and height without fully decoding it
func Dimensions(path string) (int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			logging.Warn("failed to close image file %s: %v", path, err)
		}
	}()

	config, _, err := image.DecodeConfig(file)
	if err != nil {
		return 0, 0, err
	}
	return config.Width, config.Height, nil
}
