package media

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// createTestImage creates a gradient test image and saves it to the given path
func createTestImage(t *testing.T, path string, width, height int, format string) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / width),
				G: uint8((y * 255) / height),
				B: 128,
				A: 255,
			})
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create test image file: %v", err)
	}
	defer f.Close()

	switch format {
	case "jpeg", "jpg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
	case "png":
		err = png.Encode(f, img)
	default:
		t.Fatalf("Unsupported test image format: %s", format)
	}
	if err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
}

func TestDimensions(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()

	tests := []struct {
		name   string
		width  int
		height int
		format string
	}{
		{name: "Small JPEG", width: 100, height: 100, format: "jpeg"},
		{name: "Wide PNG", width: 300, height: 120, format: "png"},
		{name: "Tall JPEG", width: 90, height: 400, format: "jpeg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(tmpDir, tt.name+"."+tt.format)
			createTestImage(t, path, tt.width, tt.height, tt.format)

			w, h, err := Dimensions(path)
			if err != nil {
				t.Fatalf("Dimensions() error = %v", err)
			}
			if w != tt.width || h != tt.height {
				t.Errorf("Dimensions() = %dx%d, want %dx%d", w, h, tt.width, tt.height)
			}
		})
	}
}

func TestDimensionsErrors(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	if _, _, err := Dimensions(filepath.Join(tmpDir, "missing.jpg")); err == nil {
		t.Error("Dimensions(missing) error = nil, want error")
	}

	garbage := filepath.Join(tmpDir, "garbage.jpg")
	if err := os.WriteFile(garbage, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Dimensions(garbage); err == nil {
		t.Error("Dimensions(garbage) error = nil, want error")
	}
}

func TestThumbnailWithImagingCropsToSquare(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "wide.png")
	dst := filepath.Join(tmpDir, "thumb.jpg")
	createTestImage(t, src, 640, 240, "png")

	if err := thumbnailWithImaging(src, dst, 48, 85); err != nil {
		t.Fatalf("thumbnailWithImaging() error = %v", err)
	}

	w, h, err := Dimensions(dst)
	if err != nil {
		t.Fatalf("Dimensions(thumb) error = %v", err)
	}
	if w != 48 || h != 48 {
		t.Errorf("thumbnail = %dx%d, want 48x48", w, h)
	}
}

func TestLoadImageConstrained(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "big.png")
	createTestImage(t, src, 400, 200, "png")

	img, err := loadImageConstrained(src, 100, 1_000_000)
	if err != nil {
		t.Fatalf("loadImageConstrained() error = %v", err)
	}
	if got := img.Bounds().Dx(); got != 100 {
		t.Errorf("width = %d, want 100", got)
	}
	if got := img.Bounds().Dy(); got != 50 {
		t.Errorf("height = %d, want 50", got)
	}

	img, err = loadImageConstrained(src, 1000, 1_000_000)
	if err != nil {
		t.Fatalf("loadImageConstrained() error = %v", err)
	}
	if img.Bounds().Dx() != 400 {
		t.Errorf("unconstrained width = %d, want 400", img.Bounds().Dx())
	}
}
