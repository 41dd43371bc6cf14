package media

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"momento/internal/logging"
	"momento/internal/mediatypes"
	"momento/internal/metadata"
	"momento/internal/metrics"
)

var log = logging.ForComponent("thumbnails")

// Config controls thumbnail output.
type Config struct {
	ThumbnailsDir     string
	TinyDir           string
	Size              int
	TinySize          int
	Quality           int
	VideoFrameQuality int
}

// DefaultConfig returns the standard sizes with the given roots.
func DefaultConfig(thumbnailsDir, tinyDir string) Config {
	return Config{
		ThumbnailsDir:     thumbnailsDir,
		TinyDir:           tinyDir,
		Size:              400,
		TinySize:          48,
		Quality:           85,
		VideoFrameQuality: 2,
	}
}

// Outcome is the result for one thumbnail size. RelPath is set on success.
type Outcome struct {
	RelPath string
	Err     error
}

// OK reports whether the thumbnail was written.
func (o Outcome) OK() bool { return o.Err == nil && o.RelPath != "" }

// PathPtr returns RelPath for storage, or nil when generation failed.
func (o Outcome) PathPtr() *string {
	if !o.OK() {
		return nil
	}
	p := o.RelPath
	return &p
}

// Result holds independent outcomes for both sizes.
type Result struct {
	Normal Outcome
	Tiny   Outcome
}

// renderFunc writes a size x size JPEG of src to dst.
type renderFunc func(src, dst string, size, quality int) error

// ThumbnailGenerator produces the normal and tiny thumbnail for a stored
// original.
type ThumbnailGenerator struct {
	cfg    Config
	runner metadata.CommandRunner
	render renderFunc
}

// NewThumbnailGenerator creates a generator. runner is used for ffprobe
// and ffmpeg on videos.
func NewThumbnailGenerator(cfg Config, runner metadata.CommandRunner) *ThumbnailGenerator {
	if runner == nil {
		runner = metadata.ExecRunner{}
	}
	return &ThumbnailGenerator{
		cfg:    cfg,
		runner: runner,
		render: renderThumbnail,
	}
}

// ThumbnailRelPath maps an original's storage-relative path to its
// thumbnail's: same partition directory, same stem, .jpg extension.
func ThumbnailRelPath(originalRel string) string {
	dir, base := filepath.Split(originalRel)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+".jpg")
}

// Paths returns the absolute normal and tiny thumbnail paths for originalRel.
func (g *ThumbnailGenerator) Paths(originalRel string) (normal, tiny string) {
	rel := ThumbnailRelPath(originalRel)
	return filepath.Join(g.cfg.ThumbnailsDir, rel), filepath.Join(g.cfg.TinyDir, rel)
}

// Generate writes both thumbnails for the original at originalPath whose
// storage-relative path is relPath. Each size succeeds or fails on its own.
func (g *ThumbnailGenerator) Generate(ctx context.Context, originalPath, relPath string, kind mediatypes.Kind) Result {
	start := time.Now()
	defer func() {
		metrics.ThumbnailGenerationDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	}()

	thumbRel := ThumbnailRelPath(relPath)
	normalPath, tinyPath := g.Paths(relPath)

	source := originalPath
	if kind == mediatypes.KindVideo {
		frame := strings.TrimSuffix(normalPath, filepath.Ext(normalPath)) + ".temp.jpg"
		defer func() {
			if err := os.Remove(frame); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warn("Failed to remove temporary frame %s: %v", frame, err)
			}
		}()

		if err := g.extractFrame(ctx, originalPath, frame); err != nil {
			err = fmt.Errorf("extract video frame: %w", err)
			res := Result{Normal: Outcome{Err: err}, Tiny: Outcome{Err: err}}
			g.record(kind, res)
			return res
		}
		source = frame
	}

	res := Result{
		Normal: g.renderOne(ctx, source, normalPath, thumbRel, g.cfg.Size),
		Tiny:   g.renderOne(ctx, source, tinyPath, thumbRel, g.cfg.TinySize),
	}
	g.record(kind, res)
	return res
}

func (g *ThumbnailGenerator) renderOne(ctx context.Context, src, dst, rel string, size int) Outcome {
	if err := ctx.Err(); err != nil {
		return Outcome{Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Outcome{Err: fmt.Errorf("create thumbnail directory: %w", err)}
	}
	if err := g.render(src, dst, size, g.cfg.Quality); err != nil {
		return Outcome{Err: err}
	}
	return Outcome{RelPath: rel}
}

func (g *ThumbnailGenerator) record(kind mediatypes.Kind, res Result) {
	for size, o := range map[string]Outcome{"normal": res.Normal, "tiny": res.Tiny} {
		outcome := "success"
		if !o.OK() {
			outcome = "error"
		}
		metrics.ThumbnailGenerationsTotal.WithLabelValues(size, string(kind), outcome).Inc()
	}
}

// frameSeek picks a frame near but not at the start, skipping black
// frames and title cards: 10% into the video, capped at 5 seconds.
func frameSeek(duration float64) float64 {
	if duration <= 0 || math.IsNaN(duration) {
		return 1
	}
	return math.Min(duration/10, 5)
}

// extractFrame writes a single JPEG frame of video to dst. If seeking
// fails (very short or damaged files) it retries from the first frame.
func (g *ThumbnailGenerator) extractFrame(ctx context.Context, video, dst string) error {
	start := time.Now()
	defer func() {
		metrics.ThumbnailFrameExtractionDuration.Observe(time.Since(start).Seconds())
	}()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	seek := frameSeek(metadata.ProbeDuration(ctx, g.runner, video))
	quality := strconv.Itoa(g.cfg.VideoFrameQuality)

	_, err := g.runner.Run(ctx, "ffmpeg",
		"-y",
		"-ss", strconv.FormatFloat(seek, 'f', 3, 64),
		"-i", video,
		"-vframes", "1",
		"-q:v", quality,
		dst,
	)
	if err == nil && fileExists(dst) {
		metrics.MetadataToolInvocations.WithLabelValues("ffmpeg", "success").Inc()
		return nil
	}
	if errors.Is(err, metadata.ErrToolMissing) {
		metrics.MetadataToolInvocations.WithLabelValues("ffmpeg", "missing").Inc()
		return err
	}
	log.Debug("Frame extraction at %.3fs failed for %s: %v, retrying from start", seek, video, err)

	_, err = g.runner.Run(ctx, "ffmpeg",
		"-y",
		"-i", video,
		"-vframes", "1",
		"-q:v", quality,
		dst,
	)
	if err == nil && !fileExists(dst) {
		err = errors.New("ffmpeg produced no output")
	}
	if err != nil {
		metrics.MetadataToolInvocations.WithLabelValues("ffmpeg", "error").Inc()
		return err
	}
	metrics.MetadataToolInvocations.WithLabelValues("ffmpeg", "success").Inc()
	return nil
}

// renderThumbnail uses libvips when available and falls back to the pure
// Go path.
func renderThumbnail(src, dst string, size, quality int) error {
	if IsVipsAvailable() {
		err := thumbnailWithVips(src, dst, size, quality)
		if err == nil {
			metrics.ThumbnailBackendTotal.WithLabelValues("vips").Inc()
			return nil
		}
		log.Debug("vips thumbnail failed for %s: %v, falling back", src, err)
	}

	if err := thumbnailWithImaging(src, dst, size, quality); err != nil {
		return err
	}
	metrics.ThumbnailBackendTotal.WithLabelValues("imaging").Inc()
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
