package startup

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"momento/internal/logging"
)

// Tools records which external programs were found at startup
type Tools struct {
	ExifTool bool
	FFprobe  bool
	FFmpeg   bool
	Convert  bool
}

var toolChecks = []struct {
	name string
	args []string
	set  func(*Tools)
	hint string
}{
	{"exiftool", []string{"-ver"}, func(t *Tools) { t.ExifTool = true }, "image metadata will be limited to dimensions"},
	{"ffprobe", []string{"-version"}, func(t *Tools) { t.FFprobe = true }, "video duration and dimensions will be unknown"},
	{"ffmpeg", []string{"-version"}, func(t *Tools) { t.FFmpeg = true }, "video thumbnails will not be generated"},
	{"convert", []string{"-version"}, func(t *Tools) { t.Convert = true }, "formats libvips cannot read may lack thumbnails"},
}

// ProbeTools looks up each external tool and asks it for its version.
// Missing tools are logged and never fatal.
func ProbeTools() Tools {
	var tools Tools
	for _, check := range toolChecks {
		version, err := toolVersion(check.name, check.args...)
		if err != nil {
			logging.Warn("  [--] %-9s %v (%s)", check.name, err, check.hint)
			continue
		}
		check.set(&tools)
		logging.Info("  [OK] %-9s %s", check.name, version)
	}
	return tools
}

func toolVersion(name string, args ...string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", err
	}
	logging.Debug("  %s path: %s", name, path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, path, args...).Output()
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	return strings.TrimSpace(line), nil
}
