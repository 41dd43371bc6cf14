package metadata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"momento/internal/metrics"
)

// ErrToolMissing is returned when an external tool is not on PATH.
var ErrToolMissing = errors.New("tool not installed")

// CommandRunner runs an external tool and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs tools with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrToolMissing, name)
	}

	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s error: %w - %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// runTool wraps a runner call with tool metrics.
func runTool(ctx context.Context, r CommandRunner, name string, args ...string) ([]byte, error) {
	start := time.Now()
	out, err := r.Run(ctx, name, args...)
	metrics.MetadataToolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	outcome := "success"
	switch {
	case errors.Is(err, ErrToolMissing):
		outcome = "missing"
	case err != nil:
		outcome = "error"
	}
	metrics.MetadataToolInvocations.WithLabelValues(name, outcome).Inc()
	return out, err
}
