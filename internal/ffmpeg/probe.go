package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Prober reads media metadata through ffprobe.
type Prober struct {
	ffprobePath string
}

// NewProber creates a new Prober with the given ffprobe path
func NewProber(ffprobePath string) *Prober {
	return &Prober{ffprobePath: ffprobePath}
}

// Duration returns the container duration of a media file in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, classify(fmt.Errorf("ffprobe %s: %w", path, err), stderr.String())
	}

	raw := strings.TrimSpace(stdout.String())
	dur, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &RenderError{
			Kind:   KindUnsupportedAsset,
			Detail: fmt.Sprintf("ffprobe returned no duration for %s (got %q)", path, raw),
			Err:    err,
		}
	}
	return dur, nil
}
