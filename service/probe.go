package service

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Probe returns the source duration in seconds via ffprobe. The upload
// flow treats a failed probe as duration zero rather than a job failure.
func (e *ffmpegEngine) Probe(ctx context.Context, sourcePath string) (float64, error) {
	probePath := e.cfg.Transcode.FFprobePath
	if probePath == "" {
		probePath = "ffprobe"
	}

	cmd := exec.CommandContext(ctx, probePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		sourcePath,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe execution failed: %w", err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned unparseable duration %q: %w", strings.TrimSpace(string(output)), err)
	}
	return seconds, nil
}
