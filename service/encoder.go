package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/Anson-y-chang/stream.io/config"
)

// RenditionArtifact is the output of one successful encode: a variant
// playlist plus its media segments under {jobRoot}/{label}/.
type RenditionArtifact struct {
	Quality      QualitySpec
	PlaylistPath string // relative to the job root, e.g. "720p/playlist.m3u8"
	ProducedAt   time.Time
}

// Engine drives the external media engine for a single source file. Encode
// may be called concurrently for different qualities of the same source;
// each call writes only into its own quality subdirectory. The engine does
// not retry: any crash, non-zero exit or context deadline is reported as an
// *EncodeError and retry policy stays with the caller.
type Engine interface {
	Encode(ctx context.Context, sourcePath, jobRoot string, q QualitySpec) (*RenditionArtifact, error)
	Thumbnail(ctx context.Context, sourcePath, outPath string) error
	Probe(ctx context.Context, sourcePath string) (float64, error)
}

type ffmpegEngine struct {
	cfg *config.Config
}

func NewFFmpegEngine(cfg *config.Config) Engine {
	return &ffmpegEngine{cfg: cfg}
}

func (e *ffmpegEngine) Encode(ctx context.Context, sourcePath, jobRoot string, q QualitySpec) (*RenditionArtifact, error) {
	outputDir := filepath.Join(jobRoot, q.Label)
	if err := os.MkdirAll(outputDir, os.ModePerm); err != nil {
		return nil, &EncodeError{Quality: q.Label, Cause: err}
	}

	playlistFile := filepath.Join(outputDir, "playlist.m3u8")
	bitrate := fmt.Sprintf("%dk", q.BitrateKbps)

	args := []string{
		"-i", sourcePath,
		"-vf", fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease,pad=w=%d:h=%d:x=(ow-iw)/2:y=(oh-ih)/2",
			q.Width, q.Height, q.Width, q.Height),

		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "22",
		"-b:v", bitrate,
		"-maxrate", bitrate,
		"-bufsize", bitrate,

		"-c:a", "aac",
		"-b:a", q.AudioRate,

		"-f", "hls",
		"-hls_time", "6",
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outputDir, "segment_%03d.ts"),
		playlistFile,
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath(), args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("ffmpeg aborted: %w", ctxErr)
		} else {
			zerolog.Ctx(ctx).Debug().Str("quality", q.Label).Msgf("FFmpeg output:\n%s", string(output))
			err = fmt.Errorf("ffmpeg execution failed: %w", err)
		}
		return nil, &EncodeError{Quality: q.Label, Cause: err}
	}

	if _, err := os.Stat(playlistFile); err != nil {
		return nil, &EncodeError{Quality: q.Label, Cause: fmt.Errorf("variant playlist missing after encode: %w", err)}
	}

	return &RenditionArtifact{
		Quality:      q,
		PlaylistPath: path.Join(q.Label, "playlist.m3u8"),
		ProducedAt:   time.Now().UTC(),
	}, nil
}

// Thumbnail extracts a single frame near the start of the source. Failure
// is non-fatal to the pipeline; callers decide whether to keep going.
func (e *ffmpegEngine) Thumbnail(ctx context.Context, sourcePath, outPath string) error {
	cmd := exec.CommandContext(ctx, e.ffmpegPath(),
		"-ss", "1",
		"-i", sourcePath,
		"-frames:v", "1",
		"-q:v", "3",
		"-y", outPath,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		zerolog.Ctx(ctx).Debug().Msgf("FFmpeg thumbnail output:\n%s", string(output))
		return fmt.Errorf("thumbnail extraction failed: %w", err)
	}
	return nil
}

func (e *ffmpegEngine) ffmpegPath() string {
	if e.cfg.Transcode.FFmpegPath != "" {
		return e.cfg.Transcode.FFmpegPath
	}
	return "ffmpeg"
}
