package service

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	"github.com/Anson-y-chang/stream.io/config"
	"github.com/Anson-y-chang/stream.io/repository"
)

// Cleanup removes everything a job produced: the output tree (renditions,
// thumbnail, master playlist), the uploaded source, any mirrored objects,
// and finally the job record. Filesystem failures are logged and the
// record is removed anyway; a stale directory is garbage, not an error the
// user needs to see. Delete may race an in-flight job — the orchestrator
// then fails to write into the removed tree and converges on its own.
type Cleanup struct {
	repo   repository.JobRepository
	mirror *Mirror
	cfg    *config.Config
}

func NewCleanup(repo repository.JobRepository, mirror *Mirror, cfg *config.Config) *Cleanup {
	return &Cleanup{
		repo:   repo,
		mirror: mirror,
		cfg:    cfg,
	}
}

func (c *Cleanup) Delete(ctx context.Context, jobId string) error {
	job, err := c.repo.FindJobById(ctx, jobId)
	if err != nil {
		return err
	}

	root := JobRoot(c.cfg.Transcode.DataDir, jobId)
	if err := os.RemoveAll(root); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("job_id", jobId).Str("dir", root).Msg("stale output directory left behind")
	}

	if job.SourcePath != "" {
		if err := os.Remove(job.SourcePath); err != nil && !os.IsNotExist(err) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("job_id", jobId).Msg("stale source file left behind")
		}
	}

	if err := c.mirror.RemovePrefix(ctx, jobId); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("job_id", jobId).Msg("stale mirrored objects left behind")
	}

	return c.repo.DeleteJob(ctx, jobId)
}
