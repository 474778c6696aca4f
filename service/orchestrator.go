package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/Anson-y-chang/stream.io/config"
	"github.com/Anson-y-chang/stream.io/constant"
	"github.com/Anson-y-chang/stream.io/dto"
	"github.com/Anson-y-chang/stream.io/entities"
	"github.com/Anson-y-chang/stream.io/repository"
)

const defaultEncodeTimeout = 15 * time.Minute

// JobRoot returns the output directory owned exclusively by one job. Every
// rendition, the thumbnail and the master playlist live under it.
func JobRoot(dataDir, jobId string) string {
	return filepath.Join(dataDir, "jobs", jobId)
}

// Orchestrator owns the job state machine. Submit persists a PROCESSING
// record and returns immediately; a background goroutine fans out one
// encode per ladder entry, joins all results, then commits exactly one
// terminal transition. Encode slots are shared across all jobs via a
// weighted semaphore so concurrent uploads cannot overload the engine.
type Orchestrator struct {
	repo     repository.JobRepository
	engine   Engine
	manifest ManifestWriter
	mirror   *Mirror
	cfg      *config.Config
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
}

func NewOrchestrator(repo repository.JobRepository, engine Engine, manifest ManifestWriter, mirror *Mirror, cfg *config.Config) *Orchestrator {
	limit := cfg.Transcode.MaxParallelEncodes
	if limit < 1 {
		limit = 1
	}
	return &Orchestrator{
		repo:     repo,
		engine:   engine,
		manifest: manifest,
		mirror:   mirror,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(limit)),
	}
}

func (o *Orchestrator) Submit(ctx context.Context, req dto.SubmitJobRequest) (string, error) {
	return o.SubmitWithId(ctx, uuid.New(), req)
}

// SubmitWithId creates the job record before any encode starts, so a
// status poll issued right after submission always finds the job. The
// caller-supplied id lets queue intake stay idempotent on redelivery.
func (o *Orchestrator) SubmitWithId(ctx context.Context, id uuid.UUID, req dto.SubmitJobRequest) (string, error) {
	ladder, err := ResolveLadder(req.Qualities)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(req.SourcePath); err != nil {
		return "", fmt.Errorf("source not readable: %w", err)
	}

	labels := make([]string, len(ladder))
	for i, q := range ladder {
		labels[i] = q.Label
	}

	job := &entities.Job{
		ID:            id.String(),
		Title:         req.Title,
		Description:   req.Description,
		SourcePath:    req.SourcePath,
		QualityLadder: strings.Join(labels, ","),
		Status:        constant.JobStatusProcessing,
		CreatedAt:     time.Now().UTC(),
	}
	if err := o.repo.CreateJob(ctx, job); err != nil {
		return "", err
	}

	// The request context dies with the upload response; background work
	// carries only its logger forward.
	bgCtx := zerolog.Ctx(ctx).WithContext(context.Background())

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.process(bgCtx, job.ID, req.SourcePath, ladder)
	}()

	return job.ID, nil
}

// Wait blocks until every in-flight job has reached a terminal state.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

type encodeResult struct {
	artifact *RenditionArtifact
	err      error
}

func (o *Orchestrator) process(ctx context.Context, jobId, sourcePath string, ladder []QualitySpec) {
	logger := zerolog.Ctx(ctx).With().Str("job_id", jobId).Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Int("ladder_size", len(ladder)).Msg("processing job")

	root := JobRoot(o.cfg.Transcode.DataDir, jobId)
	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		logger.Error().Err(err).Msg("failed to create job output directory")
		o.fail(ctx, jobId, root)
		return
	}

	o.probeMedia(ctx, jobId, sourcePath, root)

	results := make([]encodeResult, len(ladder))
	var wg sync.WaitGroup
	for i, q := range ladder {
		wg.Add(1)
		go func(i int, q QualitySpec) {
			defer wg.Done()
			results[i] = o.encodeOne(ctx, sourcePath, root, q)
		}(i, q)
	}
	// Barrier: the terminal transition below happens-after every rendition
	// has finished, success or not.
	wg.Wait()

	succeeded := make([]*RenditionArtifact, 0, len(ladder))
	for i, res := range results {
		if res.err != nil {
			logger.Warn().Err(res.err).Str("quality", ladder[i].Label).Msg("rendition failed")
			continue
		}
		succeeded = append(succeeded, res.artifact)
	}

	if len(succeeded) == 0 {
		logger.Error().Msg("all renditions failed")
		o.fail(ctx, jobId, root)
		return
	}

	manifestPath, err := o.manifest.Write(root, succeeded)
	if err != nil {
		logger.Error().Err(err).Msg("failed to write master playlist")
		o.fail(ctx, jobId, root)
		return
	}

	if err := o.mirror.UploadTree(ctx, root, jobId); err != nil {
		logger.Warn().Err(err).Msg("failed to mirror artifacts to object storage")
	}

	renditions := make([]*entities.Rendition, len(succeeded))
	for i, a := range succeeded {
		renditions[i] = &entities.Rendition{
			Quality:      a.Quality.Label,
			Width:        a.Quality.Width,
			Height:       a.Quality.Height,
			BitrateKbps:  a.Quality.BitrateKbps,
			PlaylistPath: a.PlaylistPath,
			ProducedAt:   a.ProducedAt,
		}
	}
	if err := o.repo.CompleteJob(ctx, jobId, manifestPath, renditions, time.Now().UTC()); err != nil {
		logger.Error().Err(err).Msg("failed to mark job completed")
		o.removeOrphanedOutput(ctx, err, root)
		return
	}

	logger.Info().Int("renditions", len(succeeded)).Msg("job completed")
}

func (o *Orchestrator) encodeOne(ctx context.Context, sourcePath, root string, q QualitySpec) encodeResult {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return encodeResult{err: &EncodeError{Quality: q.Label, Cause: err}}
	}
	defer o.sem.Release(1)

	timeout := o.cfg.Transcode.EncodeTimeout
	if timeout <= 0 {
		timeout = defaultEncodeTimeout
	}
	encodeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	artifact, err := o.engine.Encode(encodeCtx, sourcePath, root, q)
	return encodeResult{artifact: artifact, err: err}
}

// probeMedia records duration and thumbnail on the job, best effort. The
// pipeline keeps going without either.
func (o *Orchestrator) probeMedia(ctx context.Context, jobId, sourcePath, root string) {
	logger := zerolog.Ctx(ctx)

	seconds, err := o.engine.Probe(ctx, sourcePath)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to probe source duration")
	}

	thumbnailPath := ""
	if err := o.engine.Thumbnail(ctx, sourcePath, filepath.Join(root, "thumbnail.jpg")); err != nil {
		logger.Warn().Err(err).Msg("failed to extract thumbnail")
	} else {
		thumbnailPath = "thumbnail.jpg"
	}

	if seconds == 0 && thumbnailPath == "" {
		return
	}
	if err := o.repo.UpdateJobMedia(ctx, jobId, seconds, thumbnailPath); err != nil {
		logger.Warn().Err(err).Msg("failed to record duration and thumbnail")
	}
}

func (o *Orchestrator) fail(ctx context.Context, jobId, root string) {
	if err := o.repo.FailJob(ctx, jobId, time.Now().UTC()); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to mark job failed")
		o.removeOrphanedOutput(ctx, err, root)
	}
}

// removeOrphanedOutput handles a delete racing an in-flight job: once the
// record is gone, any output this worker produced afterwards is orphaned
// and gets swept so no directory survives outside the job store.
func (o *Orchestrator) removeOrphanedOutput(ctx context.Context, err error, root string) {
	if !errors.Is(err, repository.ErrNotFound) {
		return
	}
	if rmErr := os.RemoveAll(root); rmErr != nil {
		zerolog.Ctx(ctx).Warn().Err(rmErr).Str("dir", root).Msg("stale output directory left behind")
	}
}
