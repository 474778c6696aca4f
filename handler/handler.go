package handler

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Anson-y-chang/stream.io/constant"
	"github.com/Anson-y-chang/stream.io/dto"
	"github.com/Anson-y-chang/stream.io/entities"
	"github.com/Anson-y-chang/stream.io/repository"
	"github.com/Anson-y-chang/stream.io/service"
)

const (
	contentTypePlaylist  = "application/vnd.apple.mpegurl"
	contentTypeSegment   = "video/mp2t"
	contentTypeThumbnail = "image/jpeg"
)

var errPathEscapesJob = errors.New("path escapes job root")

// Handler is the HTTP surface: job submission for the ingestion backend,
// status polling, playlist/segment delivery and deletion.
type Handler struct {
	repo    repository.JobRepository
	orch    *service.Orchestrator
	cleanup *service.Cleanup
	dataDir string
}

func NewHandler(repo repository.JobRepository, orch *service.Orchestrator, cleanup *service.Cleanup, dataDir string) *Handler {
	return &Handler{
		repo:    repo,
		orch:    orch,
		cleanup: cleanup,
		dataDir: dataDir,
	}
}

func (h *Handler) Register(r *gin.Engine) {
	api := r.Group("/api")
	api.POST("/jobs", h.SubmitJob)
	api.GET("/jobs", h.ListJobs)
	api.GET("/jobs/:id", h.GetJobStatus)
	api.GET("/jobs/:id/manifest", h.GetManifest)
	api.GET("/jobs/:id/thumbnail", h.GetThumbnail)
	api.GET("/jobs/:id/:quality/:file", h.GetMedia)
	api.DELETE("/jobs/:id", h.DeleteJob)
}

func (h *Handler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.orch.Submit(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitJobResponse{
		Id:     id,
		Status: constant.JobStatusProcessing,
	})
}

func (h *Handler) ListJobs(c *gin.Context) {
	jobs, err := h.repo.ListJobs(c.Request.Context())
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("failed to list jobs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}

	out := make([]dto.JobStatusResponse, len(jobs))
	for i, job := range jobs {
		out[i] = toStatusResponse(job)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetJobStatus(c *gin.Context) {
	job, ok := h.findJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toStatusResponse(job))
}

func (h *Handler) GetManifest(c *gin.Context) {
	job, ok := h.findJob(c)
	if !ok {
		return
	}
	if job.Status != constant.JobStatusCompleted || job.ManifestPath == "" {
		notFound(c)
		return
	}

	full, err := resolveJobFile(service.JobRoot(h.dataDir, job.ID), job.ManifestPath)
	if err != nil {
		notFound(c)
		return
	}
	h.serveFile(c, full, contentTypePlaylist)
}

// GetMedia serves a variant playlist or a media segment. The resolved path
// must stay inside the job's own root and the job must actually own the
// artifact; anything else, including a quality not yet produced on a
// processing job, is a 404.
func (h *Handler) GetMedia(c *gin.Context) {
	job, ok := h.findJob(c)
	if !ok {
		return
	}

	file := c.Param("file")
	var contentType string
	switch {
	case strings.HasSuffix(file, ".m3u8"):
		contentType = contentTypePlaylist
	case strings.HasSuffix(file, ".ts"):
		contentType = contentTypeSegment
	default:
		notFound(c)
		return
	}

	full, err := resolveJobFile(service.JobRoot(h.dataDir, job.ID), c.Param("quality"), file)
	if err != nil {
		notFound(c)
		return
	}
	h.serveFile(c, full, contentType)
}

func (h *Handler) GetThumbnail(c *gin.Context) {
	job, ok := h.findJob(c)
	if !ok {
		return
	}
	if job.ThumbnailPath == "" {
		notFound(c)
		return
	}

	full, err := resolveJobFile(service.JobRoot(h.dataDir, job.ID), job.ThumbnailPath)
	if err != nil {
		notFound(c)
		return
	}
	h.serveFile(c, full, contentTypeThumbnail)
}

func (h *Handler) DeleteJob(c *gin.Context) {
	err := h.cleanup.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(c)
			return
		}
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("failed to delete job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) findJob(c *gin.Context) (*entities.Job, bool) {
	job, err := h.repo.FindJobById(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(c)
			return nil, false
		}
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("failed to find job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return nil, false
	}
	return job, true
}

// serveFile streams whole files with an explicit Content-Length. The
// content type is decided by the caller, never sniffed.
func (h *Handler) serveFile(c *gin.Context, fullPath, contentType string) {
	f, err := os.Open(fullPath)
	if err != nil {
		notFound(c)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		notFound(c)
		return
	}

	c.DataFromReader(http.StatusOK, info.Size(), contentType, f, nil)
}

// resolveJobFile joins the requested parts under the job root and rejects
// any result escaping it.
func resolveJobFile(root string, parts ...string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	full, err := filepath.Abs(filepath.Join(append([]string{root}, parts...)...))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(full, absRoot+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", errPathEscapesJob, full)
	}
	return full, nil
}

func toStatusResponse(job *entities.Job) dto.JobStatusResponse {
	resp := dto.JobStatusResponse{
		Id:              job.ID,
		Title:           job.Title,
		Description:     job.Description,
		Status:          job.Status,
		DurationSeconds: job.DurationSeconds,
		CreatedAt:       job.CreatedAt,
		CompletedAt:     job.CompletedAt,
	}
	if job.Status != constant.JobStatusCompleted {
		return resp
	}

	resp.ManifestPath = job.ManifestPath
	resp.Renditions = make([]dto.RenditionInfo, len(job.Renditions))
	for i, r := range job.Renditions {
		resp.Renditions[i] = dto.RenditionInfo{
			Quality:      r.Quality,
			Width:        r.Width,
			Height:       r.Height,
			BitrateKbps:  r.BitrateKbps,
			PlaylistPath: r.PlaylistPath,
			ProducedAt:   r.ProducedAt,
		}
	}
	return resp
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}
