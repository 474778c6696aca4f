package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Anson-y-chang/stream.io/config"
	"github.com/Anson-y-chang/stream.io/constant"
	"github.com/Anson-y-chang/stream.io/dto"
	"github.com/Anson-y-chang/stream.io/entities"
	"github.com/Anson-y-chang/stream.io/repository"
	"github.com/Anson-y-chang/stream.io/service"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// stubEngine succeeds every encode, writing a minimal playlist and segment
// so the asset routes have real files to serve.
type stubEngine struct{}

func (stubEngine) Encode(ctx context.Context, sourcePath, jobRoot string, q service.QualitySpec) (*service.RenditionArtifact, error) {
	dir := filepath.Join(jobRoot, q.Label)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &service.EncodeError{Quality: q.Label, Cause: err}
	}
	if err := os.WriteFile(filepath.Join(dir, "playlist.m3u8"), []byte("#EXTM3U\n"), 0o644); err != nil {
		return nil, &service.EncodeError{Quality: q.Label, Cause: err}
	}
	return &service.RenditionArtifact{
		Quality:      q,
		PlaylistPath: q.Label + "/playlist.m3u8",
		ProducedAt:   time.Now().UTC(),
	}, nil
}

func (stubEngine) Thumbnail(ctx context.Context, sourcePath, outPath string) error {
	return os.WriteFile(outPath, []byte{0xFF, 0xD8}, 0o644)
}

func (stubEngine) Probe(ctx context.Context, sourcePath string) (float64, error) {
	return 12.0, nil
}

type testEnv struct {
	router  *gin.Engine
	repo    repository.JobRepository
	orch    *service.Orchestrator
	dataDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "jobs.db")+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	repo := repository.NewRepoWithDB(db)
	require.NoError(t, repo.Migrate())

	cfg := &config.Config{
		Transcode: config.Transcode{
			DataDir:            t.TempDir(),
			MaxParallelEncodes: 4,
			EncodeTimeout:      time.Minute,
		},
	}
	orch := service.NewOrchestrator(repo, stubEngine{}, service.NewManifestWriter(), nil, cfg)
	cleanup := service.NewCleanup(repo, nil, cfg)

	r := gin.New()
	NewHandler(repo, orch, cleanup, cfg.Transcode.DataDir).Register(r)

	return &testEnv{
		router:  r,
		repo:    repo,
		orch:    orch,
		dataDir: cfg.Transcode.DataDir,
	}
}

// seedCompletedJob writes a finished job straight into the store and the
// filesystem, bypassing the pipeline.
func (e *testEnv) seedCompletedJob(t *testing.T) string {
	t.Helper()
	id := uuid.New().String()
	root := service.JobRoot(e.dataDir, id)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "720p"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, service.MasterPlaylistName),
		[]byte("#EXTM3U\n#EXT-X-VERSION:3\n\n#EXT-X-STREAM-INF:BANDWIDTH=2692000,RESOLUTION=1280x720,CODECS=\"avc1.640028,mp4a.40.2\"\n720p/playlist.m3u8\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "720p", "playlist.m3u8"), []byte("#EXTM3U\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "720p", "segment_000.ts"), []byte{0x47, 0x00, 0x11}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "thumbnail.jpg"), []byte{0xFF, 0xD8}, 0o644))

	job := &entities.Job{
		ID:            id,
		Title:         "seeded",
		SourcePath:    filepath.Join(e.dataDir, "source-"+id+".mp4"),
		ThumbnailPath: "thumbnail.jpg",
		QualityLadder: "720p",
		Status:        constant.JobStatusProcessing,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, e.repo.CreateJob(context.Background(), job))
	require.NoError(t, e.repo.CompleteJob(context.Background(), id, service.MasterPlaylistName, []*entities.Rendition{
		{Quality: "720p", Width: 1280, Height: 720, BitrateKbps: 2500, PlaylistPath: "720p/playlist.m3u8", ProducedAt: time.Now().UTC()},
	}, time.Now().UTC()))
	return id
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	e.router.ServeHTTP(w, req)
	return w
}

func TestGetManifest(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedCompletedJob(t)

	w := env.get("/api/jobs/" + id + "/manifest")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", w.Header().Get("Content-Type"))
	assert.Equal(t, strconv.Itoa(w.Body.Len()), w.Header().Get("Content-Length"))
	assert.Contains(t, w.Body.String(), "720p/playlist.m3u8")
}

func TestGetVariantPlaylist(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedCompletedJob(t)

	w := env.get("/api/jobs/" + id + "/720p/playlist.m3u8")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", w.Header().Get("Content-Type"))
}

func TestGetSegment(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedCompletedJob(t)

	w := env.get("/api/jobs/" + id + "/720p/segment_000.ts")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "video/mp2t", w.Header().Get("Content-Type"))
	assert.Equal(t, "3", w.Header().Get("Content-Length"))
}

func TestGetThumbnail(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedCompletedJob(t)

	w := env.get("/api/jobs/" + id + "/thumbnail")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
}

func TestUnknownJobIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.New().String()

	assert.Equal(t, http.StatusNotFound, env.get("/api/jobs/"+id).Code)
	assert.Equal(t, http.StatusNotFound, env.get("/api/jobs/"+id+"/manifest").Code)
	assert.Equal(t, http.StatusNotFound, env.get("/api/jobs/"+id+"/720p/segment_000.ts").Code)
}

func TestProcessingJobHidesArtifacts(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.New().String()
	require.NoError(t, env.repo.CreateJob(context.Background(), &entities.Job{
		ID:            id,
		QualityLadder: "720p",
		Status:        constant.JobStatusProcessing,
		CreatedAt:     time.Now().UTC(),
	}))

	w := env.get("/api/jobs/" + id)
	require.Equal(t, http.StatusOK, w.Code)
	var status dto.JobStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, constant.JobStatusProcessing, status.Status)
	assert.Empty(t, status.ManifestPath)
	assert.Empty(t, status.Renditions)

	assert.Equal(t, http.StatusNotFound, env.get("/api/jobs/"+id+"/manifest").Code)
	assert.Equal(t, http.StatusNotFound, env.get("/api/jobs/"+id+"/720p/playlist.m3u8").Code)
}

func TestStatusResponseIsStable(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedCompletedJob(t)

	a := env.get("/api/jobs/" + id)
	b := env.get("/api/jobs/" + id)
	require.Equal(t, http.StatusOK, a.Code)
	assert.Equal(t, a.Body.Bytes(), b.Body.Bytes())
}

func TestPathTraversalRejected(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedCompletedJob(t)

	// A file outside every job root that must never leak.
	secret := filepath.Join(env.dataDir, "secret.ts")
	require.NoError(t, os.WriteFile(secret, []byte("secret"), 0o644))

	for _, path := range []string{
		"/api/jobs/" + id + "/720p/%2e%2e%2f%2e%2e%2fsecret.ts",
		"/api/jobs/" + id + "/%2e%2e/%2e%2e/secret.ts",
		"/api/jobs/" + id + "/720p/..%2f..%2fsecret.ts",
	} {
		w := env.get(path)
		assert.NotEqual(t, http.StatusOK, w.Code, "path %s must not be served", path)
		assert.NotContains(t, w.Body.String(), "secret")
	}
}

func TestResolveJobFileRejectsEscapes(t *testing.T) {
	root := filepath.Join(t.TempDir(), "job")
	require.NoError(t, os.MkdirAll(root, 0o755))

	_, err := resolveJobFile(root, "720p", "playlist.m3u8")
	assert.NoError(t, err)

	for _, parts := range [][]string{
		{"..", "other", "segment.ts"},
		{"720p", "..", "..", "secret.ts"},
		{"../../etc", "passwd.ts"},
	} {
		_, err := resolveJobFile(root, parts...)
		assert.Error(t, err, "parts %v must be rejected", parts)
	}
}

func TestNonMediaExtensionIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedCompletedJob(t)

	root := service.JobRoot(env.dataDir, id)
	require.NoError(t, os.WriteFile(filepath.Join(root, "720p", "notes.txt"), []byte("x"), 0o644))

	assert.Equal(t, http.StatusNotFound, env.get("/api/jobs/"+id+"/720p/notes.txt").Code)
}

func TestSubmitJob(t *testing.T) {
	env := newTestEnv(t)

	src := filepath.Join(t.TempDir(), "upload.mp4")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	body, err := json.Marshal(dto.SubmitJobRequest{SourcePath: src, Title: "cats", Qualities: []string{"360p"}})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp dto.SubmitJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Id)
	assert.Equal(t, constant.JobStatusProcessing, resp.Status)

	env.orch.Wait()
	job, err := env.repo.FindJobById(context.Background(), resp.Id)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusCompleted, job.Status)
}

func TestSubmitJobRejectsBadRequest(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader([]byte(`{"source_path":"/does/not/exist.mp4"}`)))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteJob(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedCompletedJob(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/jobs/"+id, nil)
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	_, err := os.Stat(service.JobRoot(env.dataDir, id))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, http.StatusNotFound, env.get("/api/jobs/"+id).Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/api/jobs/"+id, nil)
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t)
	env.seedCompletedJob(t)
	env.seedCompletedJob(t)

	w := env.get("/api/jobs")
	require.Equal(t, http.StatusOK, w.Code)
	var jobs []dto.JobStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 2)
}
