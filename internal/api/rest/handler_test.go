package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equimed/catalog-importer/internal/adapter"
	"github.com/equimed/catalog-importer/internal/api/middleware"
	"github.com/equimed/catalog-importer/internal/config"
	"github.com/equimed/catalog-importer/internal/domain"
	"github.com/equimed/catalog-importer/internal/importer"
	"github.com/equimed/catalog-importer/internal/jobs"
	"github.com/equimed/catalog-importer/internal/logger"
	"github.com/equimed/catalog-importer/internal/progress"
	"github.com/equimed/catalog-importer/internal/store/schema"
)

const testAPIKey = "test-key"

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: true}); err != nil {
		panic(err)
	}
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// memStore is a minimal in-memory Store for handler tests
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	products map[string]*schema.Product
	slugs    map[string]bool
	jobs     map[string]*schema.ImportJob
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[string]*schema.Product),
		slugs:    make(map[string]bool),
		jobs:     make(map[string]*schema.ImportJob),
	}
}

func (f *memStore) GetProductByReference(_ context.Context, ref string) (*schema.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[ref]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *memStore) ProductSlugExists(_ context.Context, slug string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slugs[slug], nil
}

func (f *memStore) CreateProductWithChildren(_ context.Context, p *schema.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.products[p.ExternalReference]; ok {
		return domain.ErrDuplicateReference
	}
	f.nextID++
	p.ID = f.nextID
	f.products[p.ExternalReference] = p
	f.slugs[p.Slug] = true
	return nil
}

func (f *memStore) ReplaceProductChildren(_ context.Context, _ int64, _ []schema.ProductTranslation, _ []schema.ProductMedia) error {
	return nil
}

func (f *memStore) MergeProductChildren(_ context.Context, _ int64, _ []schema.ProductTranslation, _ []schema.ProductMedia) error {
	return nil
}

func (f *memStore) CreateImportJob(_ context.Context, job *schema.ImportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
	return nil
}

func (f *memStore) FinishImportJob(_ context.Context, job *schema.ImportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
	return nil
}

func (f *memStore) GetImportJob(_ context.Context, id string) (*schema.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

type testEnv struct {
	router   *gin.Engine
	store    *memStore
	progress *progress.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()

	st := newMemStore()
	cfg := config.ImportConfig{
		AssetsRoot: filepath.Join(root, "assets"),
		ReportDir:  filepath.Join(root, "reports"),
	}
	imp := importer.New(st, adapter.NewHTTPClient(0), adapter.NewFileSystem(), adapter.NewClock(), cfg)

	progressStore := progress.NewMemoryStore()
	runner := jobs.NewRunner(progressStore, adapter.NewClock())

	router := gin.New()
	h := NewHandler(imp, runner, progressStore, st)
	SetupRoutes(router, h, middleware.AuthConfig{APIKeys: []string{testAPIKey}})

	return &testEnv{router: router, store: st, progress: progressStore}
}

func (e *testEnv) waitTerminal(t *testing.T, jobID string) *progress.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := e.progress.Get(context.Background(), jobID)
		if err == nil && snap.Status.Terminal() {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestSubmitImportRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/imports", strings.NewReader(`{"source_url":"http://example.com/x.csv"}`))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubmitImportRejectsUnknownPolicy(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := multipartCSV(t, "catalog.csv", "reference,name_en\nPM-1,Monitor", map[string]string{
		"on_conflict": "upsert",
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/imports", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "APIKey "+testAPIKey)
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitImportMultipart(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := multipartCSV(t, "catalog.csv", "reference,name_en\nPM-2000,Patient Monitor", map[string]string{
		"category": "monitors",
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/imports", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "APIKey "+testAPIKey)
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)

	snap := env.waitTerminal(t, resp.JobID)
	assert.Equal(t, progress.StatusCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress)

	// the record landed and the job row was persisted
	_, err := env.store.GetProductByReference(context.Background(), "PM-2000")
	assert.NoError(t, err)
	job, err := env.store.GetImportJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, schema.ImportJobCompleted, job.Status)
	assert.Equal(t, 1, job.Imported)
}

func TestGetImportJobFromProgress(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.progress.Put(context.Background(), "job-1", progress.Snapshot{
		Status:      progress.StatusProcessing,
		Progress:    42,
		CurrentStep: "downloading",
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/imports/job-1", nil)
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var snap progress.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, progress.StatusProcessing, snap.Status)
	assert.Equal(t, 42, snap.Progress)
	assert.Equal(t, "downloading", snap.CurrentStep)
}

func TestGetImportJobFallsBackToStore(t *testing.T) {
	env := newTestEnv(t)

	now := time.Now().UTC()
	require.NoError(t, env.store.CreateImportJob(context.Background(), &schema.ImportJob{
		ID:         "expired-job",
		Status:     schema.ImportJobCompleted,
		Processed:  7,
		Imported:   7,
		FinishedAt: &now,
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/imports/expired-job", nil)
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var snap progress.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, progress.StatusCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, 7, snap.ProcessedItems)
}

func TestGetImportJobFallsBackToStoreProcessing(t *testing.T) {
	env := newTestEnv(t)

	// a run whose snapshot was lost before any terminal write
	require.NoError(t, env.store.CreateImportJob(context.Background(), &schema.ImportJob{
		ID:     "orphaned-job",
		Status: schema.ImportJobProcessing,
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/imports/orphaned-job", nil)
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var snap progress.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, progress.StatusProcessing, snap.Status)
	assert.Equal(t, 0, snap.Progress)
}

func TestGetImportJobNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/imports/nope", nil)
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func multipartCSV(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)

	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	return &buf, mw.FormDataContentType()
}
