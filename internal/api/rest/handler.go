package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/equimed/catalog-importer/internal/domain"
	"github.com/equimed/catalog-importer/internal/importer"
	"github.com/equimed/catalog-importer/internal/jobs"
	"github.com/equimed/catalog-importer/internal/logger"
	"github.com/equimed/catalog-importer/internal/progress"
	"github.com/equimed/catalog-importer/internal/store"
	"github.com/equimed/catalog-importer/internal/store/schema"
)

// maxUploadBytes caps the size of an uploaded CSV
const maxUploadBytes = 32 << 20

// Handler defines the interface for REST API handlers
type Handler interface {
	// SubmitImport starts an asynchronous import run and returns its job ID
	// POST /v1/imports
	// Accepts either a multipart form ("file" + optional "category",
	// "on_conflict") or a JSON body {source_url, category, on_conflict}.
	SubmitImport(c *gin.Context)

	// GetImportJob returns the progress snapshot of an import job
	// GET /v1/imports/:id
	GetImportJob(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /healthz
	HealthCheck(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	importer *importer.Importer
	runner   *jobs.Runner
	progress progress.Store
	store    store.Store
}

// NewHandler creates a new REST API handler
func NewHandler(imp *importer.Importer, runner *jobs.Runner, progressStore progress.Store, dataStore store.Store) Handler {
	return &handler{
		importer: imp,
		runner:   runner,
		progress: progressStore,
		store:    dataStore,
	}
}

// submitRequest is the JSON body variant of an import submission
type submitRequest struct {
	SourceURL  string `json:"source_url"`
	Category   string `json:"category"`
	OnConflict string `json:"on_conflict"`
}

// SubmitImport starts an asynchronous import run
func (h *handler) SubmitImport(c *gin.Context) {
	var (
		data     []byte
		source   string
		category string
		policy   string
	)

	contentType := c.ContentType()
	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			respondBadRequest(c, "missing csv file upload")
			return
		}
		defer func() {
			_ = file.Close()
		}()

		data, err = io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		if err != nil {
			respondBadRequest(c, "failed to read uploaded file")
			return
		}
		if len(data) > maxUploadBytes {
			respondBadRequest(c, "uploaded file too large")
			return
		}

		source = header.Filename
		category = c.PostForm("category")
		policy = c.PostForm("on_conflict")
	} else {
		var req submitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, "invalid request body")
			return
		}
		if req.SourceURL == "" {
			respondBadRequest(c, "source_url is required")
			return
		}
		source = req.SourceURL
		category = req.Category
		policy = req.OnConflict
	}

	onConflict := domain.ConflictPolicy(policy)
	if onConflict == "" {
		onConflict = domain.ConflictSkip
	}
	if !onConflict.Valid() {
		respondBadRequest(c, fmt.Sprintf("unknown conflict policy: %q", policy))
		return
	}

	handle, err := h.runner.Submit(c.Request.Context(), func(ctx context.Context, rep *jobs.Reporter) error {
		return h.runImport(ctx, rep, data, source, category, onConflict)
	})
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit import"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": handle.ID})
}

// runImport is the body of a submitted import job. It persists an
// import_jobs row so the run stays queryable after the progress snapshot
// expires.
func (h *handler) runImport(ctx context.Context, rep *jobs.Reporter, data []byte, source, category string, onConflict domain.ConflictPolicy) error {
	job := &schema.ImportJob{
		ID:       rep.JobID(),
		Status:   schema.ImportJobProcessing,
		Source:   source,
		Category: category,
		Policy:   string(onConflict),
	}
	if err := h.store.CreateImportJob(ctx, job); err != nil {
		logger.WarnCtx(ctx, "failed to persist import job", zap.String("job_id", job.ID), zap.Error(err))
	}

	opts := importer.Options{
		Source:     source,
		Category:   category,
		OnConflict: onConflict,
		Progress:   rep,
	}
	if data != nil {
		opts.Reader = bytes.NewReader(data)
	}

	summary, runErr := h.importer.Run(ctx, opts)

	if runErr != nil {
		job.Status = schema.ImportJobFailed
	} else {
		job.Status = schema.ImportJobCompleted
		job.Processed = summary.Processed
		job.Imported = summary.Imported
		job.AlreadyExists = summary.AlreadyExists
		job.Errored = summary.Errored
		job.Downloaded = summary.Downloaded
		job.BytesTransferred = summary.BytesTransferred
		if report, err := json.Marshal(summary); err == nil {
			job.Report = datatypes.JSON(report)
		}
	}
	if err := h.store.FinishImportJob(ctx, job); err != nil {
		logger.WarnCtx(ctx, "failed to finish import job", zap.String("job_id", job.ID), zap.Error(err))
	}

	return runErr
}

// GetImportJob returns the progress snapshot of an import job. Falls back to
// the persisted import_jobs row once the snapshot has expired.
func (h *handler) GetImportJob(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		respondBadRequest(c, "job id is required")
		return
	}

	snap, err := h.progress.Get(c.Request.Context(), id)
	if err == nil {
		c.JSON(http.StatusOK, snap)
		return
	}
	if !errors.Is(err, domain.ErrJobNotFound) {
		logger.ErrorCtx(c.Request.Context(), err, zap.String("job_id", id))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read job progress"})
		return
	}

	job, err := h.store.GetImportJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		logger.ErrorCtx(c.Request.Context(), err, zap.String("job_id", id))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read job"})
		return
	}

	c.JSON(http.StatusOK, snapshotFromJob(job))
}

// snapshotFromJob rebuilds a snapshot from the persisted job row. A row
// still marked processing (its snapshot lost before a terminal write) is
// reported as processing, never as a finished run.
func snapshotFromJob(job *schema.ImportJob) progress.Snapshot {
	var status progress.Status
	switch job.Status {
	case schema.ImportJobCompleted:
		status = progress.StatusCompleted
	case schema.ImportJobFailed:
		status = progress.StatusFailed
	default:
		status = progress.StatusProcessing
	}
	snap := progress.Snapshot{
		Status:         status,
		TotalItems:     job.Processed,
		ProcessedItems: job.Processed,
	}
	if status.Terminal() {
		snap.Progress = 100
	}
	if job.FinishedAt != nil {
		snap.UpdatedAt = *job.FinishedAt
	}
	return snap
}

// HealthCheck returns the health status of the API
func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func respondBadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
