package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	pkgerrors "github.com/arisofia/ocr-backend/internal/pkg/errors"
	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/services"
)

type JobsHandler struct {
	log  *logger.Logger
	jobs services.JobService
}

func NewJobsHandler(log *logger.Logger, jobs services.JobService) *JobsHandler {
	return &JobsHandler{log: log.With("Handler", "JobsHandler"), jobs: jobs}
}

type extractRequest struct {
	ImageURL     string `json:"image_url"`
	ImageBytes   string `json:"image_bytes"`
	ImagePath    string `json:"image_path"`
	DocumentType string `json:"document_type"`
}

// POST /api/v1/extract
func (h *JobsHandler) CreateExtraction(c *gin.Context) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondDetail(c, http.StatusBadRequest, "Invalid extraction request: "+err.Error())
		return
	}
	job, err := h.jobs.Enqueue(c.Request.Context(), services.EnqueueRequest{
		ImageURL:     req.ImageURL,
		ImageBytes:   req.ImageBytes,
		ImagePath:    req.ImagePath,
		DocumentType: req.DocumentType,
	})
	if err != nil {
		h.log.Error("enqueue failed", "error", err)
		RespondDetail(c, http.StatusInternalServerError, "Failed to queue extraction job")
		return
	}
	RespondOK(c, gin.H{
		"job_id":    job.JobID,
		"status":    job.Status,
		"check_url": "/api/v1/jobs/" + job.JobID,
	})
}

// GET /api/v1/jobs/:id
func (h *JobsHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			RespondDetail(c, http.StatusNotFound, "Job not found")
			return
		}
		h.log.Error("job lookup failed", "job_id", c.Param("id"), "error", err)
		RespondDetail(c, http.StatusInternalServerError, "Failed to load job")
		return
	}
	RespondOK(c, job)
}
