package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/platform/gcp"
)

const defaultTicketExpiry = 15 * time.Minute

type StorageHandler struct {
	log    *logger.Logger
	bucket gcp.BucketService
}

func NewStorageHandler(log *logger.Logger, bucket gcp.BucketService) *StorageHandler {
	return &StorageHandler{log: log.With("Handler", "StorageHandler"), bucket: bucket}
}

type presignRequest struct {
	Key         string `json:"key" binding:"required"`
	ContentType string `json:"content_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// POST /presign
func (h *StorageHandler) Presign(c *gin.Context) {
	var req presignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondDetail(c, http.StatusBadRequest, "Invalid presign request: "+err.Error())
		return
	}
	expires := defaultTicketExpiry
	if req.ExpiresIn > 0 {
		expires = time.Duration(req.ExpiresIn) * time.Second
	}
	ticket, err := h.bucket.IssueUploadTicket(c.Request.Context(), req.Key, req.ContentType, expires)
	if err != nil {
		if errors.Is(err, gcp.ErrNotConfigured) {
			RespondDetail(c, http.StatusInternalServerError, "Storage bucket not configured")
			return
		}
		h.log.Error("presign failed", "key", req.Key, "error", err)
		RespondDetail(c, http.StatusInternalServerError, "Failed to issue upload ticket")
		return
	}
	RespondOK(c, gin.H{"url": ticket.URL, "fields": ticket.Fields})
}
