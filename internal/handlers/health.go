package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arisofia/ocr-backend/internal/config"
	"github.com/arisofia/ocr-backend/internal/platform/gcp"
	"github.com/arisofia/ocr-backend/internal/services"
)

type HealthHandler struct {
	cfg      *config.Settings
	bucket   gcp.BucketService
	learning services.LearningService
	recon    services.ReconService
}

func NewHealthHandler(cfg *config.Settings, bucket gcp.BucketService, learning services.LearningService, recon services.ReconService) *HealthHandler {
	return &HealthHandler{cfg: cfg, bucket: bucket, learning: learning, recon: recon}
}

// GET /
func (h *HealthHandler) Info(c *gin.Context) {
	RespondOK(c, gin.H{
		"name":        h.cfg.AppName,
		"description": h.cfg.AppDescription,
		"version":     h.cfg.Version,
	})
}

// GET /health
//
// The service degrades only when blob storage is unreachable. Pattern store
// and provider states are reported for operators but do not flip the status.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	status := "healthy"
	servicesState := gin.H{}

	if err := h.bucket.Health(ctx); err != nil {
		status = "degraded"
		servicesState["storage"] = "unhealthy: " + err.Error()
	} else {
		servicesState["storage"] = "healthy"
	}

	if err := h.learning.Health(ctx); err != nil {
		servicesState["patterns"] = "unhealthy: " + err.Error()
	} else {
		servicesState["patterns"] = "healthy"
	}

	registered := map[string]bool{}
	for _, name := range h.recon.ProviderNames() {
		registered[name] = true
	}
	for _, name := range []string{"openai", "gemini"} {
		if registered[name] {
			servicesState[name] = "configured"
		} else {
			servicesState[name] = "not_configured"
		}
	}

	code := http.StatusOK
	if status == "degraded" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  servicesState,
	})
}

// GET /recon/status
func (h *HealthHandler) ReconStatus(c *gin.Context) {
	RespondOK(c, gin.H{
		"reconstruction_enabled": h.cfg.EnableReconstruction,
		"package_installed":      h.recon.ReconstructionAvailable(),
		"package_version":        h.recon.ReconstructionVersion(),
	})
}
