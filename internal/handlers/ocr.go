package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/services"
)

type OCRHandler struct {
	log       *logger.Logger
	processor services.ProcessorService
}

func NewOCRHandler(log *logger.Logger, processor services.ProcessorService) *OCRHandler {
	return &OCRHandler{log: log.With("Handler", "OCRHandler"), processor: processor}
}

// POST /ocr
func (h *OCRHandler) Extract(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		RespondDetail(c, http.StatusBadRequest, "Missing file upload")
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		RespondDetail(c, http.StatusBadRequest, "Unreadable file upload")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		RespondDetail(c, http.StatusBadRequest, "Unreadable file upload")
		return
	}

	flags := services.ProcessFlags{
		Reconstruct: boolFlag(c, "reconstruct"),
		Advanced:    boolFlag(c, "advanced"),
		DocType:     stringFlag(c, "doc_type"),
	}
	contentType := fileHeader.Header.Get("Content-Type")

	res, err := h.processor.ProcessFile(c.Request.Context(), fileHeader.Filename, contentType, data, flags)
	if err != nil {
		h.log.Warn("extraction request failed", "filename", fileHeader.Filename, "error", err)
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, res)
}

// boolFlag accepts the flag as a query parameter or a multipart form field.
func boolFlag(c *gin.Context, name string) bool {
	v := stringFlag(c, name)
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func stringFlag(c *gin.Context, name string) string {
	if v := c.Query(name); v != "" {
		return v
	}
	return c.PostForm(name)
}
