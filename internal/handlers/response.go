package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arisofia/ocr-backend/internal/platform/apierr"
)

func RespondDetail(c *gin.Context, status int, detail string) {
	c.JSON(status, gin.H{"detail": detail})
}

// RespondAPIError maps a service error onto the wire. Unknown errors are
// reported as a 500 without leaking internals.
func RespondAPIError(c *gin.Context, err error) {
	ae := apierr.From(err)
	status := ae.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	RespondDetail(c, status, ae.Error())
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
