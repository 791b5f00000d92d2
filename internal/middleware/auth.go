package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arisofia/ocr-backend/internal/pkg/logger"
)

type AuthMiddleware struct {
	log        *logger.Logger
	headerName string
	apiKey     string
}

func NewAuthMiddleware(log *logger.Logger, headerName, apiKey string) *AuthMiddleware {
	middlewareLogger := log.With("Middleware", "AuthMiddleware")
	return &AuthMiddleware{log: middlewareLogger, headerName: headerName, apiKey: apiKey}
}

// RequireAPIKey gates a route group on the configured API key header.
func (am *AuthMiddleware) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader(am.headerName)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(am.apiKey)) != 1 {
			am.log.Warn("rejected request with bad api key", "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "Unauthorized: Invalid or missing API Key"})
			return
		}
		c.Next()
	}
}
