package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/arisofia/ocr-backend/internal/handlers"
	"github.com/arisofia/ocr-backend/internal/middleware"
)

type RouterConfig struct {
	ServiceName    string
	AllowedOrigins []string

	AuthMiddleware *middleware.AuthMiddleware
	HealthHandler  *handlers.HealthHandler
	OCRHandler     *handlers.OCRHandler
	StorageHandler *handlers.StorageHandler
	JobsHandler    *handlers.JobsHandler
	EventsHandler  *handlers.EventsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.RequestID())

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-API-KEY", "X-Request-ID"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/", cfg.HealthHandler.Info)
	router.GET("/health", cfg.HealthHandler.Health)
	router.GET("/recon/status", cfg.HealthHandler.ReconStatus)
	router.POST("/events/storage", cfg.EventsHandler.StorageEvents)

	// ===============
	// || Protected ||
	// ===============
	protected := router.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAPIKey())
	// Extraction
	protected.POST("/ocr", cfg.OCRHandler.Extract)
	protected.POST("/presign", cfg.StorageHandler.Presign)
	// Async jobs
	api := protected.Group("/api/v1")
	{
		api.POST("/extract", cfg.JobsHandler.CreateExtraction)
		api.GET("/jobs/:id", cfg.JobsHandler.GetJob)
	}

	return router
}
