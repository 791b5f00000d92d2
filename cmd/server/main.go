package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/arisofia/ocr-backend/internal/clients/redis"
	"github.com/arisofia/ocr-backend/internal/config"
	"github.com/arisofia/ocr-backend/internal/handlers"
	"github.com/arisofia/ocr-backend/internal/jobs/worker"
	"github.com/arisofia/ocr-backend/internal/middleware"
	"github.com/arisofia/ocr-backend/internal/observability"
	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/platform/gcp"
	"github.com/arisofia/ocr-backend/internal/platform/supabase"
	"github.com/arisofia/ocr-backend/internal/platform/tesseract"
	"github.com/arisofia/ocr-backend/internal/server"
	"github.com/arisofia/ocr-backend/internal/services"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Config
	cfg, err := config.Get()
	if err != nil {
		log.Fatal("Config load failed", "error", err)
	}

	// Tracing
	shutdownOTel := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "ocr-backend",
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	// Redis
	log.Info("Connecting to redis...")
	rdb, err := redis.NewClient(log)
	if err != nil {
		log.Fatal("Redis init failed", "error", err)
	}
	defer rdb.Close()

	// Cloud storage
	bucket, err := gcp.NewBucketService(log, cfg.BucketName, cfg.CloudMaxRetries)
	if err != nil {
		log.Fatal("Bucket service init failed", "error", err)
	}
	defer bucket.Close()

	// Pattern store
	var cloud supabase.Client
	if cfg.SupabaseEnabled() {
		cloud, err = supabase.New(log, &http.Client{Timeout: 10 * time.Second}, cfg.SupabaseURL, cfg.SupabaseServiceRole)
		if err != nil {
			log.Warn("Supabase init failed, continuing with local patterns only", "error", err)
			cloud = nil
		}
	}
	learning := services.NewLearningService(log, cfg, cloud)

	// Reconstruction providers
	recon := services.NewReconService(log, cfg)
	defer recon.Close()

	// OCR engine
	tess := tesseract.New(log, cfg.TesseractPath)
	engine := services.NewEngineService(log, cfg, tess.ImageToText, recon, learning)

	// Services
	processor := services.NewProcessorService(log, engine, bucket)
	jobService := services.NewJobService(log, rdb)

	// Event pipeline is optional: it needs the Document AI processor.
	var events services.EventService
	document, err := gcp.NewDocumentService(log, cfg.GCPProjectID, cfg.GCPLocation, cfg.DocAIProcessorID)
	if err != nil {
		log.Warn("Document analysis unavailable, storage events disabled", "error", err)
	} else {
		defer document.Close()
		vision, verr := gcp.NewVisionService(log, cfg.BucketName)
		if verr != nil {
			log.Warn("Async OCR unavailable, storage events disabled", "error", verr)
		} else {
			defer vision.Close()
			events = services.NewEventService(log, document, vision, bucket, cfg.OutputPrefix)
		}
	}

	// In-process queue worker
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	w := worker.New(log, jobService, engine, cfg.EnableReconstruction)
	go func() {
		if err := w.Run(workerCtx); err != nil {
			log.Error("Queue worker stopped", "error", err)
		}
	}()

	// Router
	router := server.NewRouter(server.RouterConfig{
		ServiceName:    "ocr-backend",
		AllowedOrigins: cfg.AllowedOrigins,
		AuthMiddleware: middleware.NewAuthMiddleware(log, cfg.APIKeyHeaderName, cfg.OCRAPIKey),
		HealthHandler:  handlers.NewHealthHandler(cfg, bucket, learning, recon),
		OCRHandler:     handlers.NewOCRHandler(log, processor),
		StorageHandler: handlers.NewStorageHandler(log, bucket),
		JobsHandler:    handlers.NewJobsHandler(log, jobService),
		EventsHandler:  handlers.NewEventsHandler(log, events),
	})

	log.Info("Starting server", "app", cfg.AppName, "version", cfg.Version, "port", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Error("Server stopped", "error", err)
	}

	stopWorker()
	if shutdownOTel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(ctx)
	}
}
