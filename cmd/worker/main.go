package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arisofia/ocr-backend/internal/clients/redis"
	"github.com/arisofia/ocr-backend/internal/config"
	"github.com/arisofia/ocr-backend/internal/jobs/worker"
	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/platform/supabase"
	"github.com/arisofia/ocr-backend/internal/platform/tesseract"
	"github.com/arisofia/ocr-backend/internal/services"
)

// Standalone queue consumer. Runs the same extraction engine as the API
// server but scales independently.
func main() {
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

	cfg, err := config.Get()
	if err != nil {
		log.Error("Config load failed", "error", err)
		os.Exit(1)
	}

	rdb, err := redis.NewClient(log)
	if err != nil {
		log.Error("Redis init failed", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	var cloud supabase.Client
	if cfg.SupabaseEnabled() {
		cloud, err = supabase.New(log, &http.Client{Timeout: 10 * time.Second}, cfg.SupabaseURL, cfg.SupabaseServiceRole)
		if err != nil {
			log.Warn("Supabase init failed, continuing with local patterns only", "error", err)
			cloud = nil
		}
	}
	learning := services.NewLearningService(log, cfg, cloud)

	recon := services.NewReconService(log, cfg)
	defer recon.Close()

	tess := tesseract.New(log, cfg.TesseractPath)
	engine := services.NewEngineService(log, cfg, tess.ImageToText, recon, learning)
	jobService := services.NewJobService(log, rdb)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting queue worker", "app", cfg.AppName, "version", cfg.Version)
	w := worker.New(log, jobService, engine, cfg.EnableReconstruction)
	if err := w.Run(ctx); err != nil {
		log.Error("Queue worker stopped", "error", err)
		os.Exit(1)
	}
	log.Info("Queue worker shut down cleanly")
}
