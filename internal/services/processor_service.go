package services

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/platform/apierr"
	"github.com/arisofia/ocr-backend/internal/platform/ctxutil"
	"github.com/arisofia/ocr-backend/internal/platform/gcp"
	"github.com/arisofia/ocr-backend/internal/types"
)

// ProcessFlags are the per-request extraction switches.
type ProcessFlags struct {
	Reconstruct bool
	Advanced    bool
	DocType     string
}

// ProcessorService sits between the HTTP surface and the engine: it gates
// uploads, times the extraction, persists artifacts, and enriches the
// engine result for the response.
type ProcessorService interface {
	ProcessFile(ctx context.Context, filename, contentType string, data []byte, flags ProcessFlags) (*types.ExtractionResponse, error)
	ProcessBytes(ctx context.Context, data []byte, filename, contentType string, flags ProcessFlags) (*types.ExtractionResponse, error)
}

type processorService struct {
	log    *logger.Logger
	engine EngineService
	bucket gcp.BucketService
}

func NewProcessorService(log *logger.Logger, engine EngineService, bucket gcp.BucketService) ProcessorService {
	return &processorService{
		log:    log.With("service", "ProcessorService"),
		engine: engine,
		bucket: bucket,
	}
}

func (ps *processorService) ProcessFile(ctx context.Context, filename, contentType string, data []byte, flags ProcessFlags) (*types.ExtractionResponse, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return nil, apierr.New(http.StatusBadRequest, "invalid_content_type",
			fmt.Errorf("Only image uploads are supported"))
	}
	return ps.ProcessBytes(ctx, data, filename, contentType, flags)
}

func (ps *processorService) ProcessBytes(ctx context.Context, data []byte, filename, contentType string, flags ProcessFlags) (out *types.ExtractionResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			ps.log.Error("Extraction panicked", "filename", filename, "panic", r)
			out = nil
			err = apierr.New(http.StatusInternalServerError, "internal",
				fmt.Errorf("Internal processing failure in OCR orchestrator"))
		}
	}()

	start := time.Now()
	var result *types.EngineResult
	if flags.Advanced {
		result, err = ps.engine.ProcessAdvanced(ctx, data, flags.DocType)
	} else {
		result, err = ps.engine.Process(ctx, data, flags.Reconstruct)
	}
	elapsed := time.Since(start)
	if err != nil {
		return nil, apierr.New(http.StatusBadRequest, "extraction_failure",
			fmt.Errorf("Extraction failure: %s", err.Error()))
	}

	var storageKey *string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		key, upErr := ps.bucket.UploadBlob(gctx, filename, data, contentType)
		if upErr != nil {
			ps.log.Warn("Raw upload failed, responding without key",
				"filename", filename, "error", upErr)
			return nil
		}
		storageKey = &key
		return nil
	})
	if result.Reconstruction != nil {
		g.Go(func() error {
			if _, upErr := ps.bucket.UploadMetadata(gctx, filename, result.Reconstruction); upErr != nil {
				ps.log.Warn("Reconstruction metadata upload failed",
					"filename", filename, "error", upErr)
			}
			return nil
		})
	}
	_ = g.Wait()

	return &types.ExtractionResponse{
		EngineResult:   *result,
		Filename:       filename,
		ProcessingTime: math.Round(elapsed.Seconds()*1000) / 1000,
		StorageKey:     storageKey,
		RequestID:      ctxutil.RequestID(ctx),
	}, nil
}
