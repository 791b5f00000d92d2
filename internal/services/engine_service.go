package services

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/arisofia/ocr-backend/internal/config"
	"github.com/arisofia/ocr-backend/internal/imaging"
	pkgerrors "github.com/arisofia/ocr-backend/internal/pkg/errors"
	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/pkg/textscore"
	"github.com/arisofia/ocr-backend/internal/types"
)

const (
	previewLen     = 50
	roiPadding     = 10
	methodAdvanced = "advanced_ai_reconstruction"
)

// OCRFunc runs one OCR pass over an image. The production binding shells
// out to tesseract; tests substitute scripted fakes.
type OCRFunc func(ctx context.Context, img image.Image) (string, error)

// EngineService is the iterative extraction core: repeated
// preprocess/OCR/score passes with best-text selection, plus the
// AI-reconstruction path with learned-context injection.
type EngineService interface {
	Process(ctx context.Context, data []byte, useReconstruction bool) (*types.EngineResult, error)
	ProcessAdvanced(ctx context.Context, data []byte, docType string) (*types.EngineResult, error)
}

type engineService struct {
	log      *logger.Logger
	ocr      OCRFunc
	recon    ReconService
	learning LearningService

	maxIterations       int
	confidenceThreshold float64
	maxImageMB          int
}

func NewEngineService(log *logger.Logger, cfg *config.Settings, ocr OCRFunc, recon ReconService, learning LearningService) EngineService {
	return &engineService{
		log:                 log.With("service", "EngineService"),
		ocr:                 ocr,
		recon:               recon,
		learning:            learning,
		maxIterations:       cfg.OCRIterations,
		confidenceThreshold: cfg.ConfidenceThreshold,
		maxImageMB:          cfg.MaxImageMB,
	}
}

func (es *engineService) Process(ctx context.Context, data []byte, useReconstruction bool) (*types.EngineResult, error) {
	if err := imaging.Validate(data, es.maxImageMB); err != nil {
		return nil, err
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}

	reconAvailable := useReconstruction && es.recon.ReconstructionAvailable()

	var reconInfo *types.ReconstructionInfo
	if reconAvailable {
		cleaned, steps := es.recon.ReconstructPixels(img)
		img = cleaned
		reconInfo = &types.ReconstructionInfo{
			Applied: true,
			Source:  "pixel_reconstruction",
			Meta:    map[string]interface{}{"steps": steps},
		}
	}

	regions := imaging.DetectRegionsImage(img)

	var (
		current  image.Image = img
		bestText string
		bestConf float64
		history  []types.IterationRecord
	)

	for i := 0; i < es.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		binary := es.preprocess(current, i, reconAvailable)

		var text string
		var method string
		var passErr error
		if i == 1 && bestConf < es.confidenceThreshold && len(regions) > 1 {
			text, passErr = es.regionPass(ctx, binary, regions)
			method = types.MethodRegionBased
		} else {
			text, passErr = es.ocr(ctx, binary)
			method = types.MethodFullPage
		}

		if passErr != nil {
			es.log.Warn("Extraction pass failed", "iteration", i+1, "error", passErr)
			history = append(history, types.IterationRecord{Iteration: i + 1, Error: "failed"})
		} else {
			text = strings.TrimSpace(text)
			conf := textscore.Score(text)
			history = append(history, types.IterationRecord{
				Iteration:  i + 1,
				Method:     method,
				TextLength: len(text),
				Confidence: conf,
				Preview:    preview(text),
			})
			if conf > bestConf {
				bestConf = conf
				bestText = text
			}
		}

		if i+1 < es.maxIterations {
			current = imaging.EnhanceIteration(imaging.ToGray(current))
		}
	}

	return &types.EngineResult{
		Text:           bestText,
		Confidence:     bestConf,
		Iterations:     history,
		Success:        len(bestText) > 0,
		Reconstruction: reconInfo,
	}, nil
}

// preprocess produces the binary image fed to OCR for pass i. The first
// reconstruction pass stays in the color domain: sharpen, inpaint
// redaction bars, subtract the color overlay, then grayscale and
// threshold. Inpainting must see the bars before the overlay pass
// recolors pixels near them.
func (es *engineService) preprocess(img image.Image, i int, useRecon bool) *image.Gray {
	if i == 0 && useRecon {
		sharp := imaging.SharpenRGBA(imaging.ToRGBA(img))
		cleaned := imaging.RemoveColorOverlay(imaging.RemoveRedactionsRGBA(sharp))
		return imaging.ApplyThreshold(imaging.ToGray(cleaned))
	}
	return imaging.ApplyThreshold(imaging.Sharpen(imaging.ToGray(img)))
}

// regionPass OCRs each detected region separately and joins the outputs.
// Regions arrive sorted top-to-bottom; each ROI gets a white border so the
// binary does not clip glyphs at the crop edge.
func (es *engineService) regionPass(ctx context.Context, binary *image.Gray, regions []imaging.Region) (string, error) {
	parts := make([]string, 0, len(regions))
	for _, r := range regions {
		roi := imaging.PrepareROI(imaging.CropGray(binary, r.Rect()), roiPadding)
		text, err := es.ocr(ctx, roi)
		if err != nil {
			return "", err
		}
		if t := strings.TrimSpace(text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func (es *engineService) ProcessAdvanced(ctx context.Context, data []byte, docType string) (*types.EngineResult, error) {
	if err := imaging.Validate(data, es.maxImageMB); err != nil {
		return nil, err
	}

	var (
		regions    []imaging.Region
		layoutType string
		pattern    *types.LearnedPattern
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		regions = imaging.DetectRegions(data)
		layoutType = imaging.ClassifyLayout(regions)
		return nil
	})
	g.Go(func() error {
		p, err := es.learning.GetBest(gctx, docType)
		if err != nil {
			if !errors.Is(err, pkgerrors.ErrNotFound) {
				es.log.Warn("Pattern lookup failed", "doc_type", docType, "error", err)
			}
			return nil
		}
		pattern = p
		return nil
	})
	_ = g.Wait()

	contextData := map[string]any{
		"layout_type":  layoutType,
		"region_count": len(regions),
	}
	if pattern != nil {
		if b, err := json.Marshal(pattern.FontMetadata); err == nil && len(pattern.FontMetadata) > 0 {
			contextData["font_metadata"] = string(b)
		}
		contextData["accuracy_score"] = pattern.AccuracyScore
	}

	res, err := es.recon.ReconstructWithAI(ctx, data, "", contextData, true)
	if err != nil {
		es.log.Warn("AI reconstruction failed, falling back to iterative path",
			"doc_type", docType, "error", err)
		return es.Process(ctx, data, true)
	}

	confidence := textscore.Score(res.Text)

	go es.learning.Record(context.Background(), docType, map[string]any{
		"source": "ai_reconstruction",
		"model":  res.Model,
		"layout": layoutType,
	}, confidence)

	return &types.EngineResult{
		Text:       res.Text,
		Method:     methodAdvanced,
		Confidence: confidence,
		LayoutAnalysis: &types.LayoutAnalysis{
			Type:    layoutType,
			Regions: len(regions),
		},
		Success: true,
	}, nil
}

func preview(text string) string {
	r := []rune(text)
	if len(r) <= previewLen {
		return text
	}
	return string(r[:previewLen]) + "..."
}
