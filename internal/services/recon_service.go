package services

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"sync"

	"github.com/arisofia/ocr-backend/internal/config"
	"github.com/arisofia/ocr-backend/internal/imaging"
	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/platform/tesseract"
	"github.com/arisofia/ocr-backend/internal/platform/vision"
	"github.com/arisofia/ocr-backend/internal/types"
)

const reconBasePrompt = "Analyze this document image. Identify any obscured, pixelated, or layered parts. Reconstruct the underlying text and structure pixel-by-pixel in your understanding and provide the full corrected text. Eliminate any noise or overlays."

var (
	ErrNoProviders        = errors.New("No AI providers configured")
	ErrAllProvidersFailed = errors.New("All AI providers failed")
)

// ReconService owns the reconstruction capability: the local toolchain
// probe, the pixel-domain cleanup passes, and the AI provider set with its
// fallback chain.
type ReconService interface {
	ReconstructionAvailable() bool
	ReconstructionVersion() string
	ProviderNames() []string
	ReconstructWithAI(ctx context.Context, image []byte, preferred string, contextData map[string]any, fallbackEnabled bool) (*types.ReconResult, error)
	ReconstructPixels(img image.Image) (image.Image, []string)
	Close()
}

type reconService struct {
	log       *logger.Logger
	providers []vision.Provider
	hc        *http.Client
	closeOnce sync.Once

	probe     func() (string, bool)
	probeOnce sync.Once
	available bool
	version   string
}

// NewReconService registers one provider per configured credential, in
// config order. That order doubles as the fallback order.
func NewReconService(log *logger.Logger, cfg *config.Settings) ReconService {
	slog := log.With("service", "ReconService")
	hc := &http.Client{}

	timeoutSecs := int(cfg.ProviderTimeout.Seconds())
	providers := []vision.Provider{}
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, vision.NewOpenAI(log, hc, vision.Config{
			APIKey:      cfg.OpenAIAPIKey,
			MaxAttempts: cfg.ProviderMaxRetries,
			TimeoutSecs: timeoutSecs,
		}))
	}
	if cfg.GeminiAPIKey != "" {
		providers = append(providers, vision.NewGemini(log, hc, vision.Config{
			APIKey:      cfg.GeminiAPIKey,
			MaxAttempts: cfg.ProviderMaxRetries,
			TimeoutSecs: timeoutSecs,
		}))
	}
	if cfg.HuggingFaceToken != "" {
		providers = append(providers, vision.NewHuggingFace(log, hc, vision.Config{
			APIKey:      cfg.HuggingFaceToken,
			MaxAttempts: cfg.ProviderMaxRetries,
			TimeoutSecs: timeoutSecs,
		}))
	}

	engine := tesseract.New(log, cfg.TesseractPath)
	rs := &reconService{
		log:       slog,
		providers: providers,
		hc:        hc,
		probe:     engine.Probe,
	}
	slog.Info("Reconstruction providers registered", "providers", rs.ProviderNames())
	return rs
}

func (rs *reconService) runProbe() {
	rs.probeOnce.Do(func() {
		version, ok := rs.probe()
		rs.available = ok
		if ok {
			rs.version = version
		} else {
			rs.version = "not-installed"
		}
		rs.log.Info("Reconstruction toolchain probed", "available", rs.available, "version", rs.version)
	})
}

func (rs *reconService) ReconstructionAvailable() bool {
	rs.runProbe()
	return rs.available
}

func (rs *reconService) ReconstructionVersion() string {
	rs.runProbe()
	return rs.version
}

func (rs *reconService) ProviderNames() []string {
	out := make([]string, 0, len(rs.providers))
	for _, p := range rs.providers {
		out = append(out, p.Name())
	}
	return out
}

func (rs *reconService) Close() {
	rs.closeOnce.Do(func() {
		rs.hc.CloseIdleConnections()
	})
}

// buildPrompt appends pattern context to the base instruction. Missing
// fields get explicit placeholders so the model is told what is unknown.
func buildPrompt(contextData map[string]any) string {
	if len(contextData) == 0 {
		return reconBasePrompt
	}
	font := "No font metadata available"
	if v, ok := contextData["font_metadata"]; ok && fmt.Sprint(v) != "" {
		font = fmt.Sprint(v)
	}
	accuracy := "N/A"
	if v, ok := contextData["accuracy_score"]; ok {
		accuracy = fmt.Sprint(v)
	}
	return fmt.Sprintf("%s\n\nContext from similar documents: %s. Accuracy of previous similar reconstructions: %s.",
		reconBasePrompt, font, accuracy)
}

func (rs *reconService) ReconstructWithAI(ctx context.Context, image []byte, preferred string, contextData map[string]any, fallbackEnabled bool) (*types.ReconResult, error) {
	if len(rs.providers) == 0 {
		return nil, ErrNoProviders
	}

	primary := rs.providers[0]
	for _, p := range rs.providers {
		if p.Name() == preferred {
			primary = p
			break
		}
	}

	prompt := buildPrompt(contextData)
	res, err := primary.Reconstruct(ctx, image, prompt)
	if err == nil {
		return res, nil
	}
	rs.log.Warn("Primary provider failed", "provider", primary.Name(), "error", err)

	if fallbackEnabled {
		for _, p := range rs.providers {
			if p == primary {
				continue
			}
			res, ferr := p.Reconstruct(ctx, image, prompt)
			if ferr == nil {
				rs.log.Info("Fallback provider succeeded", "provider", p.Name())
				return res, nil
			}
			rs.log.Warn("Fallback provider failed", "provider", p.Name(), "error", ferr)
		}
	}
	return nil, ErrAllProvidersFailed
}

// ReconstructPixels runs the local pixel-domain cleanup chain.
func (rs *reconService) ReconstructPixels(img image.Image) (image.Image, []string) {
	return imaging.ReconstructDocument(img)
}
