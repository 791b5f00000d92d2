package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/types"
)

const (
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel   = "gemini-1.5-flash"
)

type GeminiClient struct {
	log     *logger.Logger
	hc      *http.Client
	apiKey  string
	model   string
	baseURL string
	pol     policy
}

func NewGemini(log *logger.Logger, hc *http.Client, cfg Config) *GeminiClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = geminiDefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = geminiDefaultModel
	}
	return &GeminiClient{
		log:     log.With("service", "GeminiVision"),
		hc:      hc,
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: base,
		pol:     newPolicy(log, cfg.MaxAttempts, time.Duration(cfg.TimeoutSecs)*time.Second),
	}
}

func (c *GeminiClient) Name() string  { return "gemini" }
func (c *GeminiClient) Model() string { return c.model }

func (c *GeminiClient) Reconstruct(ctx context.Context, image []byte, prompt string) (*types.ReconResult, error) {
	if c.apiKey == "" {
		return nil, &Error{Kind: KindConfigMissing, Provider: c.Name()}
	}
	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"parts": []map[string]interface{}{
					{"text": prompt},
					{
						"inline_data": map[string]string{
							"mime_type": "image/png",
							"data":      base64.StdEncoding.EncodeToString(image),
						},
					},
				},
			},
		},
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	var out *types.ReconResult
	err := c.pol.do(ctx, c.Name(), func(ctx context.Context) error {
		body, err := postJSON(ctx, c.hc, c.Name(), url,
			map[string]string{"x-goog-api-key": c.apiKey}, payload)
		if err != nil {
			return err
		}
		var resp struct {
			Candidates []struct {
				Content struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"content"`
			} `json:"candidates"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return &Error{Kind: KindParseFailure, Provider: c.Name(), Err: err}
		}
		if len(resp.Candidates) == 0 {
			return &Error{Kind: KindParseFailure, Provider: c.Name(), Body: truncate(string(body))}
		}
		var sb strings.Builder
		for _, p := range resp.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			return &Error{Kind: KindParseFailure, Provider: c.Name(), Body: truncate(string(body))}
		}
		out = &types.ReconResult{Text: text, Model: c.model}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
