package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/types"
)

const (
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	openAIDefaultModel   = "gpt-4o"
	reconMaxTokens       = 2000
)

type OpenAIClient struct {
	log     *logger.Logger
	hc      *http.Client
	apiKey  string
	model   string
	baseURL string
	pol     policy
}

func NewOpenAI(log *logger.Logger, hc *http.Client, cfg Config) *OpenAIClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = openAIDefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openAIDefaultModel
	}
	return &OpenAIClient{
		log:     log.With("service", "OpenAIVision"),
		hc:      hc,
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: base,
		pol:     newPolicy(log, cfg.MaxAttempts, time.Duration(cfg.TimeoutSecs)*time.Second),
	}
}

func (c *OpenAIClient) Name() string  { return "openai" }
func (c *OpenAIClient) Model() string { return c.model }

// WithModel returns a shallow clone bound to a different model id.
func (c *OpenAIClient) WithModel(model string) *OpenAIClient {
	clone := *c
	if strings.TrimSpace(model) != "" {
		clone.model = model
	}
	return &clone
}

func (c *OpenAIClient) Reconstruct(ctx context.Context, image []byte, prompt string) (*types.ReconResult, error) {
	if c.apiKey == "" {
		return nil, &Error{Kind: KindConfigMissing, Provider: c.Name()}
	}
	payload := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "text", "text": prompt},
					{
						"type": "image_url",
						"image_url": map[string]string{
							"url": "data:image/png;base64," + base64.StdEncoding.EncodeToString(image),
						},
					},
				},
			},
		},
		"max_tokens": reconMaxTokens,
	}

	var out *types.ReconResult
	err := c.pol.do(ctx, c.Name(), func(ctx context.Context) error {
		body, err := postJSON(ctx, c.hc, c.Name(), c.baseURL+"/chat/completions",
			map[string]string{"Authorization": "Bearer " + c.apiKey}, payload)
		if err != nil {
			return err
		}
		var resp struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return &Error{Kind: KindParseFailure, Provider: c.Name(), Err: err}
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return &Error{Kind: KindParseFailure, Provider: c.Name(), Body: truncate(string(body))}
		}
		out = &types.ReconResult{Text: resp.Choices[0].Message.Content, Model: c.model}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
