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
	hfDefaultBaseURL = "https://router.huggingface.co/v1"
	hfDefaultModel   = "Qwen/Qwen2.5-VL-7B-Instruct"
)

type HuggingFaceClient struct {
	log     *logger.Logger
	hc      *http.Client
	token   string
	model   string
	baseURL string
	pol     policy
}

func NewHuggingFace(log *logger.Logger, hc *http.Client, cfg Config) *HuggingFaceClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = hfDefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = hfDefaultModel
	}
	return &HuggingFaceClient{
		log:     log.With("service", "HuggingFaceVision"),
		hc:      hc,
		token:   cfg.APIKey,
		model:   model,
		baseURL: base,
		pol:     newPolicy(log, cfg.MaxAttempts, time.Duration(cfg.TimeoutSecs)*time.Second),
	}
}

func (c *HuggingFaceClient) Name() string  { return "huggingface" }
func (c *HuggingFaceClient) Model() string { return c.model }

func (c *HuggingFaceClient) Reconstruct(ctx context.Context, image []byte, prompt string) (*types.ReconResult, error) {
	if c.token == "" {
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
			map[string]string{"Authorization": "Bearer " + c.token}, payload)
		if err != nil {
			return err
		}
		text, ok := parseRouterText(body)
		if !ok {
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

// parseRouterText accepts the shapes the router has been seen returning:
// an OpenAI-style message content string, a content part array, or a bare
// "text" field.
func parseRouterText(body []byte) (string, bool) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content json.RawMessage `json:"content"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Choices) == 0 {
		return "", false
	}
	choice := resp.Choices[0]
	if len(choice.Message.Content) > 0 {
		var asString string
		if err := json.Unmarshal(choice.Message.Content, &asString); err == nil {
			if s := strings.TrimSpace(asString); s != "" {
				return s, true
			}
		}
		var asParts []struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(choice.Message.Content, &asParts); err == nil {
			var sb strings.Builder
			for _, p := range asParts {
				sb.WriteString(p.Text)
			}
			if s := strings.TrimSpace(sb.String()); s != "" {
				return s, true
			}
		}
	}
	if s := strings.TrimSpace(choice.Text); s != "" {
		return s, true
	}
	return "", false
}
