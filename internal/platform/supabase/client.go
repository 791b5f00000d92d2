package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/arisofia/ocr-backend/internal/pkg/errors"
	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/types"
)

const patternsTable = "learning_patterns"

// Client talks to the Supabase REST surface for the learned-pattern table.
type Client interface {
	UpsertPattern(ctx context.Context, p *types.LearnedPattern) error
	BestPattern(ctx context.Context, docType string) (*types.LearnedPattern, error)
	Ping(ctx context.Context) error
}

type client struct {
	log     *logger.Logger
	hc      *http.Client
	baseURL string
	key     string
}

// New builds a REST client. baseURL and serviceKey come from
// SUPABASE_URL / SUPABASE_SERVICE_ROLE; the caller decides whether cloud
// mode is enabled at all.
func New(log *logger.Logger, hc *http.Client, baseURL, serviceKey string) (Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" || strings.TrimSpace(serviceKey) == "" {
		return nil, fmt.Errorf("supabase credentials missing: %w", pkgerrors.ErrUnavailable)
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &client{
		log:     log.With("service", "SupabaseClient"),
		hc:      hc,
		baseURL: baseURL,
		key:     serviceKey,
	}, nil
}

func (c *client) restURL(query string) string {
	u := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, patternsTable)
	if query != "" {
		u += "?" + query
	}
	return u
}

func (c *client) authorize(req *http.Request) {
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
}

func (c *client) UpsertPattern(ctx context.Context, p *types.LearnedPattern) error {
	body, err := json.Marshal([]*types.LearnedPattern{p})
	if err != nil {
		return fmt.Errorf("marshal pattern: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.restURL("on_conflict=doc_type"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upsert pattern: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

func (c *client) BestPattern(ctx context.Context, docType string) (*types.LearnedPattern, error) {
	query := fmt.Sprintf("doc_type=eq.%s&order=accuracy_score.desc&limit=1",
		url.QueryEscape(docType))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.restURL(query), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch pattern: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch pattern: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	var rows []*types.LearnedPattern
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode pattern: %w", err)
	}
	if len(rows) == 0 {
		return nil, pkgerrors.ErrNotFound
	}
	return rows[0], nil
}

func (c *client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.restURL("limit=1"), nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("supabase ping: status=%d", resp.StatusCode)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
