package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Config carries the per-provider knobs resolved by the caller.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxAttempts int
	TimeoutSecs int
}

const maxErrorBody = 2048

// postJSON performs a single JSON round trip and classifies the outcome.
func postJSON(ctx context.Context, hc *http.Client, provider, url string, headers map[string]string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Provider: provider, Err: fmt.Errorf("marshal request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Provider: provider, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Provider: provider, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Provider: provider, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{
			Kind:           KindRateLimited,
			Provider:       provider,
			Status:         resp.StatusCode,
			Body:           truncate(string(body)),
			retryAfterSecs: parseRetryAfter(resp),
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &Error{
			Kind:     KindHTTPStatus,
			Provider: provider,
			Status:   resp.StatusCode,
			Body:     truncate(string(body)),
		}
	}
	return body, nil
}

func parseRetryAfter(resp *http.Response) int {
	ra := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if ra == "" {
		return 0
	}
	secs, err := strconv.Atoi(ra)
	if err != nil || secs < 0 {
		return 0
	}
	return secs
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
