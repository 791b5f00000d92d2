package vision

import (
	"context"
	"fmt"

	"github.com/arisofia/ocr-backend/internal/types"
)

// Provider is one AI-vision backend able to reconstruct obscured document
// text from an image.
type Provider interface {
	Name() string
	Model() string
	Reconstruct(ctx context.Context, image []byte, prompt string) (*types.ReconResult, error)
}

// ErrorKind tags provider failures so callers can branch without string
// matching.
type ErrorKind string

const (
	KindConfigMissing ErrorKind = "config_missing"
	KindTransport     ErrorKind = "transport"
	KindRateLimited   ErrorKind = "rate_limited"
	KindHTTPStatus    ErrorKind = "http_status"
	KindParseFailure  ErrorKind = "parse_failure"
	KindUnknown       ErrorKind = "unknown"
)

type Error struct {
	Kind     ErrorKind
	Provider string
	Status   int
	Body     string
	Err      error

	// retryAfterSecs carries a server-sent Retry-After, when present.
	retryAfterSecs int
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Status != 0:
		return fmt.Sprintf("%s: %s (status=%d body=%s)", e.Provider, e.Kind, e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatusCode lets the shared retry predicates classify status errors.
func (e *Error) HTTPStatusCode() int { return e.Status }
