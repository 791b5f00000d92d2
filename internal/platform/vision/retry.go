package vision

import (
	"context"
	"errors"
	"time"

	"github.com/arisofia/ocr-backend/internal/pkg/httpx"
	"github.com/arisofia/ocr-backend/internal/pkg/logger"
)

// policy is the shared request discipline for every provider: up to
// maxAttempts tries with jittered exponential backoff (2s, 4s, 8s, ...).
// A 429 waits for Retry-After (capped) and does not consume an attempt;
// the surrounding context deadline bounds the total budget.
type policy struct {
	log         *logger.Logger
	maxAttempts int
	timeout     time.Duration
	backoffBase time.Duration
	maxWait     time.Duration
	sleep       func(context.Context, time.Duration) error
}

func newPolicy(log *logger.Logger, maxAttempts int, timeout time.Duration) policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return policy{
		log:         log,
		maxAttempts: maxAttempts,
		timeout:     timeout,
		backoffBase: time.Second,
		maxWait:     30 * time.Second,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// do runs once() until success, attempts are exhausted, or the error is
// not retryable.
func (p policy) do(ctx context.Context, provider string, once func(context.Context) error) error {
	attempt := 1
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := once(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}

		var ve *Error
		if errors.As(err, &ve) {
			switch ve.Kind {
			case KindConfigMissing, KindParseFailure:
				return err
			case KindRateLimited:
				wait := ve.retryAfter(p.backoffBase*time.Duration(1<<attempt), p.maxWait)
				p.log.Debug("provider rate limited, waiting",
					"provider", provider, "wait", wait)
				if serr := p.sleep(ctx, wait); serr != nil {
					return err
				}
				// Not counted against the attempt budget.
				continue
			}
		}
		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt >= p.maxAttempts {
			return err
		}
		backoff := httpx.JitterSleep(p.backoffBase * time.Duration(1<<attempt))
		p.log.Debug("provider attempt failed, retrying",
			"provider", provider, "attempt", attempt, "backoff", backoff, "error", err)
		if serr := p.sleep(ctx, backoff); serr != nil {
			return err
		}
		attempt++
	}
}

// retryAfter prefers the Retry-After the server sent, stashed on the error
// as seconds, falling back to the computed backoff.
func (e *Error) retryAfter(fallback, max time.Duration) time.Duration {
	wait := fallback
	if e != nil && e.retryAfterSecs > 0 {
		wait = time.Duration(e.retryAfterSecs) * time.Second
	}
	if max > 0 && wait > max {
		wait = max
	}
	return wait
}
