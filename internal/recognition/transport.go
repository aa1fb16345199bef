package recognition

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sodav/monitor/internal/errors"
)

// retryable reports whether a response status is worth retrying: server
// errors and rate limiting, nothing else.
func retryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// doWithRetry issues a request built by newReq, retrying transient
// failures with exponential backoff (backoff, 2*backoff, 4*backoff, ...).
// The factory runs once per attempt so request bodies are fresh. onRetry,
// when non-nil, fires once per retry for accounting. The returned
// response is either 2xx or a non-retryable status; the caller owns its
// body.
func doWithRetry(ctx context.Context, client *http.Client, newReq func() (*http.Request, error),
	maxRetries int, backoff time.Duration, onRetry func(), log *slog.Logger) (*http.Response, error) {

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry()
			}
			wait := backoff << (attempt - 1)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req.WithContext(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			log.Warn("provider request failed", "attempt", attempt+1, "error", err)
			continue
		}

		if retryable(resp.StatusCode) {
			lastErr = errors.Newf("provider returned status %d", resp.StatusCode).
				Category(errors.CategoryProvider).
				Context("status", resp.StatusCode).
				Build()
			_ = resp.Body.Close()
			log.Warn("provider request retried", "attempt", attempt+1, "status", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, errors.New(lastErr).
		Component("recognition").
		Category(errors.CategoryNetwork).
		Context("retries", maxRetries).
		Build()
}
