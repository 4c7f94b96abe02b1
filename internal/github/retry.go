package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/devpipe/internal/logging"
	gogithub "github.com/google/go-github/v57/github"
	"go.uber.org/zap"
)

// RetryConfig configures retry behavior for GitHub API calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	// Default: 3
	MaxRetries int

	// InitialBackoff is the initial backoff duration.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	// Default: 30 seconds
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// withRetry runs operation with exponential backoff, honoring GitHub rate
// limit resets. Operations are whole find-or-create units, so a retry
// re-checks before creating anything.
func withRetry(ctx context.Context, cfg *RetryConfig, logger *logging.Logger, op string, operation func() (*gogithub.Response, error)) error {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	cfg.ApplyDefaults()

	var lastErr error
	var lastResp *gogithub.Response
	backoff := cfg.InitialBackoff
	start := time.Now()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		resp, err := operation()
		if err == nil {
			if attempt > 0 {
				logger.Info(ctx, "github operation recovered after retries",
					zap.String("operation", op),
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(start)))
			}
			return nil
		}
		lastErr, lastResp = err, resp

		if !isRetryable(err, resp) {
			logger.Debug(ctx, "github error is not retryable",
				zap.String("operation", op), zap.Error(err), zap.Int("status_code", statusCode(resp)))
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		if isRateLimit(resp) {
			backoff = rateLimitBackoff(resp, cfg.MaxBackoff)
			logger.Info(ctx, "github rate limit hit, adjusting backoff",
				zap.String("operation", op), zap.Int("attempt", attempt+1), zap.Duration("backoff", backoff))
		} else {
			logger.Info(ctx, "retrying github operation after transient error",
				zap.String("operation", op),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", cfg.MaxRetries+1),
				zap.Error(err),
				zap.Int("status_code", statusCode(resp)),
				zap.Duration("backoff", backoff))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(backoff):
			next := time.Duration(float64(backoff) * cfg.BackoffMultiplier)
			if next > cfg.MaxBackoff {
				next = cfg.MaxBackoff
			}
			backoff = next
		}
	}

	logger.Warn(ctx, "github operation failed after all retries",
		zap.String("operation", op),
		zap.Int("total_attempts", cfg.MaxRetries+1),
		zap.Duration("total_time", time.Since(start)),
		zap.Error(lastErr),
		zap.Int("status_code", statusCode(lastResp)))
	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

func isRetryable(err error, resp *gogithub.Response) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var permanent *permanentError
	if errors.As(err, &permanent) {
		return false
	}

	if resp != nil && resp.Response != nil {
		code := resp.Response.StatusCode
		switch code {
		case http.StatusTooManyRequests:
			return true
		case http.StatusForbidden:
			// Secondary rate limits arrive as 403 with rate headers.
			return resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound,
			http.StatusConflict, http.StatusUnprocessableEntity:
			return false
		default:
			return code >= 500 && code < 600
		}
	}

	// No response: network failure, worth retrying.
	return true
}

func isRateLimit(resp *gogithub.Response) bool {
	if resp == nil || resp.Response == nil {
		return false
	}
	if resp.Response.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.Response.StatusCode == http.StatusForbidden && resp.Rate.Limit > 0
}

func rateLimitBackoff(resp *gogithub.Response, maxBackoff time.Duration) time.Duration {
	if resp == nil || (resp.Rate.Limit == 0 && resp.Rate.Remaining == 0) {
		return maxBackoff
	}
	backoff := time.Until(resp.Rate.Reset.Time) + time.Second
	if backoff < time.Second {
		backoff = time.Second
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

func statusCode(resp *gogithub.Response) int {
	if resp != nil && resp.Response != nil {
		return resp.Response.StatusCode
	}
	return 0
}

// permanentError marks a failure no retry can fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
