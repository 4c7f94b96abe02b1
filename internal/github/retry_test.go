package github

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/fyrsmithlabs/devpipe/internal/logging"
	gogithub "github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func response(code int) *gogithub.Response {
	return &gogithub.Response{Response: &http.Response{StatusCode: code}}
}

func TestRetryConfig_ApplyDefaults(t *testing.T) {
	t.Run("applies all defaults when empty", func(t *testing.T) {
		cfg := &RetryConfig{}
		cfg.ApplyDefaults()

		assert.Equal(t, 3, cfg.MaxRetries)
		assert.Equal(t, time.Second, cfg.InitialBackoff)
		assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
		assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	})

	t.Run("preserves non-zero values", func(t *testing.T) {
		cfg := &RetryConfig{MaxRetries: 5, InitialBackoff: 2 * time.Second, MaxBackoff: time.Minute, BackoffMultiplier: 3}
		cfg.ApplyDefaults()

		assert.Equal(t, 5, cfg.MaxRetries)
		assert.Equal(t, 2*time.Second, cfg.InitialBackoff)
	})
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("success after transient failures", func(t *testing.T) {
		tl := logging.NewTestLogger()
		calls := 0
		err := withRetry(ctx, fastRetry, tl.Logger, "op", func() (*gogithub.Response, error) {
			calls++
			if calls < 3 {
				return response(http.StatusServiceUnavailable), errors.New("unavailable")
			}
			return response(http.StatusOK), nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		tl.AssertLogged(t, zapcore.InfoLevel, "recovered after retries")
	})

	t.Run("non-retryable stops immediately", func(t *testing.T) {
		calls := 0
		err := withRetry(ctx, fastRetry, logging.NewNop(), "op", func() (*gogithub.Response, error) {
			calls++
			return response(http.StatusUnauthorized), errors.New("bad credentials")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausted retries wrap the last error", func(t *testing.T) {
		tl := logging.NewTestLogger()
		last := errors.New("still down")
		err := withRetry(ctx, fastRetry, tl.Logger, "op", func() (*gogithub.Response, error) {
			return response(http.StatusBadGateway), last
		})
		assert.ErrorIs(t, err, last)
		tl.AssertLogged(t, zapcore.WarnLevel, "failed after all retries")
	})

	t.Run("cancellation stops backoff", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		slow := &RetryConfig{MaxRetries: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour, BackoffMultiplier: 1}
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		err := withRetry(cctx, slow, logging.NewNop(), "op", func() (*gogithub.Response, error) {
			return response(http.StatusBadGateway), errors.New("down")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRateLimitBackoff(t *testing.T) {
	resp := response(http.StatusForbidden)
	resp.Rate = gogithub.Rate{Limit: 5000, Remaining: 0, Reset: gogithub.Timestamp{Time: time.Now().Add(10 * time.Second)}}

	assert.True(t, isRateLimit(resp))
	b := rateLimitBackoff(resp, time.Minute)
	assert.Greater(t, b, 9*time.Second)
	assert.LessOrEqual(t, b, 12*time.Second)

	assert.Equal(t, 5*time.Second, rateLimitBackoff(resp, 5*time.Second))
}
