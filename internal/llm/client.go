// Package llm is the generation client: single prompts and concurrent team
// batches over a langchaingo model.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/devpipe/internal/agents"
	"github.com/fyrsmithlabs/devpipe/internal/config"
	"github.com/fyrsmithlabs/devpipe/internal/logging"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options tunes a Client.
type Options struct {
	Temperature       float64
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxConcurrency    int
}

func optionsFrom(cfg config.LLMConfig) Options {
	return Options{
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		MaxConcurrency:    cfg.MaxConcurrency,
	}
}

// Client wraps a langchaingo model with pacing, timeouts and tracing.
type Client struct {
	model   llms.Model
	opts    Options
	limiter *rate.Limiter
	slots   chan struct{}
	logger  *logging.Logger
	tracer  trace.Tracer
}

// New builds the provider model named in cfg and wraps it.
func New(cfg config.LLMConfig, logger *logging.Logger) (*Client, error) {
	model, err := newModel(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithModel(model, optionsFrom(cfg), logger), nil
}

func newModel(cfg config.LLMConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{openai.WithToken(cfg.APIKey.Value()), openai.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithToken(cfg.APIKey.Value()), anthropic.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// NewWithModel wraps an existing model.
func NewWithModel(model llms.Model, opts Options, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Client{
		model:   model,
		opts:    opts,
		limiter: rate.NewLimiter(limit, opts.MaxConcurrency),
		slots:   make(chan struct{}, opts.MaxConcurrency),
		logger:  logger.Named("llm"),
		tracer:  otel.Tracer("github.com/fyrsmithlabs/devpipe/internal/llm"),
	}
}

// Generate sends prompt to the model under the handle's persona. A nil
// handle sends the prompt without a system message.
func (c *Client) Generate(ctx context.Context, h *agents.Handle, prompt string) (Result, error) {
	role := "none"
	if h != nil {
		role = h.Role
	}

	ctx, span := c.tracer.Start(ctx, "llm.generate", trace.WithAttributes(attribute.String("agent.role", role)))
	defer span.End()

	if err := c.acquire(ctx); err != nil {
		return Result{}, err
	}
	defer c.release()

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	var messages []llms.MessageContent
	if h != nil {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, h.Persona()))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	var callOpts []llms.CallOption
	if c.opts.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(c.opts.Temperature))
	}
	if c.opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(c.opts.MaxTokens))
	}

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	result := toResult(resp)
	span.SetAttributes(attribute.String("llm.result", result.Kind.String()))
	c.logger.Debug(ctx, "generation complete",
		zap.String("role", role),
		zap.Stringer("result", result.Kind),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// toResult tags a response. Anything other than a single non-empty choice
// is degraded.
func toResult(resp *llms.ContentResponse) Result {
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return Result{Kind: Degraded, Raw: fmt.Sprintf("%+v", resp)}
	}
	choice := resp.Choices[0]
	if strings.TrimSpace(choice.Content) == "" {
		return Result{Kind: Degraded, Raw: fmt.Sprintf("%+v", *choice)}
	}
	return Result{Kind: Success, Text: choice.Content}
}

func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		<-c.slots
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func (c *Client) release() {
	<-c.slots
}
