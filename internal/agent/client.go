package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
)

const defaultMaxTokens = 4096

// Client binds a Provider to one model and applies the call policy: rate
// limiting, a per-call timeout, and retries for transient failures.
type Client struct {
	provider      Provider
	model         string
	maxRetries    int
	maxPromptSize int
	limiter       *rate.Limiter
	defaults      GenerateOptions
	backoff       time.Duration
	logger        *slog.Logger
}

type Option func(*Client)

func WithRetry(maxRetries int) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
	}
}

// WithTimeout bounds every provider call; it does not bound the backoff.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.defaults.Timeout = timeout
	}
}

// WithRateLimit creates one limiter when called; every client built from
// the returned option draws from it, so a Router's clients share the budget.
func WithRateLimit(requestsPerMinute int, burst int) Option {
	limiter := rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	return func(c *Client) {
		c.limiter = limiter
	}
}

func WithMaxPromptSize(size int) Option {
	return func(c *Client) {
		c.maxPromptSize = size
	}
}

// WithDefaults supplies temperature, max tokens and seed for calls that do
// not set their own.
func WithDefaults(defaults GenerateOptions) Option {
	return func(c *Client) {
		timeout := c.defaults.Timeout
		c.defaults = defaults
		if defaults.Timeout == 0 {
			c.defaults.Timeout = timeout
		}
	}
}

func WithBackoff(step time.Duration) Option {
	return func(c *Client) {
		c.backoff = step
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(provider Provider, model string, opts ...Option) *Client {
	c := &Client{
		provider:   provider,
		model:      model,
		maxRetries: 3,
		limiter:    rate.NewLimiter(rate.Limit(1), 1), // Default: 60 req/min
		defaults: GenerateOptions{
			MaxTokens: defaultMaxTokens,
			Timeout:   15 * time.Minute,
		},
		backoff: time.Second,
		logger:  slog.Default().With("component", "ai_client"),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger.Debug("AI client initialized",
		"provider", provider.Name(),
		"model", model,
		"max_retries", c.maxRetries,
		"rate_limit", fmt.Sprintf("%v req/s", c.limiter.Limit()))

	return c
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	requestID := fmt.Sprintf("api_%d", time.Now().UnixNano())
	startTime := time.Now()

	if c.maxPromptSize > 0 && len(prompt) > c.maxPromptSize {
		return "", c.providerError(opts.Stage, 0,
			fmt.Errorf("%w: %d > %d bytes", core.ErrPromptTooLarge, len(prompt), c.maxPromptSize))
	}

	req, timeout := c.request(prompt, opts)

	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * c.backoff
			c.logger.Debug("retry backoff",
				"request_id", requestID,
				"attempt", attempt,
				"backoff_seconds", backoff.Seconds())

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.logger.Warn("request cancelled during backoff",
					"request_id", requestID,
					"attempt", attempt)
				return "", ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			c.logger.Error("rate limit wait failed",
				"request_id", requestID,
				"stage", opts.Stage,
				"attempt", attempt,
				"error", err)
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", c.providerError(opts.Stage, attempts, fmt.Errorf("%w: %v", core.ErrRateLimited, err))
		}

		attempts++
		attemptStart := time.Now()
		response, err := c.once(ctx, req, timeout)
		attemptDuration := time.Since(attemptStart)

		if err == nil {
			c.logger.Info("generation request successful",
				"request_id", requestID,
				"stage", opts.Stage,
				"model", c.model,
				"attempt", attempt,
				"duration_ms", attemptDuration.Milliseconds(),
				"response_length", len(response),
				"total_duration_ms", time.Since(startTime).Milliseconds())
			return response, nil
		}

		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		if !core.IsRetryable(err) {
			c.logger.Error("generation request failed with non-retryable error",
				"request_id", requestID,
				"stage", opts.Stage,
				"attempt", attempt,
				"duration_ms", attemptDuration.Milliseconds(),
				"error", err)
			break
		}

		c.logger.Warn("generation request failed, will retry",
			"request_id", requestID,
			"stage", opts.Stage,
			"attempt", attempt,
			"duration_ms", attemptDuration.Milliseconds(),
			"error", err)
	}

	return "", c.providerError(opts.Stage, attempts, lastErr)
}

func (c *Client) request(prompt string, opts GenerateOptions) (Request, time.Duration) {
	req := Request{
		Model:       c.model,
		System:      opts.System,
		Prompt:      prompt,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Seed:        opts.Seed,
	}
	if req.System == "" {
		req.System = c.defaults.System
	}
	if req.Temperature == nil {
		req.Temperature = c.defaults.Temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.defaults.MaxTokens
	}
	if req.Seed == nil {
		req.Seed = c.defaults.Seed
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = c.defaults.Timeout
	}
	return req, timeout
}

func (c *Client) once(ctx context.Context, req Request, timeout time.Duration) (string, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	response, err := c.provider.Generate(callCtx, req)
	if err == nil {
		return response, nil
	}

	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w after %v: %w", core.ErrTimeout, timeout, err)
	}
	return "", classify(err)
}

func (c *Client) providerError(stage string, attempts int, cause error) error {
	return &core.ProviderError{
		Provider: c.provider.Name(),
		Model:    c.model,
		Stage:    stage,
		Attempts: attempts,
		Cause:    cause,
	}
}

// classify maps transport failures onto the core sentinels. Providers map
// HTTP status codes themselves through statusError.
func classify(err error) error {
	if core.IsRetryable(err) ||
		errors.Is(err, core.ErrUnauthorized) ||
		errors.Is(err, core.ErrBadRequest) ||
		errors.Is(err, core.ErrEmptyResponse) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %w", core.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", core.ErrNetworkError, err)
	}
	return err
}

func statusError(status int, err error) error {
	switch {
	case status == 429:
		return fmt.Errorf("%w (status %d): %w", core.ErrRateLimited, status, err)
	case status == 401 || status == 403:
		return fmt.Errorf("%w (status %d): %w", core.ErrUnauthorized, status, err)
	case status == 408:
		return fmt.Errorf("%w (status %d): %w", core.ErrTimeout, status, err)
	case status >= 500:
		return fmt.Errorf("%w (status %d): %w", core.ErrServerError, status, err)
	case status >= 400:
		return fmt.Errorf("%w (status %d): %w", core.ErrBadRequest, status, err)
	default:
		return err
	}
}
