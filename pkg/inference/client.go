// Package inference is a metered client for an OpenAI-compatible chat
// completion API. Every successful call is priced from the model catalog and
// appended to the usage ledger exactly once.
package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/sophia-ai/sophia/pkg/catalog"
	"github.com/sophia-ai/sophia/pkg/ledger"
	"github.com/sophia-ai/sophia/pkg/logger"
	"github.com/sophia-ai/sophia/pkg/models"
)

// ErrInvalidModel is returned before any network call when the requested
// model is not in the catalog.
var ErrInvalidModel = errors.New("invalid model")

// TransportError is returned when every attempt failed. It unwraps to the
// error of the last attempt.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("inference failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Completer performs a single chat completion call. *openai.Client satisfies it.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// GenerateRequest holds the parameters of one metered call.
type GenerateRequest struct {
	Messages    []models.ChatMessage
	Model       string
	Temperature float32
	MaxTokens   int
	UserID      string
	SessionID   string
}

// Defaults for the retry policy.
const (
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = time.Second
	DefaultMaxDelay       = 10 * time.Second
	DefaultAttemptTimeout = 60 * time.Second
	DefaultUsageDays      = 30
)

// Client is safe for concurrent use.
type Client struct {
	catalog   *catalog.Catalog
	ledger    ledger.Ledger
	completer Completer
	log       *zap.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	attemptTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithMaxAttempts sets the total attempt budget, including the first call.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the base delay and the cap for exponential backoff.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = base
		c.maxDelay = maxDelay
	}
}

// WithAttemptTimeout bounds each individual attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.attemptTimeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = logger.OrNop(l) }
}

// WithClock replaces time.Now for the ledger timestamp and the stats window.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Client that sends requests through completer.
func New(cat *catalog.Catalog, l ledger.Ledger, completer Completer, opts ...Option) *Client {
	c := &Client{
		catalog:        cat,
		ledger:         l,
		completer:      completer,
		log:            zap.NewNop(),
		now:            time.Now,
		sleep:          sleepContext,
		maxAttempts:    DefaultMaxAttempts,
		baseDelay:      DefaultBaseDelay,
		maxDelay:       DefaultMaxDelay,
		attemptTimeout: DefaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewOpenAICompleter returns a go-openai client for baseURL authenticated
// with a bearer token.
func NewOpenAICompleter(baseURL, apiKey string, timeout time.Duration) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(cfg)
}

// Generate validates the model, calls the API with retry and backoff, records
// usage on success and returns the decoded response unmodified.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (openai.ChatCompletionResponse, error) {
	model, ok := c.catalog.Lookup(req.Model)
	if !ok {
		return openai.ChatCompletionResponse{}, fmt.Errorf("%w: %q", ErrInvalidModel, req.Model)
	}

	apiReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		User:        req.UserID,
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.backoff(attempt - 1)
			if err := c.sleep(ctx, delay); err != nil {
				return openai.ChatCompletionResponse{}, fmt.Errorf("generate cancelled after %d attempt(s): %w", attempt-1, err)
			}
		}

		start := time.Now()
		resp, err := c.attempt(ctx, apiReq)
		latency := time.Since(start)
		if err == nil {
			c.record(ctx, req, model, resp, latency)
			return resp, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return openai.ChatCompletionResponse{}, fmt.Errorf("generate cancelled after %d attempt(s): %w", attempt, ctx.Err())
		}
		if !retryable(err) {
			return openai.ChatCompletionResponse{}, &TransportError{Attempts: attempt, Err: err}
		}
		c.log.Warn("inference attempt failed",
			zap.String("model", req.Model),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxAttempts),
			zap.Error(err),
		)
	}

	return openai.ChatCompletionResponse{}, &TransportError{Attempts: c.maxAttempts, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()
	return c.completer.CreateChatCompletion(attemptCtx, req)
}

// record appends the usage row. A missing usage block counts as zero tokens.
// Ledger failures are logged and do not fail the call.
func (c *Client) record(ctx context.Context, req GenerateRequest, model catalog.Model, resp openai.ChatCompletionResponse, latency time.Duration) {
	tokens := resp.Usage.TotalTokens
	rec := models.UsageRecord{
		Timestamp: c.now(),
		Model:     model.Name,
		Tokens:    tokens,
		Cost:      c.catalog.Cost(model.Name, tokens),
		LatencyMs: latency.Milliseconds(),
		UserID:    req.UserID,
		SessionID: req.SessionID,
	}
	if err := c.ledger.Append(context.WithoutCancel(ctx), rec); err != nil {
		c.log.Error("usage ledger append failed",
			zap.String("model", rec.Model),
			zap.Int("tokens", rec.Tokens),
			zap.Float64("cost", rec.Cost),
			zap.Error(err),
		)
	}
}

// backoff returns the delay before retry n (1-based): base * 2^(n-1), capped.
func (c *Client) backoff(n int) time.Duration {
	d := c.baseDelay
	for i := 1; i < n && (c.maxDelay <= 0 || d < c.maxDelay); i++ {
		d *= 2
	}
	if c.maxDelay > 0 && d > c.maxDelay {
		return c.maxDelay
	}
	return d
}

// UsageStats aggregates the ledger over the trailing days (default 30).
func (c *Client) UsageStats(ctx context.Context, days int) (models.UsageReport, error) {
	if days <= 0 {
		days = DefaultUsageDays
	}
	end := c.now()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)

	stats, err := c.ledger.Stats(ctx, start, end)
	if err != nil {
		return models.UsageReport{}, err
	}
	return models.UsageReport{
		PeriodDays: days,
		StartTime:  start,
		EndTime:    end,
		ModelStats: stats,
	}, nil
}

// Catalog returns the catalog used for validation and pricing.
func (c *Client) Catalog() *catalog.Catalog {
	return c.catalog
}

// retryable reports whether err is worth another attempt. Client errors
// other than timeouts and rate limits are final.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	if code == 0 || code >= 500 {
		return true
	}
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

func sleepContext(ctx context.Context, d time.Duration) error {
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

func toOpenAIMessages(msgs []models.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
