package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/22f2001388/llm-analysis-quiz/internal/faults"
	"github.com/22f2001388/llm-analysis-quiz/internal/logging"
)

const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryBase  = time.Second
	defaultMaxTokens  = 2048
)

// Client talks to an OpenAI-compatible chat completions endpoint. Clients
// derived with WithModel share the key ring and prewarm state.
type Client struct {
	keys        *keyring
	baseURL     string
	model       string
	timeout     time.Duration
	maxRetries  int
	retryBase   time.Duration
	temperature float64
	maxTokens   int64
	httpClient  *http.Client
	logger      *slog.Logger
	prewarm     *sync.Once
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Client{
		keys:        newKeyring(cfg.APIKeys),
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
		retryBase:   cfg.RetryBase,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  cfg.HTTPClient,
		logger:      logging.OrDefault(cfg.Logger),
		prewarm:     &sync.Once{},
		sleep:       sleepContext,
	}
}

func (c *Client) WithModel(model string) Provider {
	clone := *c
	clone.model = model
	return &clone
}

func (c *Client) Model() string {
	return c.model
}

// Generate sends messages and returns the trimmed reply. Rate-limited calls
// rotate to the next key; rate limits and server errors are retried with
// exponential backoff. Each attempt is abandoned after the configured timeout.
func (c *Client) Generate(ctx context.Context, messages []Message) (string, error) {
	if c.keys.size() == 0 {
		return "", ErrNoAPIKeys
	}
	if strings.TrimSpace(c.model) == "" {
		return "", ErrMissingModel
	}
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryBase * time.Duration(1<<(attempt-1))
			if err := c.sleep(ctx, delay); err != nil {
				return "", err
			}
		}
		key := c.keys.current()
		text, err := c.complete(ctx, key, messages)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		status := statusOf(err)
		switch {
		case status == http.StatusTooManyRequests:
			next := c.keys.rotate(key)
			c.logger.Warn("llm rate limited", "model", c.model, "attempt", attempt+1, "rotated", next != key)
		case status >= 500 || (status == 0 && !faults.Is(err, faults.CodeLLMTimeout) && !faults.Is(err, faults.CodeLLMInvalid)):
			c.logger.Warn("llm call failed", "model", c.model, "attempt", attempt+1, "error", err)
		default:
			return "", err
		}
	}
	return "", lastErr
}

// complete runs one request in its own goroutine and stops waiting when the
// per-call timeout fires, even if the transport has not returned.
func (c *Client) complete(ctx context.Context, key string, messages []Message) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		text, err := c.request(callCtx, key, messages)
		done <- reply{text: text, err: err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", faults.Newf(faults.CodeLLMTimeout, "%s: no reply within %s", c.model, c.timeout)
	}
}

func (c *Client) request(ctx context.Context, key string, messages []Message) (string, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithBaseURL(c.baseURL),
		option.WithMaxRetries(0),
	}
	if c.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(c.httpClient))
	}
	client := openai.NewClient(opts...)

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(c.model),
		Messages:  toParams(messages),
		MaxTokens: openai.Int(c.maxTokens),
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", faults.Newf(faults.CodeLLMInvalid, "%s: response had no choices", c.model)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", faults.Newf(faults.CodeLLMInvalid, "%s: response was empty", c.model)
	}
	return content, nil
}

// Prewarm sends one tiny request per process so the first real call does not
// pay for connection setup. Failures are logged and ignored.
func (c *Client) Prewarm(ctx context.Context) {
	c.prewarm.Do(func() {
		start := time.Now()
		_, err := c.Generate(ctx, []Message{{Role: RoleUser, Content: "ping"}})
		if err != nil {
			c.logger.Warn("llm prewarm failed", "model", c.model, "error", err)
			return
		}
		c.logger.Info("llm prewarmed", "model", c.model, "duration_ms", time.Since(start).Milliseconds())
	})
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func statusOf(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
