// Package submit posts answers to a task's submission endpoint.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/22f2001388/llm-analysis-quiz/internal/faults"
	"github.com/22f2001388/llm-analysis-quiz/internal/logging"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = time.Second
	DefaultTimeout  = 15 * time.Second
	maxResponseBody = 64 << 10
)

type Payload struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
	Answer any    `json:"answer"`
}

// LogValue keeps the secret out of structured logs.
func (p Payload) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("email", p.Email),
		slog.String("url", p.URL),
		slog.Any("answer", p.Answer),
	)
}

type Response struct {
	Correct *bool   `json:"correct,omitempty"`
	URL     *string `json:"url,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// IsCorrect reports whether the endpoint accepted the answer.
func (r Response) IsCorrect() bool {
	return r.Correct != nil && *r.Correct
}

// NextURL returns the next task URL, or "" when the chain ends here.
func (r Response) NextURL() string {
	if r.URL == nil {
		return ""
	}
	return *r.URL
}

type Options struct {
	Attempts   int
	Delay      time.Duration
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client posts payloads as JSON, retrying transport failures and 5xx replies
// with a fixed delay.
type Client struct {
	http     *http.Client
	attempts int
	delay    time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(opts Options) *Client {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		http:     client,
		attempts: opts.Attempts,
		delay:    opts.Delay,
		timeout:  opts.Timeout,
		logger:   logging.OrDefault(opts.Logger),
		sleep:    sleepContext,
	}
}

func (c *Client) Submit(ctx context.Context, url string, payload Payload) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, faults.Wrap(faults.CodeSubmitFail, "encode payload", err)
	}
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.delay); err != nil {
				return Response{}, faults.Wrap(faults.CodeSubmitFail, "submit cancelled", err)
			}
		}
		resp, retry, err := c.post(ctx, url, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retry {
			break
		}
		c.logger.Warn("submit attempt failed", "attempt", attempt, "url", url, "error", err)
	}
	return Response{}, faults.Wrap(faults.CodeSubmitFail, fmt.Sprintf("submit to %s", url), lastErr)
}

// post makes one attempt. retry reports whether a failure is worth repeating.
func (c *Client) post(ctx context.Context, url string, body []byte) (resp Response, retry bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return Response{}, true, err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return Response{}, true, err
	}

	var parsed Response
	decodeErr := json.Unmarshal(raw, &parsed)
	switch {
	case res.StatusCode >= 500:
		return Response{}, true, fmt.Errorf("status %d", res.StatusCode)
	case res.StatusCode >= 400:
		if decodeErr == nil {
			return parsed, false, nil
		}
		return Response{}, false, fmt.Errorf("status %d", res.StatusCode)
	case decodeErr != nil:
		return Response{}, false, nil
	}
	return parsed, false, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
