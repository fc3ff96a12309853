package browser

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/22f2001388/llm-analysis-quiz/internal/faults"
	"github.com/22f2001388/llm-analysis-quiz/internal/htmltext"
)

type Rendered struct {
	Text string
	HTML string
	Meta Meta
}

type Meta struct {
	URL    string
	Title  string
	WaitMs int64
}

type RendererOptions struct {
	NavTimeout      time.Duration
	SelectorTimeout time.Duration
	Selector        string
	Attempts        int
	Backoff         time.Duration
	Logger          *slog.Logger
}

// Renderer loads a URL on a leased page and returns its visible text. Only
// navigation-class failures are retried, with exponential backoff.
type Renderer struct {
	opts   RendererOptions
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRenderer(opts RendererOptions) *Renderer {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 10 * time.Second
	}
	if opts.SelectorTimeout <= 0 {
		opts.SelectorTimeout = 30 * time.Second
	}
	if opts.Selector == "" {
		opts.Selector = "body"
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{opts: opts, logger: logger, sleep: sleepContext}
}

func (r *Renderer) Render(ctx context.Context, page Page, url string) (Rendered, error) {
	var lastErr error
	for attempt := 1; attempt <= r.opts.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Rendered{}, err
		}
		result, err := r.renderOnce(page, url)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !faults.Retryable(err) || errors.Is(err, ErrEngineGone) || attempt == r.opts.Attempts {
			break
		}
		delay := r.opts.Backoff * time.Duration(1<<(attempt-1))
		r.logger.Warn("render attempt failed", "url", url, "attempt", attempt, "retry_in", delay.String(), "error", err)
		if err := r.sleep(ctx, delay); err != nil {
			return Rendered{}, err
		}
	}
	return Rendered{}, lastErr
}

func (r *Renderer) renderOnce(page Page, url string) (Rendered, error) {
	started := time.Now()
	if err := page.Goto(url, r.opts.NavTimeout); err != nil {
		if errors.Is(err, ErrTimeout) {
			return Rendered{}, faults.Wrap(faults.CodeRenderTimeout, "navigate "+url, err)
		}
		return Rendered{}, faults.Wrap(faults.CodeRenderNavigation, "navigate "+url, err)
	}
	if err := page.WaitForSelector(r.opts.Selector, r.opts.SelectorTimeout); err != nil {
		if errors.Is(err, ErrTimeout) {
			return Rendered{}, faults.Wrap(faults.CodeRenderTimeout, "wait for "+r.opts.Selector, err)
		}
		return Rendered{}, faults.Wrap(faults.CodeRenderNoSelector, "wait for "+r.opts.Selector, err)
	}
	waited := time.Since(started)

	text, err := page.InnerText(r.opts.Selector)
	if err != nil {
		return Rendered{}, faults.Wrap(faults.CodeRenderNoSelector, "read "+r.opts.Selector, err)
	}
	html, err := page.Content()
	if err != nil {
		html = ""
	}
	if strings.TrimSpace(text) == "" {
		text = htmltext.Text(html)
	}
	if strings.TrimSpace(text) == "" {
		return Rendered{}, faults.Newf(faults.CodeRenderEmpty, "page %s rendered no text", url)
	}
	title, _ := page.Title()
	finalURL := page.URL()
	if finalURL == "" {
		finalURL = url
	}
	return Rendered{
		Text: strings.TrimSpace(text),
		HTML: html,
		Meta: Meta{URL: finalURL, Title: title, WaitMs: waited.Milliseconds()},
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
