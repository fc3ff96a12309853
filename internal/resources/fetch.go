package resources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/22f2001388/llm-analysis-quiz/internal/faults"
)

const (
	DefaultFetchTimeout = 8 * time.Second
	DefaultMaxBytes     = 1 << 20
)

type Fetched struct {
	Body        []byte
	ContentType string
	URL         string
}

type FetcherOptions struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
	Client    *http.Client
}

// Fetcher downloads auxiliary files with a fixed timeout and size ceiling.
type Fetcher struct {
	client    *http.Client
	timeout   time.Duration
	maxBytes  int64
	userAgent string
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "llm-quiz-bot/1.0"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{client: client, timeout: opts.Timeout, maxBytes: opts.MaxBytes, userAgent: opts.UserAgent}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) (Fetched, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Fetched{}, faults.Wrap(faults.CodeFetchFail, "build request", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return Fetched{}, faults.Wrap(faults.CodeFetchFail, "get "+url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Fetched{}, faults.Newf(faults.CodeFetchFail, "get %s: status %d", url, resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return Fetched{}, faults.Newf(faults.CodeFetchTooLarge, "get %s: %d bytes exceeds %d", url, resp.ContentLength, f.maxBytes)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return Fetched{}, faults.Wrap(faults.CodeFetchFail, "read "+url, err)
	}
	if int64(len(body)) > f.maxBytes {
		return Fetched{}, faults.Newf(faults.CodeFetchTooLarge, "get %s: body exceeds %d bytes", url, f.maxBytes)
	}
	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	return Fetched{Body: body, ContentType: contentType, URL: url}, nil
}

func (f Fetched) String() string {
	return fmt.Sprintf("%s (%s, %d bytes)", f.URL, f.ContentType, len(f.Body))
}
