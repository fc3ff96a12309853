package resources

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"

	"github.com/22f2001388/llm-analysis-quiz/internal/faults"
	"github.com/22f2001388/llm-analysis-quiz/internal/logging"
)

const DefaultParallelism = 4

type LoaderOptions struct {
	Parallelism int
	// Allow lists glob patterns resource URLs must match. Empty allows all.
	Allow  []string
	Logger *slog.Logger
}

// Loader downloads and converts a step's resources through a run's Cache.
type Loader struct {
	fetcher     *Fetcher
	parallelism int
	allow       []glob.Glob
	logger      *slog.Logger
}

func NewLoader(fetcher *Fetcher, opts LoaderOptions) (*Loader, error) {
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	allow := make([]glob.Glob, 0, len(opts.Allow))
	for _, pattern := range opts.Allow {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compile resource pattern %q: %w", pattern, err)
		}
		allow = append(allow, g)
	}
	return &Loader{
		fetcher:     fetcher,
		parallelism: opts.Parallelism,
		allow:       allow,
		logger:      logging.OrDefault(opts.Logger),
	}, nil
}

// Allowed reports whether url passes the allow-list.
func (l *Loader) Allowed(url string) bool {
	if len(l.allow) == 0 {
		return true
	}
	for _, g := range l.allow {
		if g.Match(url) {
			return true
		}
	}
	return false
}

// Load fetches and converts a single resource.
func (l *Loader) Load(ctx context.Context, url string) (StructuredResource, error) {
	if !l.Allowed(url) {
		return StructuredResource{}, faults.Newf(faults.CodeFetchFail, "resource %s not in allow-list", url)
	}
	fetched, err := l.fetcher.Fetch(ctx, url)
	if err != nil {
		return StructuredResource{}, err
	}
	return Convert(fetched), nil
}

// LoadAll loads urls in parallel through cache. Resources that fail to load
// are logged and skipped; the result keeps the input order of the rest.
func (l *Loader) LoadAll(ctx context.Context, cache *Cache, urls []string) ([]StructuredResource, error) {
	results := make([]*StructuredResource, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallelism)
	for i, url := range urls {
		g.Go(func() error {
			r, err := cache.GetOrLoad(gctx, url, l.Load)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				l.logger.Warn("resource skipped", "url", url, "code", faults.CodeOf(err), "error", err)
				return nil
			}
			results[i] = &r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]StructuredResource, 0, len(urls))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}
