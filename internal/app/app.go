// Package app assembles the chain runtime from configuration. The HTTP
// service, the Temporal worker and the CLI share it.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/22f2001388/llm-analysis-quiz/internal/browser"
	"github.com/22f2001388/llm-analysis-quiz/internal/chain"
	"github.com/22f2001388/llm-analysis-quiz/internal/config"
	"github.com/22f2001388/llm-analysis-quiz/internal/extract"
	"github.com/22f2001388/llm-analysis-quiz/internal/llm"
	"github.com/22f2001388/llm-analysis-quiz/internal/logging"
	"github.com/22f2001388/llm-analysis-quiz/internal/resources"
	"github.com/22f2001388/llm-analysis-quiz/internal/secrets"
	"github.com/22f2001388/llm-analysis-quiz/internal/solve"
	"github.com/22f2001388/llm-analysis-quiz/internal/store"
	"github.com/22f2001388/llm-analysis-quiz/internal/store/memory"
	"github.com/22f2001388/llm-analysis-quiz/internal/store/postgres"
	"github.com/22f2001388/llm-analysis-quiz/internal/store/sqlite"
	"github.com/22f2001388/llm-analysis-quiz/internal/submit"
)

// Runtime owns the long-lived pieces behind a chain controller.
type Runtime struct {
	Controller *chain.Controller
	Pool       *browser.Pool
	Provider   llm.Provider
	Catalogue  solve.Catalogue
	logger     *slog.Logger
}

// NewLogger builds the process logger. The configured quiz secret is masked
// wherever it appears.
func NewLogger(cfg config.Config, w io.Writer) *slog.Logger {
	return logging.New(w, logging.ParseLevel(cfg.LogLevel), cfg.LogFormat, cfg.QuizSecret)
}

func OpenStore(cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "", "memory":
		return memory.New(), nil
	case "postgres":
		st, err := postgres.New(cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "sqlite":
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// NewSealer parses SECRETS_KEY. Without one a random key is generated, which
// only works when sealing and opening happen in the same process.
func NewSealer(cfg config.Config, logger *slog.Logger) (*secrets.Sealer, error) {
	var key []byte
	var err error
	if cfg.SecretsKey != "" {
		key, err = secrets.ParseKey(cfg.SecretsKey)
	} else {
		logging.OrDefault(logger).Warn("SECRETS_KEY not set; using an ephemeral key")
		key, err = secrets.GenerateKey()
	}
	if err != nil {
		return nil, err
	}
	return secrets.NewSealer(key)
}

// Build wires a controller. Nothing is launched or dialled until the first
// run or an explicit Prewarm.
func Build(cfg config.Config, recorder chain.Recorder, logger *slog.Logger) (*Runtime, error) {
	logger = logging.OrDefault(logger)

	catalogue, err := solve.LoadCatalogue(cfg.TiersFile)
	if err != nil {
		return nil, err
	}
	provider := llm.NewProvider(llm.Config{
		APIKeys:    cfg.LLMAPIKeys,
		BaseURL:    cfg.LLMBaseURL,
		Model:      catalogue.PlannerModel,
		Timeout:    cfg.LLMTimeout,
		MaxRetries: cfg.LLMMaxRetries,
		RetryBase:  cfg.LLMRetryBase,
		Logger:     logger,
	})
	models, ok := provider.(llm.ModelBinder)
	if !ok {
		models = llm.OfflineProvider{}
	}
	if len(cfg.LLMAPIKeys) == 0 {
		logger.Warn("no LLM API keys configured; only deterministic tiers can answer")
	}

	tokens := solve.NewTokenizer(logger)
	cascade := solve.NewCascade(catalogue.Build(models, tokens, logger), logger)
	plannerModel := catalogue.PlannerModel
	if cfg.LLMPlannerModel != "" {
		plannerModel = cfg.LLMPlannerModel
	}

	fetcher := resources.NewFetcher(resources.FetcherOptions{
		Timeout:  cfg.DownloadTimeout,
		MaxBytes: cfg.DownloadMaxBytes,
	})
	loader, err := resources.NewLoader(fetcher, resources.LoaderOptions{
		Parallelism: cfg.ResourceParallel,
		Allow:       cfg.ResourceAllow,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	pool := browser.NewPool(browser.NewPlaywrightLauncher(browser.PlaywrightOptions{
		Headless: cfg.BrowserHeadless,
		Install:  cfg.InstallPlaywright,
	}), browser.PoolOptions{IdleTimeout: cfg.BrowserIdle, Logger: logger})

	controller := chain.New(chain.Deps{
		Pages: chain.PoolPages{Pool: pool},
		Renderer: browser.NewRenderer(browser.RendererOptions{
			NavTimeout:      cfg.NavTimeout,
			SelectorTimeout: cfg.SelectorTimeout,
			Attempts:        cfg.ExtractAttempts,
			Backoff:         cfg.ExtractBackoff,
			Logger:          logger,
		}),
		Extractor: extract.New(extract.Options{LLM: models.WithModel(cfg.LLMExtractModel), Logger: logger}),
		Loader:    loader,
		Planner:   solve.NewPlanner(models.WithModel(plannerModel), logger),
		Solver:    cascade,
		Submitter: submit.New(submit.Options{
			Attempts: cfg.SubmitAttempts,
			Delay:    cfg.SubmitDelay,
			Timeout:  cfg.SubmitTimeout,
			Logger:   logger,
		}),
		Recorder: recorder,
		Logger:   logger,
	}, chain.Options{
		Budget:        cfg.TimeBudget,
		MinStart:      cfg.MinStepStart,
		MaxSteps:      cfg.MaxSteps,
		SubmitRetries: cfg.SubmitRetries,
	})

	return &Runtime{
		Controller: controller,
		Pool:       pool,
		Provider:   provider,
		Catalogue:  catalogue,
		logger:     logger,
	}, nil
}

// Prewarm launches the browser engine and primes the LLM connection.
// Failures are logged; the first run retries both lazily.
func (r *Runtime) Prewarm(ctx context.Context) {
	if err := r.Pool.Prewarm(ctx); err != nil {
		r.logger.Warn("browser prewarm failed", "error", err)
	}
	if client, ok := r.Provider.(*llm.Client); ok {
		client.Prewarm(ctx)
	}
}

func (r *Runtime) Close(ctx context.Context) error {
	return r.Pool.Close(ctx)
}
