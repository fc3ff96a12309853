package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/22f2001388/llm-analysis-quiz/internal/api"
	"github.com/22f2001388/llm-analysis-quiz/internal/app"
	"github.com/22f2001388/llm-analysis-quiz/internal/chain"
	"github.com/22f2001388/llm-analysis-quiz/internal/config"
	"github.com/22f2001388/llm-analysis-quiz/internal/events"
	"github.com/22f2001388/llm-analysis-quiz/internal/store"
	"github.com/22f2001388/llm-analysis-quiz/internal/telemetry"
	"github.com/22f2001388/llm-analysis-quiz/internal/workflows"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

// dispatcher is a workflows.Dispatcher with a shutdown hook.
type dispatcher interface {
	workflows.Dispatcher
	Shutdown(ctx context.Context) error
}

type temporalDispatcher struct {
	*workflows.TemporalDispatcher
	client client.Client
}

func (d temporalDispatcher) Shutdown(context.Context) error {
	d.client.Close()
	return nil
}

var (
	loadConfig = func() (config.Config, error) {
		config.LoadDotEnv()
		cfg := config.Load()
		return cfg, cfg.Validate()
	}
	logOutput     io.Writer = os.Stderr
	initTelemetry           = telemetry.Init
	openStore               = app.OpenStore
	buildRuntime            = app.Build
	dialTemporal            = client.Dial
	newServer               = func(st store.Store, broker *events.Broker, d workflows.Dispatcher, cfg config.Config, opts ...api.Option) server {
		return api.NewServer(st, broker, d, cfg, opts...)
	}
	notifyContext = signal.NotifyContext
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg, logOutput)
	slog.SetDefault(logger)

	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTelemetry, err := initTelemetry(ctx, cfg.OTLPEndpoint, "quizchain", cfg.ServiceVersion, cfg.OTLPInsecure)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	broker := events.NewBroker()
	recorder := workflows.NewRecorder(st, broker, logger)
	metrics := telemetry.NewMetrics(time.Now())
	opts := []api.Option{api.WithMetrics(metrics), api.WithLogger(logger)}

	var runs dispatcher
	var rt *app.Runtime
	switch cfg.DispatchMode {
	case "temporal":
		runs, err = newTemporalDispatcher(cfg, logger)
		if err != nil {
			return err
		}
	default:
		rt, err = buildRuntime(cfg, recorder, logger)
		if err != nil {
			return fmt.Errorf("build runtime: %w", err)
		}
		runs = newLocalDispatcher(cfg, rt.Controller, recorder, metrics, logger)
		opts = append(opts, api.WithPool(rt.Pool))
		if cfg.Prewarm {
			go rt.Prewarm(ctx)
		}
	}

	srv := newServer(st, broker, runs, cfg, opts...)
	addr := fmt.Sprintf(":%s", cfg.Port)
	logger.Info("quizchain listening", "addr", addr, "store", cfg.StoreDriver, "dispatch", cfg.DispatchMode)
	serveErr := srv.Start(ctx, addr)
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	if err := runs.Shutdown(shutdownCtx); err != nil {
		logger.Warn("run dispatcher shutdown incomplete", "error", err)
	}
	if rt != nil {
		if err := rt.Close(shutdownCtx); err != nil {
			logger.Warn("browser pool shutdown failed", "error", err)
		}
	}
	return serveErr
}

func newLocalDispatcher(cfg config.Config, runner workflows.Runner, recorder *workflows.Recorder, metrics *telemetry.Metrics, logger *slog.Logger) *workflows.Executor {
	return workflows.NewExecutor(runner, workflows.ExecutorOptions{
		Workers:   cfg.MaxConcurrentRuns,
		QueueSize: cfg.RunQueueSize,
		Metrics:   metrics,
		Logger:    logger,
		OnComplete: func(job workflows.Job, report *chain.Report, err error) {
			if err == nil || report != nil {
				return
			}
			if recordErr := recorder.RunFailed(context.Background(), job, err); recordErr != nil {
				logger.Warn("record run failure failed", "run_id", job.RunID, "error", recordErr)
			}
		},
	})
}

func newTemporalDispatcher(cfg config.Config, logger *slog.Logger) (dispatcher, error) {
	if cfg.SecretsKey == "" {
		return nil, errors.New("SECRETS_KEY is required when DISPATCH_MODE=temporal")
	}
	sealer, err := app.NewSealer(cfg, logger)
	if err != nil {
		return nil, err
	}
	temporalClient, err := dialTemporal(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		return nil, fmt.Errorf("dial temporal: %w", err)
	}
	timeout := cfg.TimeBudget + time.Minute
	return temporalDispatcher{
		TemporalDispatcher: workflows.NewTemporalDispatcher(temporalClient, cfg.TemporalTaskQueue, sealer, timeout),
		client:             temporalClient,
	}, nil
}
