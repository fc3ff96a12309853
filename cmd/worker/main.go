package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/22f2001388/llm-analysis-quiz/internal/app"
	"github.com/22f2001388/llm-analysis-quiz/internal/config"
	"github.com/22f2001388/llm-analysis-quiz/internal/events"
	"github.com/22f2001388/llm-analysis-quiz/internal/workflows"
)

var (
	loadConfig = func() (config.Config, error) {
		config.LoadDotEnv()
		return config.Load(), nil
	}
	logOutput       io.Writer = os.Stderr
	dialTemporal              = client.Dial
	openStore                 = app.OpenStore
	buildRuntime              = app.Build
	newWorker                 = worker.New
	workerInterrupt           = worker.InterruptCh
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
	if cfg.SecretsKey == "" {
		return errors.New("SECRETS_KEY is required")
	}
	logger := app.NewLogger(cfg, logOutput)
	slog.SetDefault(logger)

	temporalClient, err := dialTemporal(client.Options{
		HostPort: cfg.TemporalAddress,
	})
	if err != nil {
		return fmt.Errorf("dial temporal: %w", err)
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	sealer, err := app.NewSealer(cfg, logger)
	if err != nil {
		return err
	}
	recorder := workflows.NewRecorder(st, events.NewBroker(), logger)
	rt, err := buildRuntime(cfg, recorder, logger)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			logger.Warn("browser pool shutdown failed", "error", err)
		}
	}()
	if cfg.Prewarm {
		rt.Prewarm(context.Background())
	}

	activities := workflows.NewActivities(rt.Controller, sealer, recorder)
	w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: cfg.MaxConcurrentRuns,
	})
	w.RegisterWorkflow(workflows.ChainWorkflow)
	w.RegisterActivityWithOptions(activities.RunChain, activity.RegisterOptions{Name: workflows.RunChainActivity})
	w.RegisterActivityWithOptions(activities.HandleRunFailure, activity.RegisterOptions{Name: workflows.HandleRunFailureActivity})

	logger.Info("quizchain worker started", "task_queue", cfg.TemporalTaskQueue, "store", cfg.StoreDriver)
	return w.Run(workerInterrupt())
}
