package main

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/22f2001388/llm-analysis-quiz/internal/app"
	"github.com/22f2001388/llm-analysis-quiz/internal/chain"
	"github.com/22f2001388/llm-analysis-quiz/internal/config"
	"github.com/22f2001388/llm-analysis-quiz/internal/store"
	"github.com/22f2001388/llm-analysis-quiz/internal/store/memory"
	"github.com/22f2001388/llm-analysis-quiz/internal/workflows"
)

type stubWorker struct {
	worker.Worker
	runErr     error
	workflows  int
	activities []string
}

func (s *stubWorker) RegisterWorkflow(w interface{}) {
	s.workflows++
}

func (s *stubWorker) RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions) {
	s.activities = append(s.activities, options.Name)
}

func (s *stubWorker) Run(_ <-chan interface{}) error {
	return s.runErr
}

func captureWorkerDeps() func() {
	origLoadConfig := loadConfig
	origLogOutput := logOutput
	origDialTemporal := dialTemporal
	origOpenStore := openStore
	origBuildRuntime := buildRuntime
	origNewWorker := newWorker
	origWorkerInterrupt := workerInterrupt

	return func() {
		loadConfig = origLoadConfig
		logOutput = origLogOutput
		dialTemporal = origDialTemporal
		openStore = origOpenStore
		buildRuntime = origBuildRuntime
		newWorker = origNewWorker
		workerInterrupt = origWorkerInterrupt
	}
}

func workerConfig() config.Config {
	return config.Config{
		StoreDriver:       "memory",
		TemporalAddress:   "localhost:7233",
		TemporalTaskQueue: workflows.DefaultTaskQueue,
		SecretsKey:        "0123456789abcdef0123456789abcdef",
		MaxSteps:          5,
	}
}

func stubWorkerDeps(cfg config.Config, w *stubWorker) {
	loadConfig = func() (config.Config, error) { return cfg, nil }
	logOutput = io.Discard
	dialTemporal = func(_ client.Options) (client.Client, error) {
		return nil, nil
	}
	openStore = func(config.Config) (store.Store, error) { return memory.New(), nil }
	newWorker = func(_ client.Client, _ string, _ worker.Options) worker.Worker {
		return w
	}
	workerInterrupt = func() <-chan interface{} {
		return make(chan interface{})
	}
}

func TestRunSuccess(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	w := &stubWorker{}
	stubWorkerDeps(workerConfig(), w)

	if err := run(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if w.workflows != 1 {
		t.Fatalf("expected one workflow, got %d", w.workflows)
	}
	if len(w.activities) != 2 || w.activities[0] != workflows.RunChainActivity || w.activities[1] != workflows.HandleRunFailureActivity {
		t.Fatalf("unexpected activities %v", w.activities)
	}
}

func TestRunWorkerFailure(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	stubWorkerDeps(workerConfig(), &stubWorker{runErr: errors.New("worker stopped")})

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunConfigLoadFailure(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{}, errors.New("config load failed")
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunRequiresSecretsKey(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	cfg := workerConfig()
	cfg.SecretsKey = ""
	stubWorkerDeps(cfg, &stubWorker{})
	dialTemporal = func(_ client.Options) (client.Client, error) {
		t.Fatal("temporal should not be dialled")
		return nil, nil
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunTemporalClientFailure(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	stubWorkerDeps(workerConfig(), &stubWorker{})
	dialTemporal = func(_ client.Options) (client.Client, error) {
		return nil, errors.New("temporal dial failed")
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunSecretsKeyParseFailure(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	cfg := workerConfig()
	cfg.SecretsKey = "bad-key"
	stubWorkerDeps(cfg, &stubWorker{})

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunBuildFailure(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	stubWorkerDeps(workerConfig(), &stubWorker{})
	buildRuntime = func(config.Config, chain.Recorder, *slog.Logger) (*app.Runtime, error) {
		return nil, errors.New("bad tiers file")
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}
