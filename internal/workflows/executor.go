// Package workflows runs chains detached from the request that started them,
// either on local worker goroutines or as Temporal workflows.
package workflows

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/22f2001388/llm-analysis-quiz/internal/chain"
	"github.com/22f2001388/llm-analysis-quiz/internal/faults"
	"github.com/22f2001388/llm-analysis-quiz/internal/logging"
	"github.com/22f2001388/llm-analysis-quiz/internal/telemetry"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64
)

var (
	ErrQueueFull      = errors.New("run queue is full")
	ErrExecutorClosed = errors.New("executor is shut down")
)

// Job is one accepted solve request.
type Job struct {
	RunID     string
	RequestID string
	StartURL  string
	Email     string
	Secret    string
}

// LogValue keeps the secret out of structured logs.
func (j Job) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("run_id", j.RunID),
		slog.String("request_id", j.RequestID),
		slog.String("start", chain.Fingerprint(j.StartURL)),
	)
}

func (j Job) chainRequest() chain.Request {
	return chain.Request{RunID: j.RunID, StartURL: j.StartURL, Email: j.Email, Secret: j.Secret}
}

type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

type Runner interface {
	Run(ctx context.Context, req chain.Request) (*chain.Report, error)
}

// CompletionHandler is called exactly once per dispatched job, with either
// the final report or the error that prevented one.
type CompletionHandler func(job Job, report *chain.Report, err error)

type ExecutorOptions struct {
	Workers    int
	QueueSize  int
	OnComplete CompletionHandler
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
}

// Executor runs jobs on a fixed set of worker goroutines fed by a bounded
// queue. Dispatch never blocks.
type Executor struct {
	runner     Runner
	onComplete CompletionHandler
	metrics    *telemetry.Metrics
	logger     *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Job

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewExecutor(runner Runner, opts ExecutorOptions) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		runner:     runner,
		onComplete: opts.OnComplete,
		metrics:    opts.Metrics,
		logger:     logging.OrDefault(opts.Logger),
		queue:      make(chan Job, opts.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		e.wg.Add(1)
		go e.work()
	}
	return e
}

func (e *Executor) Dispatch(ctx context.Context, job Job) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrExecutorClosed
	}
	select {
	case e.queue <- job:
		e.logger.Info("run queued", "job", job, "queued", len(e.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending reports the number of queued jobs not yet picked up by a worker.
func (e *Executor) Pending() int {
	return len(e.queue)
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish. When ctx expires first, running chains are cancelled and ctx's
// error is returned once the workers exit.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}

func (e *Executor) work() {
	defer e.wg.Done()
	for job := range e.queue {
		report, err := e.execute(job)
		e.complete(job, report, err)
	}
}

func (e *Executor) execute(job Job) (report *chain.Report, err error) {
	if e.metrics != nil {
		e.metrics.RunStarted()
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("run panicked", "job", job, "panic", rec, "stack", string(debug.Stack()))
			report = nil
			err = faults.Newf(faults.CodeUnexpected, "run panic: %v", rec)
		}
		if e.metrics != nil {
			status := "errored"
			if report != nil {
				status = string(report.Status)
			}
			e.metrics.RunFinished(e.ctx, status)
		}
	}()
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}
	return e.runner.Run(e.ctx, job.chainRequest())
}

func (e *Executor) complete(job Job, report *chain.Report, err error) {
	if err != nil {
		e.logger.Warn("run errored", "job", job, "error", err)
	} else if report != nil {
		e.logger.Info("run finished", "job", job, "status", report.Status, "steps", len(report.Items), "total_ms", report.TotalMs)
	}
	if e.onComplete == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("completion handler panicked", "job", job, "panic", rec)
		}
	}()
	e.onComplete(job, report, err)
}
