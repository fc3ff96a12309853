package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/22f2001388/llm-analysis-quiz/internal/chain"
	"github.com/22f2001388/llm-analysis-quiz/internal/secrets"
)

const (
	DefaultTaskQueue       = "quizchain-runs"
	DefaultActivityTimeout = chain.DefaultBudget + time.Minute

	RunChainActivity         = "RunChain"
	HandleRunFailureActivity = "HandleRunFailure"
)

// ChainInput travels through Temporal history, so the secret is sealed.
type ChainInput struct {
	RunID          string
	RequestID      string
	StartURL       string
	Email          string
	SealedSecret   string
	TimeoutSeconds int
}

type ChainResult struct {
	Status string
	Steps  int
}

type RunFailureInput struct {
	RunID    string
	StartURL string
	Email    string
	Error    string
}

// ChainWorkflow runs one chain as a single non-retried activity. The chain
// itself owns retries and its time budget.
func ChainWorkflow(ctx workflow.Context, input ChainInput) (ChainResult, error) {
	timeout := DefaultActivityTimeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})
	logger := workflow.GetLogger(ctx)

	var result ChainResult
	err := workflow.ExecuteActivity(ctx, RunChainActivity, input).Get(ctx, &result)
	if err == nil {
		return result, nil
	}
	logger.Error("chain activity failed", "run_id", input.RunID, "error", err)
	failure := RunFailureInput{
		RunID:    input.RunID,
		StartURL: input.StartURL,
		Email:    input.Email,
		Error:    "run chain: " + err.Error(),
	}
	if failureErr := workflow.ExecuteActivity(ctx, HandleRunFailureActivity, failure).Get(ctx, nil); failureErr != nil {
		logger.Error("failed to record run failure", "run_id", input.RunID, "error", failureErr)
	}
	return ChainResult{Status: "errored"}, err
}

// Activities are registered on the worker under RunChainActivity and
// HandleRunFailureActivity.
type Activities struct {
	runner   Runner
	sealer   *secrets.Sealer
	recorder *Recorder
}

func NewActivities(runner Runner, sealer *secrets.Sealer, recorder *Recorder) *Activities {
	return &Activities{runner: runner, sealer: sealer, recorder: recorder}
}

func (a *Activities) RunChain(ctx context.Context, input ChainInput) (ChainResult, error) {
	if strings.TrimSpace(input.RunID) == "" {
		return ChainResult{}, errors.New("run_id required")
	}
	secret, err := a.sealer.Open(input.RunID, input.SealedSecret)
	if err != nil {
		return ChainResult{}, fmt.Errorf("open secret: %w", err)
	}
	report, err := a.runner.Run(ctx, chain.Request{
		RunID:    input.RunID,
		StartURL: input.StartURL,
		Email:    input.Email,
		Secret:   secret,
	})
	if err != nil {
		return ChainResult{}, err
	}
	return ChainResult{Status: string(report.Status), Steps: len(report.Items)}, nil
}

func (a *Activities) HandleRunFailure(ctx context.Context, input RunFailureInput) error {
	if strings.TrimSpace(input.RunID) == "" {
		return errors.New("run_id required")
	}
	detail := strings.TrimSpace(input.Error)
	if detail == "" {
		detail = "unknown workflow activity error"
	}
	if a.recorder == nil {
		return nil
	}
	return a.recorder.RunFailed(ctx, Job{RunID: input.RunID, StartURL: input.StartURL, Email: input.Email}, errors.New(detail))
}

// TemporalDispatcher starts a ChainWorkflow per job.
type TemporalDispatcher struct {
	client    client.Client
	taskQueue string
	sealer    *secrets.Sealer
	timeout   time.Duration
}

func NewTemporalDispatcher(c client.Client, taskQueue string, sealer *secrets.Sealer, timeout time.Duration) *TemporalDispatcher {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	if timeout <= 0 {
		timeout = DefaultActivityTimeout
	}
	return &TemporalDispatcher{client: c, taskQueue: taskQueue, sealer: sealer, timeout: timeout}
}

func (d *TemporalDispatcher) Dispatch(ctx context.Context, job Job) error {
	sealed, err := d.sealer.Seal(job.RunID, job.Secret)
	if err != nil {
		return fmt.Errorf("seal secret: %w", err)
	}
	options := client.StartWorkflowOptions{
		ID:        workflowID(job.RunID),
		TaskQueue: d.taskQueue,
	}
	_, err = d.client.ExecuteWorkflow(ctx, options, ChainWorkflow, ChainInput{
		RunID:          job.RunID,
		RequestID:      job.RequestID,
		StartURL:       job.StartURL,
		Email:          job.Email,
		SealedSecret:   sealed,
		TimeoutSeconds: int(d.timeout / time.Second),
	})
	return err
}

func workflowID(runID string) string {
	return fmt.Sprintf("quizchain:%s", runID)
}
