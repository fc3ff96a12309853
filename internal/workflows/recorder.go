package workflows

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/22f2001388/llm-analysis-quiz/internal/chain"
	"github.com/22f2001388/llm-analysis-quiz/internal/events"
	"github.com/22f2001388/llm-analysis-quiz/internal/logging"
	"github.com/22f2001388/llm-analysis-quiz/internal/store"
)

const persistTimeout = 5 * time.Second

// Recorder persists chain progress and publishes it to live subscribers.
// Either side may be nil. Failures are logged and never stop the run.
type Recorder struct {
	store  store.Store
	broker *events.Broker
	logger *slog.Logger
}

func NewRecorder(st store.Store, broker *events.Broker, logger *slog.Logger) *Recorder {
	return &Recorder{store: st, broker: broker, logger: logging.OrDefault(logger)}
}

func (r *Recorder) RunStarted(ctx context.Context, report *chain.Report) {
	if r.store != nil {
		ctx, cancel := persistContext(ctx)
		defer cancel()
		if err := r.store.CreateRun(ctx, store.RunFromReport(report, report.Email)); err != nil {
			r.logger.Warn("persist run start failed", "run_id", report.RunID, "error", err)
		}
	}
	r.publish(report.RunID, events.TypeRunStarted, map[string]any{
		"startUrl": report.StartURL,
		"status":   string(report.Status),
	})
}

func (r *Recorder) StepRecorded(ctx context.Context, runID string, item chain.ReportItem) {
	if r.store != nil {
		ctx, cancel := persistContext(ctx)
		defer cancel()
		if err := r.store.AppendStep(ctx, store.StepFromItem(runID, item)); err != nil {
			r.logger.Warn("persist step failed", "run_id", runID, "index", item.Index, "error", err)
		}
	}
	payload := map[string]any{
		"index":          item.Index,
		"urlFingerprint": item.URLFingerprint,
		"outcome":        string(item.Outcome),
		"retries":        item.Retries,
		"durationMs":     item.DurationMs,
	}
	if item.NextURL != "" {
		payload["nextUrl"] = item.NextURL
	}
	if item.Code != "" {
		payload["code"] = string(item.Code)
		payload["error"] = item.Error
	}
	r.publish(runID, events.TypeStepRecorded, payload)
}

func (r *Recorder) RunCompleted(ctx context.Context, report *chain.Report) {
	if r.store != nil {
		ctx, cancel := persistContext(ctx)
		defer cancel()
		if err := r.store.CompleteRun(ctx, store.CompletionFromReport(report)); err != nil {
			r.logger.Warn("persist run completion failed", "run_id", report.RunID, "error", err)
		}
	}
	r.publish(report.RunID, events.TypeRunCompleted, map[string]any{
		"status":  string(report.Status),
		"steps":   len(report.Items),
		"totalMs": report.TotalMs,
	})
}

// RunFailed closes a run that ended without a report, creating the row if
// the run never started.
func (r *Recorder) RunFailed(ctx context.Context, job Job, runErr error) error {
	message := "run failed"
	if runErr != nil {
		message = runErr.Error()
	}
	var persistErr error
	if r.store != nil {
		ctx, cancel := persistContext(ctx)
		defer cancel()
		completion := store.Completion{
			RunID:       job.RunID,
			Status:      store.RunStatusErrored,
			Error:       message,
			CompletedAt: store.NowString(),
		}
		persistErr = r.store.CompleteRun(ctx, completion)
		if errors.Is(persistErr, store.ErrNotFound) {
			persistErr = r.store.CreateRun(ctx, store.Run{ID: job.RunID, StartURL: job.StartURL, Email: job.Email, Status: store.RunStatusErrored})
			if persistErr == nil {
				persistErr = r.store.CompleteRun(ctx, completion)
			}
		}
		if persistErr != nil {
			r.logger.Warn("persist run failure failed", "run_id", job.RunID, "error", persistErr)
		}
	}
	r.publish(job.RunID, events.TypeRunCompleted, map[string]any{
		"status": store.RunStatusErrored,
		"error":  message,
	})
	return persistErr
}

func (r *Recorder) publish(runID, eventType string, payload map[string]any) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(events.RunEvent{RunID: runID, Type: eventType, Source: "chain", Payload: payload})
}

// persistContext keeps writes alive when the run context was cancelled by
// shutdown.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}
