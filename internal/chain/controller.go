// Package chain drives one quiz run: it follows the chain of quiz pages from
// the start URL, solving and submitting each one, until the server stops
// handing out next URLs or a limit is reached.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/22f2001388/llm-analysis-quiz/internal/browser"
	"github.com/22f2001388/llm-analysis-quiz/internal/faults"
	"github.com/22f2001388/llm-analysis-quiz/internal/governor"
	"github.com/22f2001388/llm-analysis-quiz/internal/logging"
	"github.com/22f2001388/llm-analysis-quiz/internal/resources"
	"github.com/22f2001388/llm-analysis-quiz/internal/solve"
	"github.com/22f2001388/llm-analysis-quiz/internal/submit"
	"github.com/22f2001388/llm-analysis-quiz/internal/telemetry"
)

const (
	DefaultBudget        = 180 * time.Second
	DefaultMinStart      = 5 * time.Second
	DefaultMaxSteps      = 50
	DefaultSubmitRetries = 3
)

type Renderer interface {
	Render(ctx context.Context, page browser.Page, url string) (browser.Rendered, error)
}

type Extractor interface {
	Parse(ctx context.Context, text, html, pageURL string) (solve.Task, error)
}

type ResourceLoader interface {
	LoadAll(ctx context.Context, cache *resources.Cache, urls []string) ([]resources.StructuredResource, error)
}

type Planner interface {
	Plan(ctx context.Context, task solve.Task, res []resources.StructuredResource) solve.Plan
}

type Submitter interface {
	Submit(ctx context.Context, url string, payload submit.Payload) (submit.Response, error)
}

type Options struct {
	Budget        time.Duration
	MinStart      time.Duration
	MaxSteps      int
	SubmitRetries int
}

func (o Options) withDefaults() Options {
	if o.Budget <= 0 {
		o.Budget = DefaultBudget
	}
	if o.MinStart <= 0 {
		o.MinStart = DefaultMinStart
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = DefaultMaxSteps
	}
	if o.SubmitRetries < 0 {
		o.SubmitRetries = 0
	}
	return o
}

// Deps are the collaborators a Controller drives. Recorder, Clock and Logger
// are optional.
type Deps struct {
	Pages     Pages
	Renderer  Renderer
	Extractor Extractor
	Loader    ResourceLoader
	Planner   Planner
	Solver    solve.Solver
	Submitter Submitter
	Recorder  Recorder
	Clock     governor.Clock
	Logger    *slog.Logger
}

// Request starts a run. Secret is forwarded to the submission endpoint and
// never logged or recorded.
type Request struct {
	RunID    string
	StartURL string
	Email    string
	Secret   string
}

type Controller struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
	steps  metric.Int64Counter
}

func New(deps Deps, opts Options) *Controller {
	if deps.Recorder == nil {
		deps.Recorder = NopRecorder{}
	}
	if deps.Clock == nil {
		deps.Clock = governor.SystemClock{}
	}
	logger := logging.OrDefault(deps.Logger)
	steps, err := telemetry.Meter("quizchain/chain").Int64Counter("quizchain.chain.steps",
		metric.WithDescription("Chain steps by outcome"))
	if err != nil {
		logger.Warn("step counter unavailable", "error", err)
	}
	return &Controller{
		deps:   deps,
		opts:   opts.withDefaults(),
		logger: logger,
		tracer: telemetry.Tracer("quizchain/chain"),
		steps:  steps,
	}
}

func (c *Controller) Options() Options {
	return c.opts
}

// run is the state owned by a single Run call.
type run struct {
	req    Request
	gov    *governor.Governor
	seen   map[string]bool
	cache  *resources.Cache
	page   browser.Page
	logger *slog.Logger
}

// Run follows the chain from req.StartURL. The returned report is complete:
// every failure mode ends the run with a terminal item rather than an error.
// The only error is for a request that cannot start.
func (c *Controller) Run(ctx context.Context, req Request) (*Report, error) {
	if req.StartURL == "" {
		return nil, faults.New(faults.CodeInput, "start url is required")
	}
	r := &run{
		req:    req,
		gov:    governor.New(c.opts.Budget, c.deps.Clock),
		seen:   map[string]bool{},
		cache:  resources.NewCache(),
		logger: c.logger.With("run_id", req.RunID),
	}
	defer c.releasePage(r)

	ctx, span := c.tracer.Start(ctx, "chain.run", trace.WithAttributes(
		attribute.String("run.id", req.RunID),
		attribute.String("run.start_fingerprint", Fingerprint(req.StartURL)),
	))
	defer span.End()

	report := &Report{
		RunID:     req.RunID,
		StartURL:  req.StartURL,
		Email:     req.Email,
		Status:    StatusRunning,
		StartedAt: r.gov.Start(),
	}
	c.deps.Recorder.RunStarted(ctx, report)
	r.logger.Info("chain started", "start", Fingerprint(req.StartURL), "budget_ms", c.opts.Budget.Milliseconds())

	current := req.StartURL
	for index := 0; ; index++ {
		if index >= c.opts.MaxSteps {
			c.appendItem(ctx, r, report, c.terminalItem(index, current, OutcomeFailed,
				faults.Newf(faults.CodeStepLimit, "step limit of %d reached", c.opts.MaxSteps)))
			report.Status = StatusStepLimitExceeded
			break
		}
		if r.seen[current] {
			c.appendItem(ctx, r, report, c.terminalItem(index, current, OutcomeFailed,
				faults.New(faults.CodeURLCycle, "url already visited in this run")))
			report.Status = StatusCycleDetected
			break
		}
		r.seen[current] = true
		if !r.gov.CanStart(c.opts.MinStart) {
			c.appendItem(ctx, r, report, c.terminalItem(index, current, OutcomeTimeout,
				faults.Newf(faults.CodeTimeBudget, "%dms left, need %dms", r.gov.Remaining().Milliseconds(), c.opts.MinStart.Milliseconds())))
			report.Status = StatusTimedOut
			break
		}

		item := c.step(ctx, r, index, current)
		c.appendItem(ctx, r, report, item)
		if item.Outcome == OutcomeSubmitted {
			current = item.NextURL
			continue
		}
		switch item.Outcome {
		case OutcomeEnded:
			report.Status = StatusEnded
		case OutcomeTimeout:
			report.Status = StatusTimedOut
		default:
			report.Status = StatusFailed
		}
		break
	}

	report.FinishedAt = c.deps.Clock.Now()
	report.TotalMs = report.FinishedAt.Sub(report.StartedAt).Milliseconds()
	span.SetAttributes(attribute.String("run.status", string(report.Status)), attribute.Int("run.steps", len(report.Items)))
	if report.Status == StatusFailed {
		span.SetStatus(codes.Error, string(report.Status))
	}
	r.logger.Info("chain complete", "status", report.Status, "steps", len(report.Items), "total_ms", report.TotalMs)
	c.deps.Recorder.RunCompleted(ctx, report)
	return report, nil
}

func (c *Controller) appendItem(ctx context.Context, r *run, report *Report, item ReportItem) {
	report.Items = append(report.Items, item)
	if c.steps != nil {
		c.steps.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(item.Outcome))))
	}
	attrs := []any{"index", item.Index, "url", item.URLFingerprint, "outcome", item.Outcome, "duration_ms", item.DurationMs}
	if item.Code != "" {
		attrs = append(attrs, "code", item.Code, "error", item.Error)
		r.logger.Warn("step recorded", attrs...)
	} else {
		r.logger.Info("step recorded", attrs...)
	}
	c.deps.Recorder.StepRecorded(ctx, report.RunID, item)
}

func (c *Controller) terminalItem(index int, url string, outcome Outcome, err *faults.Fault) ReportItem {
	now := c.deps.Clock.Now()
	return ReportItem{
		Index:          index,
		URL:            url,
		URLFingerprint: Fingerprint(url),
		Timings:        []SubStep{},
		Outcome:        outcome,
		Error:          err.Error(),
		Code:           err.Code,
		StartedAt:      now,
	}
}

// step runs one quiz page end to end. Any failure, including a panic, becomes
// a failed item. The budget is only checked before a step starts.
func (c *Controller) step(ctx context.Context, r *run, index int, url string) (item ReportItem) {
	start := c.deps.Clock.Now()
	item = ReportItem{
		Index:          index,
		URL:            url,
		URLFingerprint: Fingerprint(url),
		Timings:        []SubStep{},
		StartedAt:      start,
	}
	ctx, span := c.tracer.Start(ctx, "chain.step", trace.WithAttributes(
		attribute.Int("step.index", index),
		attribute.String("step.url_fingerprint", item.URLFingerprint),
	))
	defer func() {
		if rec := recover(); rec != nil {
			c.fail(&item, faults.Newf(faults.CodeUnexpected, "step panic: %v", rec))
		}
		item.DurationMs = c.deps.Clock.Now().Sub(start).Milliseconds()
		span.SetAttributes(attribute.String("step.outcome", string(item.Outcome)))
		if item.Code != "" {
			span.SetStatus(codes.Error, string(item.Code))
		}
		span.End()
	}()

	if err := c.runStep(ctx, r, &item); err != nil {
		c.fail(&item, err)
	}
	return item
}

func (c *Controller) fail(item *ReportItem, err error) {
	item.Error = err.Error()
	item.Code = faults.CodeOf(err)
	item.Outcome = OutcomeFailed
}

func (c *Controller) runStep(ctx context.Context, r *run, item *ReportItem) error {
	page, err := c.acquirePage(ctx, r)
	if err != nil {
		return err
	}

	mark := c.deps.Clock.Now()
	rendered, err := c.deps.Renderer.Render(ctx, page, item.URL)
	mark = c.track(item, "extract", mark, map[string]any{"textLength": len(rendered.Text)})
	if err != nil {
		return err
	}

	task, err := c.deps.Extractor.Parse(ctx, rendered.Text, rendered.HTML, item.URL)
	mark = c.track(item, "parse", mark, map[string]any{"resources": len(task.ResourceURLs)})
	if err != nil {
		return err
	}

	res, err := c.deps.Loader.LoadAll(ctx, r.cache, task.ResourceURLs)
	mark = c.track(item, "resources", mark, map[string]any{"loaded": len(res), "requested": len(task.ResourceURLs)})
	if err != nil {
		return err
	}

	plan := c.deps.Planner.Plan(ctx, task, res)
	mark = c.track(item, "plan", mark, map[string]any{"complexity": string(plan.Complexity)})

	solveReq := solve.Request{Task: task, Plan: plan, Resources: res}
	result, err := c.deps.Solver.Solve(ctx, solveReq)
	mark = c.track(item, "solve", mark, nil)
	if err != nil {
		return err
	}
	if !result.Valid() {
		return faults.New(faults.CodeSolveNoResult, "no solver produced an answer")
	}

	payload := submit.Payload{Email: r.req.Email, Secret: r.req.Secret, URL: item.URL, Answer: result.Answer()}
	resp, err := c.deps.Submitter.Submit(ctx, task.SubmitURL, payload)
	if err != nil {
		c.track(item, "submit", mark, nil)
		return err
	}

	retries := 0
	for !resp.IsCorrect() && retries < c.opts.SubmitRetries {
		if !r.gov.CanStart(c.opts.MinStart) {
			r.logger.Info("no time left to retry", "url", item.URLFingerprint, "retries", retries)
			break
		}
		retries++
		solveReq.Feedback = append(solveReq.Feedback, solve.Feedback{Answer: payload.Answer, Reason: resp.Reason})
		r.logger.Info("answer rejected, retrying", "url", item.URLFingerprint, "retry", retries, "reason", resp.Reason)

		retry, err := c.deps.Solver.Solve(ctx, solveReq)
		if err != nil || !retry.Valid() {
			r.logger.Warn("retry produced no answer", "url", item.URLFingerprint, "retry", retries, "error", err)
			continue
		}
		payload.Answer = retry.Answer()
		next, err := c.deps.Submitter.Submit(ctx, task.SubmitURL, payload)
		if err != nil {
			r.logger.Warn("retry submission failed", "url", item.URLFingerprint, "retry", retries, "error", err)
			continue
		}
		resp = next
	}
	c.track(item, "submit", mark, map[string]any{"retries": retries})

	item.Answer = payload.Answer
	item.Correct = resp.Correct
	item.Reason = resp.Reason
	item.Retries = retries
	if next := resp.NextURL(); next != "" {
		item.Outcome = OutcomeSubmitted
		item.NextURL = next
	} else {
		item.Outcome = OutcomeEnded
	}
	return nil
}

// track appends a timing for the phase that began at since and returns the
// current instant.
func (c *Controller) track(item *ReportItem, name string, since time.Time, info map[string]any) time.Time {
	now := c.deps.Clock.Now()
	item.Timings = append(item.Timings, SubStep{Name: name, ElapsedMs: now.Sub(since).Milliseconds(), Info: info})
	return now
}

func (c *Controller) acquirePage(ctx context.Context, r *run) (browser.Page, error) {
	if r.page != nil {
		return r.page, nil
	}
	page, err := c.deps.Pages.AcquirePage(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire page: %w", err)
	}
	r.page = page
	return page, nil
}

func (c *Controller) releasePage(r *run) {
	if r.page == nil {
		return
	}
	if err := c.deps.Pages.ReleasePage(r.page); err != nil {
		r.logger.Warn("page release failed", "error", err)
	}
	r.page = nil
}
