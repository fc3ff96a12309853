package chain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/22f2001388/llm-analysis-quiz/internal/browser"
	"github.com/22f2001388/llm-analysis-quiz/internal/resources"
	"github.com/22f2001388/llm-analysis-quiz/internal/solve"
	"github.com/22f2001388/llm-analysis-quiz/internal/submit"
)

const submitURL = "https://quiz.example.com/submit"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type nopPage struct{}

func (nopPage) Goto(string, time.Duration) error            { return nil }
func (nopPage) WaitForSelector(string, time.Duration) error { return nil }
func (nopPage) InnerText(string) (string, error)            { return "", nil }
func (nopPage) Content() (string, error)                    { return "", nil }
func (nopPage) Title() (string, error)                      { return "", nil }
func (nopPage) URL() string                                 { return "" }
func (nopPage) Close() error                                { return nil }

type fakePages struct {
	mu       sync.Mutex
	acquired int
	released int
	err      error
}

func (p *fakePages) AcquirePage(ctx context.Context) (browser.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.acquired++
	return nopPage{}, nil
}

func (p *fakePages) ReleasePage(page browser.Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released++
	return nil
}

type fakeRenderer struct {
	mu     sync.Mutex
	visits []string
	errs   map[string]error
	hook   func(url string)
}

func (r *fakeRenderer) Render(ctx context.Context, page browser.Page, url string) (browser.Rendered, error) {
	r.mu.Lock()
	r.visits = append(r.visits, url)
	r.mu.Unlock()
	if r.hook != nil {
		r.hook(url)
	}
	if err := r.errs[url]; err != nil {
		return browser.Rendered{}, err
	}
	return browser.Rendered{Text: "Question at " + url, HTML: "<p>Question</p>"}, nil
}

func (r *fakeRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visits)
}

type fakeExtractor struct {
	panics bool
}

func (e fakeExtractor) Parse(ctx context.Context, text, html, pageURL string) (solve.Task, error) {
	if e.panics {
		panic("extractor exploded")
	}
	return solve.Task{Text: text, SubmitURL: submitURL, PageURL: pageURL, ResourceURLs: []string{pageURL + "/data.csv"}}, nil
}

type fakeLoader struct {
	mu     sync.Mutex
	caches []*resources.Cache
}

func (l *fakeLoader) LoadAll(ctx context.Context, cache *resources.Cache, urls []string) ([]resources.StructuredResource, error) {
	l.mu.Lock()
	l.caches = append(l.caches, cache)
	l.mu.Unlock()
	return nil, nil
}

type fakePlanner struct{}

func (fakePlanner) Plan(ctx context.Context, task solve.Task, res []resources.StructuredResource) solve.Plan {
	return solve.DefaultPlan(res)
}

// sequenceSolver answers 1, 2, 3, ... and records the feedback it saw.
type sequenceSolver struct {
	mu       sync.Mutex
	calls    int
	feedback [][]solve.Feedback
	result   func(n int) (*solve.Result, error)
}

func (s *sequenceSolver) Solve(ctx context.Context, req solve.Request) (*solve.Result, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.feedback = append(s.feedback, append([]solve.Feedback(nil), req.Feedback...))
	s.mu.Unlock()
	if s.result != nil {
		return s.result(n)
	}
	return &solve.Result{Kind: solve.KindNumber, Value: float64(n)}, nil
}

// scriptedSubmitter replays responses per page URL, repeating the last one.
type scriptedSubmitter struct {
	mu        sync.Mutex
	responses map[string][]submit.Response
	payloads  []submit.Payload
	errs      map[string]error
	hook      func()
}

func (s *scriptedSubmitter) Submit(ctx context.Context, url string, payload submit.Payload) (submit.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	if s.hook != nil {
		s.hook()
	}
	if err := s.errs[payload.URL]; err != nil {
		return submit.Response{}, err
	}
	queue := s.responses[payload.URL]
	if len(queue) == 0 {
		return submit.Response{}, errors.New("unscripted page " + payload.URL)
	}
	resp := queue[0]
	if len(queue) > 1 {
		s.responses[payload.URL] = queue[1:]
	}
	return resp, nil
}

func (s *scriptedSubmitter) submissionsFor(url string) []submit.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []submit.Payload
	for _, p := range s.payloads {
		if p.URL == url {
			out = append(out, p)
		}
	}
	return out
}

type captureRecorder struct {
	mu        sync.Mutex
	started   int
	steps     []ReportItem
	completed *Report
}

func (r *captureRecorder) RunStarted(ctx context.Context, report *Report) {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
}

func (r *captureRecorder) StepRecorded(ctx context.Context, runID string, item ReportItem) {
	r.mu.Lock()
	r.steps = append(r.steps, item)
	r.mu.Unlock()
}

func (r *captureRecorder) RunCompleted(ctx context.Context, report *Report) {
	r.mu.Lock()
	r.completed = report
	r.mu.Unlock()
}

func correct(next string) submit.Response {
	ok := true
	resp := submit.Response{Correct: &ok}
	if next != "" {
		resp.URL = &next
	}
	return resp
}

func wrong(next, reason string) submit.Response {
	ok := false
	resp := submit.Response{Correct: &ok, Reason: reason}
	if next != "" {
		resp.URL = &next
	}
	return resp
}

type harness struct {
	clock     *fakeClock
	pages     *fakePages
	renderer  *fakeRenderer
	extractor fakeExtractor
	loader    *fakeLoader
	solver    *sequenceSolver
	submitter *scriptedSubmitter
	recorder  *captureRecorder
	opts      Options
}

func newHarness() *harness {
	return &harness{
		clock:     newFakeClock(),
		pages:     &fakePages{},
		renderer:  &fakeRenderer{},
		loader:    &fakeLoader{},
		solver:    &sequenceSolver{},
		submitter: &scriptedSubmitter{responses: map[string][]submit.Response{}},
		recorder:  &captureRecorder{},
		opts:      Options{Budget: 180 * time.Second, MinStart: 5 * time.Second, MaxSteps: 50, SubmitRetries: 3},
	}
}

func (h *harness) controller() *Controller {
	return New(Deps{
		Pages:     h.pages,
		Renderer:  h.renderer,
		Extractor: h.extractor,
		Loader:    h.loader,
		Planner:   fakePlanner{},
		Solver:    h.solver,
		Submitter: h.submitter,
		Recorder:  h.recorder,
		Clock:     h.clock,
	}, h.opts)
}

func (h *harness) run(start string) *Report {
	report, err := h.controller().Run(context.Background(), Request{
		RunID:    "run-1",
		StartURL: start,
		Email:    "student@example.com",
		Secret:   "s3cr3t",
	})
	if err != nil {
		panic(err)
	}
	return report
}
