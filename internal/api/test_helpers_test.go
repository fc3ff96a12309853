package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/22f2001388/llm-analysis-quiz/internal/browser"
	"github.com/22f2001388/llm-analysis-quiz/internal/config"
	"github.com/22f2001388/llm-analysis-quiz/internal/events"
	"github.com/22f2001388/llm-analysis-quiz/internal/store"
	"github.com/22f2001388/llm-analysis-quiz/internal/workflows"
)

const (
	testEmail  = "student@example.com"
	testSecret = "s3cr3t-value"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateRun(ctx context.Context, run store.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockStore) CompleteRun(ctx context.Context, completion store.Completion) error {
	args := m.Called(ctx, completion)
	return args.Error(0)
}

func (m *MockStore) AppendStep(ctx context.Context, step store.StepRecord) error {
	args := m.Called(ctx, step)
	return args.Error(0)
}

func (m *MockStore) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	args := m.Called(ctx, runID)
	if value := args.Get(0); value != nil {
		return value.(*store.Run), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	args := m.Called(ctx, limit)
	var result []store.Run
	if value := args.Get(0); value != nil {
		result = value.([]store.Run)
	}
	return result, args.Error(1)
}

func (m *MockStore) ListSteps(ctx context.Context, runID string) ([]store.StepRecord, error) {
	args := m.Called(ctx, runID)
	var result []store.StepRecord
	if value := args.Get(0); value != nil {
		result = value.([]store.StepRecord)
	}
	return result, args.Error(1)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) Close() error {
	return nil
}

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Subscribe(ctx context.Context, runID string) <-chan events.RunEvent {
	args := m.Called(ctx, runID)
	if value := args.Get(0); value != nil {
		if ch, ok := value.(chan events.RunEvent); ok {
			return ch
		}
		if ch, ok := value.(<-chan events.RunEvent); ok {
			return ch
		}
	}
	return nil
}

func (m *MockBroker) History(runID string, afterSeq int64) []events.RunEvent {
	args := m.Called(runID, afterSeq)
	if value := args.Get(0); value != nil {
		return value.([]events.RunEvent)
	}
	return nil
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, job workflows.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

type queuedDispatcher struct {
	MockDispatcher
	pending int
}

func (d *queuedDispatcher) Pending() int {
	return d.pending
}

type fakePool struct {
	state  browser.State
	leases int
}

func (p fakePool) State() browser.State { return p.state }
func (p fakePool) Leases() int          { return p.leases }

func testConfig() config.Config {
	return config.Config{QuizEmail: testEmail, QuizSecret: testSecret}
}

func newTestServer(t *testing.T, st store.Store, broker Broker, dispatcher workflows.Dispatcher, cfg config.Config, opts ...Option) *httptest.Server {
	t.Helper()
	server := NewServer(st, broker, dispatcher, cfg, opts...)
	return httptest.NewServer(server.Router())
}
