package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/22f2001388/llm-analysis-quiz/internal/store"
)

type MemoryStore struct {
	mu    sync.RWMutex
	runs  map[string]store.Run
	steps map[string]map[int]store.StepRecord
}

func New() *MemoryStore {
	return &MemoryStore{
		runs:  map[string]store.Run{},
		steps: map[string]map[int]store.StepRecord{},
	}
}

func (m *MemoryStore) CreateRun(ctx context.Context, run store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if run.Status == "" {
		run.Status = store.RunStatusRunning
	}
	if run.CreatedAt == "" {
		run.CreatedAt = store.NowString()
	}
	if run.UpdatedAt == "" {
		run.UpdatedAt = run.CreatedAt
	}
	m.runs[run.ID] = run
	return nil
}

func (m *MemoryStore) CompleteRun(ctx context.Context, completion store.Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[completion.RunID]
	if !ok {
		return store.ErrNotFound
	}
	run.Status = completion.Status
	run.FinalStatus = completion.FinalStatus
	run.Error = completion.Error
	run.DurationMs = completion.DurationMs
	run.CompletedAt = completion.CompletedAt
	if run.CompletedAt == "" {
		run.CompletedAt = store.NowString()
	}
	run.UpdatedAt = run.CompletedAt
	m.runs[run.ID] = run
	return nil
}

func (m *MemoryStore) AppendStep(ctx context.Context, step store.StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[step.RunID]
	if !ok {
		return store.ErrNotFound
	}
	if m.steps[step.RunID] == nil {
		m.steps[step.RunID] = map[int]store.StepRecord{}
	}
	m.steps[step.RunID][step.Index] = step
	run.Steps = len(m.steps[step.RunID])
	run.UpdatedAt = store.NowString()
	m.runs[run.ID] = run
	return nil
}

func (m *MemoryStore) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &run, nil
}

// ListRuns returns the most recently created runs first.
func (m *MemoryStore) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.Run, 0, len(m.runs))
	for _, run := range m.runs {
		results = append(results, run)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt == results[j].CreatedAt {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt > results[j].CreatedAt
	})
	if limit = store.ClampLimit(limit); len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MemoryStore) ListSteps(ctx context.Context, runID string) ([]store.StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.StepRecord, 0, len(m.steps[runID]))
	for _, step := range m.steps[runID] {
		results = append(results, step)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
