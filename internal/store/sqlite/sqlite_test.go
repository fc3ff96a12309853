package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/22f2001388/llm-analysis-quiz/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateRun(ctx, store.Run{
		ID:        "run-1",
		StartURL:  "https://quiz.example.com/a",
		Email:     "student@example.com",
		CreatedAt: "2026-02-07T00:00:00Z",
	}))
	correct := false
	require.NoError(t, s.AppendStep(ctx, store.StepRecord{
		RunID:          "run-1",
		Index:          0,
		URL:            "https://quiz.example.com/a",
		URLFingerprint: "abc",
		Outcome:        "submitted",
		NextURL:        "https://quiz.example.com/b",
		Answer:         "Paris",
		Correct:        &correct,
		Retries:        2,
		Reason:         "close",
		Timings:        []store.StepTiming{{Name: "solve", ElapsedMs: 320}},
		StartedAt:      "2026-02-07T00:00:00.25Z",
		DurationMs:     500,
	}))
	require.NoError(t, s.AppendStep(ctx, store.StepRecord{RunID: "run-1", Index: 1, URL: "https://quiz.example.com/b", URLFingerprint: "def", Outcome: "ended", Answer: int64(7)}))
	require.NoError(t, s.AppendStep(ctx, store.StepRecord{RunID: "run-1", Index: 1, URL: "https://quiz.example.com/b", URLFingerprint: "def", Outcome: "ended", Answer: int64(7)}))

	require.NoError(t, s.CompleteRun(ctx, store.Completion{
		RunID:       "run-1",
		Status:      store.RunStatusCompleted,
		FinalStatus: "ended",
		DurationMs:  900,
		CompletedAt: "2026-02-07T00:00:01Z",
	}))

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, store.RunStatusCompleted, run.Status)
	require.Equal(t, "ended", run.FinalStatus)
	require.Equal(t, 2, run.Steps)
	require.Equal(t, "2026-02-07T00:00:00Z", run.CreatedAt)
	require.Equal(t, "2026-02-07T00:00:01Z", run.CompletedAt)

	steps, err := s.ListSteps(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, "Paris", steps[0].Answer)
	require.NotNil(t, steps[0].Correct)
	require.False(t, *steps[0].Correct)
	require.Equal(t, 2, steps[0].Retries)
	require.Equal(t, "2026-02-07T00:00:00.25Z", steps[0].StartedAt)
	require.Equal(t, []store.StepTiming{{Name: "solve", ElapsedMs: 320}}, steps[0].Timings)
	require.Equal(t, int64(7), steps[1].Answer)
	require.Nil(t, steps[1].Correct)
}

func TestMissingRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetRun(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.CompleteRun(ctx, store.Completion{RunID: "nope", Status: store.RunStatusCompleted}), store.ErrNotFound)
	require.ErrorIs(t, s.AppendStep(ctx, store.StepRecord{RunID: "nope", URL: "u", URLFingerprint: "f", Outcome: "ended"}), store.ErrNotFound)
}

func TestListRunsOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	stamps := []string{"2026-02-07T00:00:00Z", "2026-02-07T00:00:00.5Z", "2026-02-07T00:00:01Z"}
	for i, stamp := range stamps {
		require.NoError(t, s.CreateRun(ctx, store.Run{ID: fmt.Sprintf("run-%d", i), StartURL: "u", CreatedAt: stamp}))
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-2", runs[0].ID)
	require.Equal(t, "run-1", runs[1].ID)
}

func TestFileDatabasePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	first, err := New(path)
	require.NoError(t, err)
	require.NoError(t, first.CreateRun(ctx, store.Run{ID: "run-1", StartURL: "u"}))
	require.NoError(t, first.Close())

	second, err := New(path)
	require.NoError(t, err)
	defer second.Close()
	run, err := second.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, "u", run.StartURL)
	require.Equal(t, path, second.Path())
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New("  ")
	require.Error(t, err)
}
