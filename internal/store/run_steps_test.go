package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/22f2001388/llm-analysis-quiz/internal/chain"
	"github.com/22f2001388/llm-analysis-quiz/internal/faults"
)

func TestStepFromItem(t *testing.T) {
	ok := false
	started := time.Date(2026, 2, 7, 10, 0, 0, 0, time.FixedZone("x", 3600))
	step := StepFromItem("run-1", chain.ReportItem{
		Index:          2,
		URL:            "https://quiz.example.com/c",
		URLFingerprint: "abc123def456",
		Timings:        []chain.SubStep{{Name: "extract", ElapsedMs: 40, Info: map[string]any{"textLength": 12}}},
		Outcome:        chain.OutcomeFailed,
		Error:          "no answer",
		Code:           faults.CodeSolveNoResult,
		Correct:        &ok,
		Retries:        1,
		StartedAt:      started,
		DurationMs:     900,
	})
	require.Equal(t, "run-1", step.RunID)
	require.Equal(t, 2, step.Index)
	require.Equal(t, "failed", step.Outcome)
	require.Equal(t, "SOLVE_NO_RESULT", step.Code)
	require.Equal(t, "2026-02-07T09:00:00Z", step.StartedAt)
	require.Equal(t, []StepTiming{{Name: "extract", ElapsedMs: 40, Info: map[string]any{"textLength": 12}}}, step.Timings)
	require.False(t, *step.Correct)
}

func TestRunAndCompletionFromReport(t *testing.T) {
	start := time.Date(2026, 2, 7, 10, 0, 0, 0, time.UTC)
	report := &chain.Report{
		RunID:      "run-2",
		StartURL:   "https://quiz.example.com/a",
		Status:     chain.StatusCycleDetected,
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
		TotalMs:    3000,
		Items: []chain.ReportItem{
			{Index: 0, Outcome: chain.OutcomeSubmitted},
			{Index: 1, Outcome: chain.OutcomeFailed, Error: "url already visited in this run"},
		},
	}
	run := RunFromReport(report, "student@example.com")
	require.Equal(t, RunStatusRunning, run.Status)
	require.Equal(t, "2026-02-07T10:00:00Z", run.CreatedAt)

	completion := CompletionFromReport(report)
	require.Equal(t, RunStatusCompleted, completion.Status)
	require.Equal(t, "cycle_detected", completion.FinalStatus)
	require.Equal(t, int64(3000), completion.DurationMs)
	require.Equal(t, "url already visited in this run", completion.Error)
	require.Equal(t, "2026-02-07T10:00:03Z", completion.CompletedAt)
}

func TestAnswerCodec(t *testing.T) {
	cases := []struct {
		name   string
		answer any
		want   any
	}{
		{name: "nil", answer: nil, want: nil},
		{name: "integer", answer: int64(42), want: int64(42)},
		{name: "float", answer: 2.5, want: 2.5},
		{name: "string", answer: "Paris", want: "Paris"},
		{name: "bool", answer: true, want: true},
		{name: "object", answer: map[string]any{"total": 12.5}, want: map[string]any{"total": 12.5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := EncodeAnswer(tc.answer)
			require.NoError(t, err)
			require.Equal(t, tc.want, DecodeAnswer(raw))
		})
	}
}

func TestTimingsDecodeTolerant(t *testing.T) {
	require.Equal(t, []StepTiming{}, DecodeTimings(nil))
	require.Equal(t, []StepTiming{}, DecodeTimings([]byte("not json")))
	raw, err := EncodeTimings(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", string(raw))
}

func TestParseTime(t *testing.T) {
	require.Nil(t, ParseTime(""))
	require.Nil(t, ParseTime("yesterday"))
	require.Equal(t, time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC), ParseTime("2026-02-07T00:00:00Z"))
	require.Equal(t, DefaultListLimit, ClampLimit(0))
	require.Equal(t, 10, ClampLimit(10))
}
