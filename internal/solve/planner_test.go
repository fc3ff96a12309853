package solve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/22f2001388/llm-analysis-quiz/internal/resources"
)

func TestPlannerSimpleTableSkipsModel(t *testing.T) {
	provider := &recordingProvider{err: errors.New("should not be called")}
	p := NewPlanner(provider, nil)
	plan := p.Plan(context.Background(), Task{Text: "What is the sum of the amount column?"}, []resources.StructuredResource{salesTable()})
	require.Equal(t, ComplexitySimple, plan.Complexity)
	require.Equal(t, []string{"sales.csv"}, plan.RequiredResources)
	require.Nil(t, provider.messages)
}

func TestPlannerUsesModelReply(t *testing.T) {
	provider := &recordingProvider{reply: `{"complexity": "hard", "strategy": "Fit a regression", "steps": ["load", "fit"], "requiredResources": ["a.csv"]}`}
	p := NewPlanner(provider, nil)
	plan := p.Plan(context.Background(), Task{Text: "Predict next month's revenue"}, []resources.StructuredResource{salesTable()})
	require.Equal(t, Plan{Complexity: ComplexityHard, Strategy: "Fit a regression", Steps: []string{"load", "fit"}, RequiredResources: []string{"a.csv"}}, plan)
	require.Contains(t, provider.messages[0].Content, "columns [Region, Amount, Active], 4 rows")
}

func TestPlannerFallsBackToDefault(t *testing.T) {
	res := []resources.StructuredResource{{Name: "notes.txt", RawContent: "x"}}
	tests := []struct {
		name     string
		provider *recordingProvider
	}{
		{name: "error", provider: &recordingProvider{err: errors.New("timeout")}},
		{name: "no json", provider: &recordingProvider{reply: "medium I think"}},
		{name: "bad complexity", provider: &recordingProvider{reply: `{"complexity": "extreme", "strategy": "x"}`}},
		{name: "missing strategy", provider: &recordingProvider{reply: `{"complexity": "simple"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := NewPlanner(tt.provider, nil).Plan(context.Background(), Task{Text: "Summarise"}, res)
			require.Equal(t, DefaultPlan(res), plan)
			require.Equal(t, ComplexityMedium, plan.Complexity)
		})
	}
	require.Equal(t, DefaultPlan(nil), NewPlanner(nil, nil).Plan(context.Background(), Task{}, nil))
}
