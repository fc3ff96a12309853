package solve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/22f2001388/llm-analysis-quiz/internal/llm"
	"github.com/22f2001388/llm-analysis-quiz/internal/logging"
	"github.com/22f2001388/llm-analysis-quiz/internal/resources"
)

// Planner classifies a task. A lone table with a recognised aggregate
// question is planned locally as simple; everything else asks the model and
// falls back to DefaultPlan.
type Planner struct {
	provider llm.Provider
	logger   *slog.Logger
}

func NewPlanner(provider llm.Provider, logger *slog.Logger) *Planner {
	return &Planner{provider: provider, logger: logging.OrDefault(logger)}
}

func (p *Planner) Plan(ctx context.Context, task Task, res []resources.StructuredResource) Plan {
	if table, ok := singleTable(res); ok {
		if op, ok := parseOperation(task.Text); ok {
			return Plan{
				Complexity:        ComplexitySimple,
				Strategy:          fmt.Sprintf("%s over %s", op.op, table.Name),
				Steps:             []string{"Load " + table.Name, "Apply " + string(op.op)},
				RequiredResources: []string{table.Name},
			}
		}
	}
	if p.provider == nil {
		return DefaultPlan(res)
	}
	plan, err := p.ask(ctx, task, res)
	if err != nil {
		p.logger.Warn("planner fallback", "error", err)
		return DefaultPlan(res)
	}
	return plan
}

type planReply struct {
	Complexity        string   `json:"complexity"`
	Strategy          string   `json:"strategy"`
	Steps             []string `json:"steps"`
	RequiredResources []string `json:"requiredResources"`
}

func (p *Planner) ask(ctx context.Context, task Task, res []resources.StructuredResource) (Plan, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this quiz task and create a solution plan.\n\nTask: %q\n\nAvailable resources:\n", task.Text)
	for _, r := range res {
		if r.IsRaw() {
			fmt.Fprintf(&b, "- %s: unstructured text, %d chars\n", r.Name, len(r.RawContent))
			continue
		}
		fmt.Fprintf(&b, "- %s: columns [%s], %d rows\n", r.Name, strings.Join(r.Headers, ", "), r.RowCount)
	}
	b.WriteString(`
Return JSON with:
- complexity: "simple" (basic lookup/arithmetic), "medium" (filtering/aggregation), or "hard" (multi-step analysis)
- strategy: brief description of how to solve
- steps: array of steps
- requiredResources: which resources are needed

Respond with JSON only.`)

	reply, err := p.provider.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: b.String()}})
	if err != nil {
		return Plan{}, err
	}
	raw, ok := llm.JSONObject(reply)
	if !ok {
		return Plan{}, fmt.Errorf("plan reply has no JSON object")
	}
	var parsed planReply
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	complexity, ok := ParseComplexity(parsed.Complexity)
	if !ok || strings.TrimSpace(parsed.Strategy) == "" {
		return Plan{}, fmt.Errorf("plan reply incomplete: %q", raw)
	}
	plan := Plan{
		Complexity:        complexity,
		Strategy:          strings.TrimSpace(parsed.Strategy),
		Steps:             parsed.Steps,
		RequiredResources: parsed.RequiredResources,
	}
	if plan.Steps == nil {
		plan.Steps = []string{}
	}
	if plan.RequiredResources == nil {
		plan.RequiredResources = []string{}
	}
	return plan, nil
}
