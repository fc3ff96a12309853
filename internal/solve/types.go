// Package solve turns a parsed task and its resources into an answer. Solvers
// are pluggable: the deterministic table rules, LLM tiers and the Cascade that
// escalates through them all implement Solver.
package solve

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/22f2001388/llm-analysis-quiz/internal/resources"
)

type Complexity string

const (
	ComplexitySimple Complexity = "simple"
	ComplexityMedium Complexity = "medium"
	ComplexityHard   Complexity = "hard"
)

func ParseComplexity(raw string) (Complexity, bool) {
	switch c := Complexity(strings.ToLower(strings.TrimSpace(raw))); c {
	case ComplexitySimple, ComplexityMedium, ComplexityHard:
		return c, true
	}
	return "", false
}

// AnswerHint is the answer shape suggested by the task wording.
type AnswerHint string

const (
	HintUnknown AnswerHint = ""
	HintNumber  AnswerHint = "number"
	HintString  AnswerHint = "string"
	HintBoolean AnswerHint = "boolean"
	HintObject  AnswerHint = "object"
	HintDataURI AnswerHint = "data-uri"
)

type Task struct {
	Text         string     `json:"text"`
	SubmitURL    string     `json:"submitUrl"`
	ResourceURLs []string   `json:"resourceUrls"`
	AnswerHint   AnswerHint `json:"answerHint,omitempty"`
	PageURL      string     `json:"pageUrl"`
}

// Plan is advisory: it picks the tier list and is passed to solvers as context.
type Plan struct {
	Complexity        Complexity `json:"complexity"`
	Strategy          string     `json:"strategy"`
	Steps             []string   `json:"steps"`
	RequiredResources []string   `json:"requiredResources"`
}

// DefaultPlan is used when no planner is available or planning fails.
func DefaultPlan(res []resources.StructuredResource) Plan {
	names := make([]string, 0, len(res))
	for _, r := range res {
		names = append(names, r.Name)
	}
	return Plan{
		Complexity:        ComplexityMedium,
		Strategy:          "Analyze data and compute answer",
		Steps:             []string{"Load resources", "Analyze task", "Compute answer"},
		RequiredResources: names,
	}
}

type Kind string

const (
	KindNumber  Kind = "number"
	KindString  Kind = "string"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
)

// Result is the answer submitted downstream. Value holds a float64, string,
// bool, or a decoded JSON object/array for KindObject.
type Result struct {
	Kind  Kind `json:"kind"`
	Value any  `json:"value"`
}

// FromValue classifies a decoded answer by its runtime type. Strings that
// happen to contain JSON stay strings.
func FromValue(v any) (*Result, bool) {
	switch value := v.(type) {
	case nil:
		return nil, false
	case float64:
		return numberResult(value)
	case float32:
		return numberResult(float64(value))
	case int:
		return numberResult(float64(value))
	case int64:
		return numberResult(float64(value))
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return nil, false
		}
		return numberResult(f)
	case string:
		return &Result{Kind: KindString, Value: value}, true
	case bool:
		return &Result{Kind: KindBoolean, Value: value}, true
	case map[string]any, []any:
		return &Result{Kind: KindObject, Value: value}, true
	}
	return nil, false
}

func numberResult(f float64) (*Result, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return &Result{Kind: KindNumber, Value: f}, true
}

// Valid reports whether the result is well formed for its kind.
func (r *Result) Valid() bool {
	if r == nil {
		return false
	}
	switch r.Kind {
	case KindNumber:
		f, ok := r.Value.(float64)
		return ok && !math.IsNaN(f) && !math.IsInf(f, 0)
	case KindString:
		_, ok := r.Value.(string)
		return ok
	case KindBoolean:
		_, ok := r.Value.(bool)
		return ok
	case KindObject:
		switch r.Value.(type) {
		case map[string]any, []any:
			return true
		}
	}
	return false
}

// Answer returns the value placed in the submission payload. Whole numbers
// are sent without a fractional part.
func (r *Result) Answer() any {
	if r == nil {
		return nil
	}
	if f, ok := r.Value.(float64); ok && r.Kind == KindNumber && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return r.Value
}

func (r *Result) String() string {
	if r == nil {
		return "<nil>"
	}
	if r.Kind == KindObject {
		raw, _ := json.Marshal(r.Value)
		return string(raw)
	}
	return fmt.Sprint(r.Answer())
}

// Feedback describes an earlier answer the submission endpoint rejected.
type Feedback struct {
	Answer any    `json:"answer"`
	Reason string `json:"reason,omitempty"`
}

type Request struct {
	Task      Task
	Plan      Plan
	Resources []resources.StructuredResource
	Feedback  []Feedback
}

type Solver interface {
	Solve(ctx context.Context, req Request) (*Result, error)
}

// SolverFunc adapts a function to Solver.
type SolverFunc func(ctx context.Context, req Request) (*Result, error)

func (f SolverFunc) Solve(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
