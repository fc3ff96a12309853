package solve

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/22f2001388/llm-analysis-quiz/internal/resources"
)

type operation string

const (
	opSum      operation = "sum"
	opAvg      operation = "avg"
	opMin      operation = "min"
	opMax      operation = "max"
	opCount    operation = "count"
	opFilterEq operation = "filter-eq"
)

type tableOp struct {
	op     operation
	column string
	eq     any
}

const columnPattern = `(?:"([^"]+)"|'([^']+)'|([\w.-]+(?:\s+[\w.-]+)*?))`

var aggregateRules = []struct {
	op      operation
	pattern *regexp.Regexp
}{
	{opSum, regexp.MustCompile(`(?i)\bsum(?:\s+of)?\s+(?:the\s+)?(?:column\s+)?` + columnPattern + `(?:\s+column)?(?:[?.,;:]|\s+(?:in|from|for|where|across|of)\b|$)`)},
	{opAvg, regexp.MustCompile(`(?i)\b(?:average|avg|mean)(?:\s+of)?\s+(?:the\s+)?(?:column\s+)?` + columnPattern + `(?:\s+column)?(?:[?.,;:]|\s+(?:in|from|for|where|across|of)\b|$)`)},
	{opMin, regexp.MustCompile(`(?i)\b(?:minimum|min)(?:\s+of)?\s+(?:the\s+)?(?:column\s+)?` + columnPattern + `(?:\s+column)?(?:[?.,;:]|\s+(?:in|from|for|where|across|of)\b|$)`)},
	{opMax, regexp.MustCompile(`(?i)\b(?:maximum|max)(?:\s+of)?\s+(?:the\s+)?(?:column\s+)?` + columnPattern + `(?:\s+column)?(?:[?.,;:]|\s+(?:in|from|for|where|across|of)\b|$)`)},
}

var (
	countRows = regexp.MustCompile(`(?i)\bcount\b.*\brows\b|\bhow many rows\b|\bnumber of rows\b`)
	filterEq  = regexp.MustCompile(`(?i)\brows?\s+where\s+(?:column\s+)?` + columnPattern + `\s+(?:equals?|=|is)\s+(?:"([^"]*)"|'([^']*)'|([^\s?.,;]+))`)
)

// DeterministicSolver answers simple aggregate questions over a single table
// without calling a model. It returns nil when no rule applies.
type DeterministicSolver struct{}

func NewDeterministicSolver() *DeterministicSolver {
	return &DeterministicSolver{}
}

// fold builds a fresh Caser per call; Casers carry state.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

func (s *DeterministicSolver) Solve(ctx context.Context, req Request) (*Result, error) {
	table, ok := singleTable(req.Resources)
	if !ok {
		return nil, nil
	}
	op, ok := parseOperation(req.Task.Text)
	if !ok {
		return nil, nil
	}
	return s.apply(table, op), nil
}

func singleTable(res []resources.StructuredResource) (resources.StructuredResource, bool) {
	var found []resources.StructuredResource
	for _, r := range res {
		if !r.IsRaw() {
			found = append(found, r)
		}
	}
	if len(found) != 1 {
		return resources.StructuredResource{}, false
	}
	return found[0], true
}

func parseOperation(text string) (tableOp, bool) {
	if m := filterEq.FindStringSubmatch(text); m != nil {
		return tableOp{op: opFilterEq, column: firstGroup(m[1:4]), eq: literal(firstGroup(m[4:7]))}, true
	}
	for _, rule := range aggregateRules {
		if m := rule.pattern.FindStringSubmatch(text); m != nil {
			if column := firstGroup(m[1:4]); column != "" {
				return tableOp{op: rule.op, column: column}, true
			}
		}
	}
	if countRows.MatchString(text) {
		return tableOp{op: opCount}, true
	}
	return tableOp{}, false
}

func firstGroup(groups []string) string {
	for _, g := range groups {
		if g = strings.TrimSpace(g); g != "" {
			return g
		}
	}
	return ""
}

func literal(raw string) any {
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}
	return raw
}

func (s *DeterministicSolver) column(table resources.StructuredResource, name string) int {
	want := fold(name)
	for i, h := range table.Headers {
		if fold(h) == want {
			return i
		}
	}
	return -1
}

func (s *DeterministicSolver) apply(table resources.StructuredResource, op tableOp) *Result {
	if op.op == opCount {
		return &Result{Kind: KindNumber, Value: float64(len(table.Rows))}
	}
	col := s.column(table, op.column)
	if col < 0 {
		return nil
	}
	if op.op == opFilterEq {
		n := 0
		for _, row := range table.Rows {
			if col < len(row) && s.cellEquals(row[col], op.eq) {
				n++
			}
		}
		return &Result{Kind: KindNumber, Value: float64(n)}
	}

	var values []float64
	for _, row := range table.Rows {
		if col >= len(row) {
			continue
		}
		if f, ok := numeric(row[col]); ok {
			values = append(values, f)
		}
	}
	if len(values) == 0 {
		return nil
	}
	var out float64
	switch op.op {
	case opSum, opAvg:
		for _, v := range values {
			out += v
		}
		if op.op == opAvg {
			out /= float64(len(values))
		}
	case opMin:
		out = math.Inf(1)
		for _, v := range values {
			out = math.Min(out, v)
		}
	case opMax:
		out = math.Inf(-1)
		for _, v := range values {
			out = math.Max(out, v)
		}
	}
	return &Result{Kind: KindNumber, Value: out}
}

func (s *DeterministicSolver) cellEquals(cell, want any) bool {
	switch w := want.(type) {
	case float64:
		f, ok := numeric(cell)
		return ok && f == w
	case bool:
		b, ok := cell.(bool)
		return ok && b == w
	case string:
		str, ok := cell.(string)
		return ok && fold(str) == fold(w)
	}
	return false
}

func numeric(cell any) (float64, bool) {
	switch v := cell.(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", ""), 64)
		return f, err == nil && !math.IsInf(f, 0) && !math.IsNaN(f)
	}
	return 0, false
}
