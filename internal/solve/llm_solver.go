package solve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/22f2001388/llm-analysis-quiz/internal/faults"
	"github.com/22f2001388/llm-analysis-quiz/internal/llm"
	"github.com/22f2001388/llm-analysis-quiz/internal/logging"
)

const (
	defaultPromptTokens = 6000
	summaryRows         = 200
)

const solverSystemPrompt = `You solve data analysis quiz tasks. Work out the answer from the task and the data provided.
Reply with a single JSON object of the form {"answer": <value>} and nothing else.
The value must be a number, a string, a boolean, or a JSON object/array, matching what the task asks for.`

type LLMSolverOptions struct {
	Name            string
	MaxPromptTokens int
	Tokenizer       *Tokenizer
	Logger          *slog.Logger
}

// LLMSolver asks a model for the answer and decodes {"answer": ...} from the
// reply.
type LLMSolver struct {
	provider        llm.Provider
	name            string
	maxPromptTokens int
	tokens          *Tokenizer
	logger          *slog.Logger
}

func NewLLMSolver(provider llm.Provider, opts LLMSolverOptions) *LLMSolver {
	if opts.MaxPromptTokens <= 0 {
		opts.MaxPromptTokens = defaultPromptTokens
	}
	return &LLMSolver{
		provider:        provider,
		name:            opts.Name,
		maxPromptTokens: opts.MaxPromptTokens,
		tokens:          opts.Tokenizer,
		logger:          logging.OrDefault(opts.Logger),
	}
}

func (s *LLMSolver) Solve(ctx context.Context, req Request) (*Result, error) {
	reply, err := s.provider.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: solverSystemPrompt},
		{Role: llm.RoleUser, Content: s.prompt(req)},
	})
	if err != nil {
		return nil, err
	}
	return ParseAnswer(reply)
}

func (s *LLMSolver) prompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task (from %s):\n%s\n\n", req.Task.PageURL, req.Task.Text)
	if req.Task.AnswerHint != HintUnknown {
		fmt.Fprintf(&b, "Expected answer type: %s\n", req.Task.AnswerHint)
	}
	if req.Plan.Strategy != "" {
		fmt.Fprintf(&b, "Suggested approach: %s\n", req.Plan.Strategy)
		for i, step := range req.Plan.Steps {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, step)
		}
	}
	if len(req.Feedback) > 0 {
		b.WriteString("\nThese answers were already rejected, do not repeat them:\n")
		for _, f := range req.Feedback {
			raw, _ := json.Marshal(f.Answer)
			if f.Reason != "" {
				fmt.Fprintf(&b, "- %s (%s)\n", raw, f.Reason)
			} else {
				fmt.Fprintf(&b, "- %s\n", raw)
			}
		}
	}

	head := b.String()
	var data strings.Builder
	for _, r := range req.Resources {
		data.WriteString("\n")
		data.WriteString(r.Summary(summaryRows))
	}
	if data.Len() == 0 {
		return head
	}
	budget := s.maxPromptTokens - s.tokens.Count(head)
	dump := s.tokens.Truncate(data.String(), budget)
	if len(dump) < data.Len() {
		s.logger.Debug("resource data truncated", "tier", s.name, "kept_bytes", len(dump), "total_bytes", data.Len())
	}
	return head + "\nData:" + dump
}

// ParseAnswer decodes the answer field of the first JSON object in reply.
func ParseAnswer(reply string) (*Result, error) {
	raw, ok := llm.JSONObject(reply)
	if !ok {
		return nil, faults.New(faults.CodeLLMInvalid, "reply contains no JSON object")
	}
	decoder := json.NewDecoder(bytes.NewReader([]byte(raw)))
	decoder.UseNumber()
	var body map[string]any
	if err := decoder.Decode(&body); err != nil {
		return nil, faults.Wrap(faults.CodeLLMInvalid, "decode reply", err)
	}
	value, ok := body["answer"]
	if !ok {
		return nil, faults.New(faults.CodeLLMInvalid, "reply has no answer field")
	}
	result, ok := FromValue(value)
	if !ok {
		return nil, faults.Newf(faults.CodeLLMInvalid, "unusable answer %v", value)
	}
	return result, nil
}
