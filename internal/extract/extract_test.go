package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/22f2001388/llm-analysis-quiz/internal/faults"
	"github.com/22f2001388/llm-analysis-quiz/internal/llm"
	"github.com/22f2001388/llm-analysis-quiz/internal/solve"
)

type stubLLM struct {
	reply string
	err   error
	calls int
}

func (s *stubLLM) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	s.calls++
	return s.reply, s.err
}

func TestParsePrefersSubmitURL(t *testing.T) {
	text := `Q3. Download the file https://quiz.example.com/data/sales.csv.
What is the sum of the "value" column?
Post your answer to https://quiz.example.com/submit (include the url field).`
	html := `<p>Download <a href="/files/extra.json">extra</a> and <a href="https://quiz.example.com/about">about</a></p>`

	e := New(Options{})
	task, err := e.Parse(context.Background(), text, html, "https://quiz.example.com/quiz/3")
	require.NoError(t, err)
	require.Equal(t, "https://quiz.example.com/submit", task.SubmitURL)
	require.Equal(t, []string{
		"https://quiz.example.com/data/sales.csv",
		"https://quiz.example.com/files/extra.json",
	}, task.ResourceURLs)
	require.Equal(t, solve.HintNumber, task.AnswerHint)
	require.Equal(t, "https://quiz.example.com/quiz/3", task.PageURL)
}

func TestParseResolvesRelativePostTarget(t *testing.T) {
	text := "Answer with true/false.\nPOST the answer to /answer?step=2 as JSON."
	e := New(Options{})
	task, err := e.Parse(context.Background(), text, "", "https://quiz.example.com/q/2")
	require.NoError(t, err)
	require.Equal(t, "https://quiz.example.com/answer?step=2", task.SubmitURL)
	require.Empty(t, task.ResourceURLs)
	require.Equal(t, solve.HintBoolean, task.AnswerHint)
}

func TestParseFallsBackToLLM(t *testing.T) {
	stub := &stubLLM{reply: "Sure:\n```json\n{\"taskText\": \"Count rows\", \"submitUrl\": \"/collect\", \"resources\": [\"/d.csv\"]}\n```"}
	e := New(Options{LLM: stub})
	task, err := e.Parse(context.Background(), "Count the rows and hand it in.", "", "https://quiz.example.com/q")
	require.NoError(t, err)
	require.Equal(t, 1, stub.calls)
	require.Equal(t, "https://quiz.example.com/collect", task.SubmitURL)
	require.Equal(t, []string{"https://quiz.example.com/d.csv"}, task.ResourceURLs)
	require.Equal(t, "Count the rows and hand it in.", task.Text)
}

func TestParseWithoutSubmitURL(t *testing.T) {
	tests := []struct {
		name string
		llm  llm.Provider
	}{
		{name: "no llm"},
		{name: "llm error", llm: &stubLLM{err: errors.New("down")}},
		{name: "llm null url", llm: &stubLLM{reply: `{"taskText": "x", "submitUrl": null}`}},
		{name: "llm prose", llm: &stubLLM{reply: "I cannot tell."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(Options{LLM: tt.llm})
			_, err := e.Parse(context.Background(), "Nothing to see here.", "", "https://quiz.example.com/q")
			require.True(t, faults.Is(err, faults.CodeParserNoURL))
		})
	}
}

func TestParseSkipsHeuristicLLMWhenSubmitFound(t *testing.T) {
	stub := &stubLLM{}
	e := New(Options{LLM: stub})
	_, err := e.Parse(context.Background(), "Submit at https://q.example.com/submit/7", "", "https://q.example.com/7")
	require.NoError(t, err)
	require.Zero(t, stub.calls)
}

func TestDetectAnswerHint(t *testing.T) {
	tests := map[string]solve.AnswerHint{
		"Return the chart as a base64 data URI":   solve.HintDataURI,
		"Respond with a JSON object of counts":    solve.HintObject,
		"What is the average temperature?":        solve.HintNumber,
		"Give the secret text shown on the page":  solve.HintString,
		"Which city is it?":                       solve.HintUnknown,
		"Is the value above 10? Answer boolean.": solve.HintBoolean,
	}
	for text, want := range tests {
		require.Equal(t, want, DetectAnswerHint(text), text)
	}
}
