// Package extract derives the task text, submission URL and resource URLs
// from a rendered page.
package extract

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/22f2001388/llm-analysis-quiz/internal/faults"
	"github.com/22f2001388/llm-analysis-quiz/internal/htmltext"
	"github.com/22f2001388/llm-analysis-quiz/internal/llm"
	"github.com/22f2001388/llm-analysis-quiz/internal/logging"
	"github.com/22f2001388/llm-analysis-quiz/internal/solve"
)

const maxPromptText = 8000

var (
	absoluteURL  = regexp.MustCompile(`(?i)https?://[^\s"'` + "`" + `<>)]{4,}`)
	relativePath = regexp.MustCompile(`(?:^|[\s(])(/[A-Za-z0-9_\-./?=&%~+]{2,})`)
	postTarget   = regexp.MustCompile(`(?i)\b(?:post|send|submit)\b[^\n]{0,120}?(https?://[^\s"'<>)]+|/[A-Za-z0-9_\-./?=&%~+]{2,})`)
	trailingJunk = regexp.MustCompile(`[),.;\]]+$`)
)

var dataExtensions = map[string]bool{
	".csv": true, ".tsv": true, ".json": true, ".pdf": true, ".txt": true,
	".xlsx": true, ".xls": true, ".xml": true, ".tab": true,
}

type Options struct {
	// LLM is consulted only when the heuristics find no submission URL.
	LLM    llm.Provider
	Logger *slog.Logger
}

type Extractor struct {
	llm    llm.Provider
	logger *slog.Logger
}

func New(opts Options) *Extractor {
	return &Extractor{llm: opts.LLM, logger: logging.OrDefault(opts.Logger)}
}

// Parse extracts a Task from page text and markup. It fails with
// PARSER_NO_URL when no submission URL can be found.
func (e *Extractor) Parse(ctx context.Context, text, html, pageURL string) (solve.Task, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return solve.Task{}, faults.Wrap(faults.CodeParserNoURL, "parse page url", err)
	}
	task := solve.Task{
		Text:       strings.TrimSpace(text),
		PageURL:    pageURL,
		AnswerHint: DetectAnswerHint(text),
	}

	candidates := collectURLs(base, text, html)
	task.SubmitURL = pickSubmitURL(base, text, candidates)
	task.ResourceURLs = pickResources(candidates, task.SubmitURL, pageURL)

	if task.SubmitURL == "" && e.llm != nil {
		if parsed, ok := e.parseWithLLM(ctx, text, pageURL); ok {
			if task.Text == "" {
				task.Text = parsed.Text
			}
			task.SubmitURL = resolve(base, parsed.SubmitURL)
			for _, raw := range parsed.ResourceURLs {
				if u := resolve(base, raw); u != "" && !contains(task.ResourceURLs, u) {
					task.ResourceURLs = append(task.ResourceURLs, u)
				}
			}
		}
	}
	if task.SubmitURL == "" {
		return solve.Task{}, faults.New(faults.CodeParserNoURL, "no submission URL found in task text")
	}
	return task, nil
}

func collectURLs(base *url.URL, text, html string) []string {
	var raw []string
	raw = append(raw, absoluteURL.FindAllString(text, -1)...)
	for _, m := range relativePath.FindAllStringSubmatch(text, -1) {
		raw = append(raw, m[1])
	}
	if html != "" {
		raw = append(raw, htmltext.Links(html)...)
		raw = append(raw, absoluteURL.FindAllString(htmltext.Text(html), -1)...)
	}
	var out []string
	for _, r := range raw {
		if u := resolve(base, r); u != "" && !contains(out, u) {
			out = append(out, u)
		}
	}
	return out
}

func pickSubmitURL(base *url.URL, text string, candidates []string) string {
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c), "submit") {
			return c
		}
	}
	if m := postTarget.FindStringSubmatch(text); m != nil {
		return resolve(base, m[1])
	}
	return ""
}

func pickResources(candidates []string, submitURL, pageURL string) []string {
	out := []string{}
	for _, c := range candidates {
		if c == submitURL || c == pageURL || strings.Contains(strings.ToLower(c), "submit") {
			continue
		}
		if isDataURL(c) {
			out = append(out, c)
		}
	}
	return out
}

func isDataURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	if dataExtensions[path.Ext(p)] {
		return true
	}
	return strings.Contains(p, "/data") || strings.Contains(p, "/files/") || strings.Contains(p, "/download")
}

// resolve cleans a candidate and makes it absolute against base. Non-http
// results are dropped.
func resolve(base *url.URL, raw string) string {
	cleaned := trailingJunk.ReplaceAllString(strings.TrimSpace(raw), "")
	if cleaned == "" {
		return ""
	}
	ref, err := url.Parse(cleaned)
	if err != nil {
		return ""
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	if abs.Scheme != "http" && abs.Scheme != "https" || abs.Host == "" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

var hintRules = []struct {
	hint    solve.AnswerHint
	pattern *regexp.Regexp
}{
	{solve.HintDataURI, regexp.MustCompile(`\bbase64\b|data:image/`)},
	{solve.HintBoolean, regexp.MustCompile(`\bboolean\b|\btrue/false\b`)},
	{solve.HintObject, regexp.MustCompile(`\bjson\b|\bobject\b`)},
	{solve.HintNumber, regexp.MustCompile(`\bnumber\b|\bsum\b|\bcount\b|\baverage\b|\btotal\b`)},
	{solve.HintString, regexp.MustCompile(`\bstring\b|\btext\b`)},
}

// DetectAnswerHint guesses the expected answer shape from the task wording.
func DetectAnswerHint(text string) solve.AnswerHint {
	lower := strings.ToLower(text)
	for _, rule := range hintRules {
		if rule.pattern.MatchString(lower) {
			return rule.hint
		}
	}
	return solve.HintUnknown
}

type llmParse struct {
	TaskText  string   `json:"taskText"`
	SubmitURL *string  `json:"submitUrl"`
	Resources []string `json:"resources"`
}

func (e *Extractor) parseWithLLM(ctx context.Context, text, pageURL string) (solve.Task, bool) {
	if len(text) > maxPromptText {
		text = text[:maxPromptText]
	}
	prompt := `Extract quiz information from this page content:

"""
` + text + `
"""

Page URL: ` + pageURL + `

Return JSON with:
- taskText: the task, without numbering or extra whitespace
- submitUrl: the full URL where answers are submitted, or null
- resources: URLs of data files (csv, json, tsv, pdf) mentioned in the text

Make relative URLs absolute using the page URL. Respond with JSON only.`

	reply, err := e.llm.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		e.logger.Warn("llm parse failed", "error", err)
		return solve.Task{}, false
	}
	raw, ok := llm.JSONObject(reply)
	if !ok {
		e.logger.Warn("llm parse returned no json")
		return solve.Task{}, false
	}
	var parsed llmParse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || parsed.SubmitURL == nil || *parsed.SubmitURL == "" {
		return solve.Task{}, false
	}
	return solve.Task{Text: strings.TrimSpace(parsed.TaskText), SubmitURL: *parsed.SubmitURL, ResourceURLs: parsed.Resources}, true
}
