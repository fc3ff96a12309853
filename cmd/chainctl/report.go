package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"

	"github.com/22f2001388/llm-analysis-quiz/internal/chain"
)

// writeMarkdownReport renders a finished chain report.
func writeMarkdownReport(w io.Writer, report *chain.Report) error {
	md := markdown.NewMarkdown(w)

	md.H1("Quiz Chain Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run", "`" + report.RunID + "`"},
			{"Start URL", report.StartURL},
			{"Status", string(report.Status)},
			{"Steps", strconv.Itoa(len(report.Items))},
			{"Submitted", strconv.Itoa(report.Submitted())},
			{"Total", formatMs(report.TotalMs)},
		},
	})
	md.PlainText("")

	switch report.Status {
	case chain.StatusEnded:
		md.Tip("The chain reached its final question.")
	case chain.StatusTimedOut:
		md.Warningf("The time budget ran out after %d step(s).", len(report.Items))
	default:
		md.Cautionf("The chain stopped early: %s.", report.Status)
	}
	md.PlainText("")

	md.H2("Steps")
	md.PlainText("")
	if len(report.Items) == 0 {
		md.PlainText("No steps were attempted.")
		md.PlainText("")
	} else {
		rows := make([][]string, len(report.Items))
		for i, item := range report.Items {
			rows[i] = []string{
				strconv.Itoa(item.Index),
				truncate(item.URL, 60),
				string(item.Outcome),
				truncate(formatAnswer(item.Answer), 40),
				formatCorrect(item.Correct),
				strconv.Itoa(item.Retries),
				formatMs(item.DurationMs),
			}
		}
		md.Table(markdown.TableSet{
			Header: []string{"#", "URL", "Outcome", "Answer", "Correct", "Retries", "Duration"},
			Rows:   rows,
		})
		md.PlainText("")
	}

	var problems []string
	for _, item := range report.Items {
		switch {
		case item.Error != "":
			problems = append(problems, fmt.Sprintf("step %d: %s %s", item.Index, item.Code, item.Error))
		case item.Reason != "":
			problems = append(problems, fmt.Sprintf("step %d: %s", item.Index, item.Reason))
		}
	}
	if len(problems) > 0 {
		md.H2("Notes")
		md.PlainText("")
		md.BulletList(problems...)
		md.PlainText("")
	}

	return md.Build()
}

func formatMs(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}

func formatAnswer(answer any) string {
	if answer == nil {
		return "-"
	}
	return fmt.Sprint(answer)
}

func formatCorrect(correct *bool) string {
	switch {
	case correct == nil:
		return "-"
	case *correct:
		return "yes"
	default:
		return "no"
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
