package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/22f2001388/llm-analysis-quiz/internal/chain"
)

const DefaultListLimit = 50

// StepFromItem converts a chain report item into its persisted form.
func StepFromItem(runID string, item chain.ReportItem) StepRecord {
	timings := make([]StepTiming, 0, len(item.Timings))
	for _, sub := range item.Timings {
		timings = append(timings, StepTiming{Name: sub.Name, ElapsedMs: sub.ElapsedMs, Info: sub.Info})
	}
	return StepRecord{
		RunID:          runID,
		Index:          item.Index,
		URL:            item.URL,
		URLFingerprint: item.URLFingerprint,
		Outcome:        string(item.Outcome),
		NextURL:        item.NextURL,
		Code:           string(item.Code),
		Error:          item.Error,
		Answer:         item.Answer,
		Correct:        item.Correct,
		Retries:        item.Retries,
		Reason:         item.Reason,
		Timings:        timings,
		StartedAt:      FormatTime(item.StartedAt),
		DurationMs:     item.DurationMs,
	}
}

// RunFromReport builds the initial run row for a report that has just started.
func RunFromReport(report *chain.Report, email string) Run {
	created := FormatTime(report.StartedAt)
	return Run{
		ID:        report.RunID,
		StartURL:  report.StartURL,
		Email:     email,
		Status:    RunStatusRunning,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// CompletionFromReport closes a run from its final report.
func CompletionFromReport(report *chain.Report) Completion {
	completion := Completion{
		RunID:       report.RunID,
		Status:      RunStatusCompleted,
		FinalStatus: string(report.Status),
		DurationMs:  report.TotalMs,
		CompletedAt: FormatTime(report.FinishedAt),
	}
	if last, ok := report.Last(); ok && last.Error != "" {
		completion.Error = last.Error
	}
	return completion
}

func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime returns nil for empty or malformed values so it can be bound as
// SQL NULL.
func ParseTime(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil
	}
	return parsed.UTC()
}

func NowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// EncodeAnswer returns the JSON encoding of an answer, or nil when there is
// none.
func EncodeAnswer(answer any) ([]byte, error) {
	if answer == nil {
		return nil, nil
	}
	return json.Marshal(answer)
}

func DecodeAnswer(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil
	}
	n, ok := value.(json.Number)
	if !ok {
		var plain any
		if err := json.Unmarshal(raw, &plain); err != nil {
			return nil
		}
		return plain
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return nil
}

func EncodeTimings(timings []StepTiming) ([]byte, error) {
	if timings == nil {
		timings = []StepTiming{}
	}
	return json.Marshal(timings)
}

func DecodeTimings(raw []byte) []StepTiming {
	timings := []StepTiming{}
	if len(raw) == 0 {
		return timings
	}
	if err := json.Unmarshal(raw, &timings); err != nil {
		return []StepTiming{}
	}
	return timings
}

func ClampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return DefaultListLimit
	}
	return limit
}
