package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/22f2001388/llm-analysis-quiz/internal/faults"
)

type Outcome string

const (
	OutcomeSubmitted Outcome = "submitted"
	OutcomeEnded     Outcome = "ended"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeFailed    Outcome = "failed"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusRunning           Status = "running"
	StatusEnded             Status = "ended"
	StatusTimedOut          Status = "timed_out"
	StatusFailed            Status = "failed"
	StatusCycleDetected     Status = "cycle_detected"
	StatusStepLimitExceeded Status = "step_limit_exceeded"
)

// SubStep times one phase of a step (extract, parse, resources, plan, solve,
// submit).
type SubStep struct {
	Name      string         `json:"name"`
	ElapsedMs int64          `json:"elapsedMs"`
	Info      map[string]any `json:"info,omitempty"`
}

// ReportItem records one attempted step. Items are appended once, in order,
// and not modified afterwards.
type ReportItem struct {
	Index          int         `json:"index"`
	URL            string      `json:"url"`
	URLFingerprint string      `json:"urlFingerprint"`
	Timings        []SubStep   `json:"timings"`
	Outcome        Outcome     `json:"outcome"`
	NextURL        string      `json:"nextUrl,omitempty"`
	Answer         any         `json:"answer,omitempty"`
	Correct        *bool       `json:"correct,omitempty"`
	Retries        int         `json:"retries"`
	Reason         string      `json:"reason,omitempty"`
	Error          string      `json:"error,omitempty"`
	Code           faults.Code `json:"code,omitempty"`
	StartedAt      time.Time   `json:"startedAt"`
	DurationMs     int64       `json:"durationMs"`
}

type Report struct {
	RunID      string       `json:"runId"`
	StartURL   string       `json:"startUrl"`
	Email      string       `json:"email,omitempty"`
	Status     Status       `json:"status"`
	Items      []ReportItem `json:"items"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	TotalMs    int64        `json:"totalMs"`
}

// Submitted counts the items that reached the submission endpoint.
func (r *Report) Submitted() int {
	n := 0
	for _, item := range r.Items {
		if item.Outcome == OutcomeSubmitted || item.Outcome == OutcomeEnded {
			n++
		}
	}
	return n
}

// Last returns the final item, if any.
func (r *Report) Last() (ReportItem, bool) {
	if r == nil || len(r.Items) == 0 {
		return ReportItem{}, false
	}
	return r.Items[len(r.Items)-1], true
}

// Fingerprint is the first 12 hex digits of the URL's SHA-256, used in logs
// in place of the URL.
func Fingerprint(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:12]
}
