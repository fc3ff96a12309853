package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusErrored   = "errored"
)

// Run is the persisted view of one chain run. Status tracks the run's
// lifecycle; FinalStatus is the chain's terminal status once it completes.
// Timestamps are RFC 3339 strings.
type Run struct {
	ID          string
	StartURL    string
	Email       string
	Status      string
	FinalStatus string
	Steps       int
	Error       string
	DurationMs  int64
	CreatedAt   string
	UpdatedAt   string
	CompletedAt string
}

type StepTiming struct {
	Name      string         `json:"name"`
	ElapsedMs int64          `json:"elapsedMs"`
	Info      map[string]any `json:"info,omitempty"`
}

// StepRecord is a persisted report item. Index is unique within a run.
type StepRecord struct {
	RunID          string
	Index          int
	URL            string
	URLFingerprint string
	Outcome        string
	NextURL        string
	Code           string
	Error          string
	Answer         any
	Correct        *bool
	Retries        int
	Reason         string
	Timings        []StepTiming
	StartedAt      string
	DurationMs     int64
}

// Completion closes a run.
type Completion struct {
	RunID       string
	Status      string
	FinalStatus string
	Error       string
	DurationMs  int64
	CompletedAt string
}

type Store interface {
	CreateRun(ctx context.Context, run Run) error
	CompleteRun(ctx context.Context, completion Completion) error
	AppendStep(ctx context.Context, step StepRecord) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	ListSteps(ctx context.Context, runID string) ([]StepRecord, error)
	Ping(ctx context.Context) error
	Close() error
}
