package chain

import (
	"context"
)

// Recorder observes a run as it progresses. Implementations must not block
// the run for long and handle their own errors.
type Recorder interface {
	RunStarted(ctx context.Context, report *Report)
	StepRecorded(ctx context.Context, runID string, item ReportItem)
	RunCompleted(ctx context.Context, report *Report)
}

type NopRecorder struct{}

func (NopRecorder) RunStarted(context.Context, *Report)               {}
func (NopRecorder) StepRecorded(context.Context, string, ReportItem) {}
func (NopRecorder) RunCompleted(context.Context, *Report)             {}

// Recorders fans every notification out to each recorder in order.
type Recorders []Recorder

func (rs Recorders) RunStarted(ctx context.Context, report *Report) {
	for _, r := range rs {
		r.RunStarted(ctx, report)
	}
}

func (rs Recorders) StepRecorded(ctx context.Context, runID string, item ReportItem) {
	for _, r := range rs {
		r.StepRecorded(ctx, runID, item)
	}
}

func (rs Recorders) RunCompleted(ctx context.Context, report *Report) {
	for _, r := range rs {
		r.RunCompleted(ctx, report)
	}
}
