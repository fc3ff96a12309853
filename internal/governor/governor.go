package governor

import "time"

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// Governor tracks the wall-clock budget of a single chain run. Remaining time is
// recomputed on every call from the start instant; time.Now carries a monotonic
// reading so wall-clock adjustments do not move it.
type Governor struct {
	budget time.Duration
	start  time.Time
	clock  Clock
}

func New(budget time.Duration, clock Clock) *Governor {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Governor{budget: budget, start: clock.Now(), clock: clock}
}

func (g *Governor) Budget() time.Duration {
	return g.budget
}

func (g *Governor) Start() time.Time {
	return g.start
}

func (g *Governor) Elapsed() time.Duration {
	elapsed := g.clock.Now().Sub(g.start)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

func (g *Governor) Remaining() time.Duration {
	remaining := g.budget - g.Elapsed()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CanStart reports whether a step needing at least minStart may begin.
func (g *Governor) CanStart(minStart time.Duration) bool {
	remaining := g.Remaining()
	if remaining <= 0 {
		return false
	}
	return remaining >= minStart
}

func (g *Governor) Deadline() time.Time {
	return g.start.Add(g.budget)
}
