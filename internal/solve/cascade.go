package solve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/22f2001388/llm-analysis-quiz/internal/logging"
)

const DefaultTierTimeout = 25 * time.Second

// Tier is one solving strategy in a cascade.
type Tier struct {
	Name    string
	Solver  Solver
	Timeout time.Duration
}

// Cascade tries the tiers listed for a plan's complexity in order and returns
// the first well-formed result. A failing tier is logged and the next one is
// tried; when every tier fails Solve returns (nil, nil).
type Cascade struct {
	tiers    map[Complexity][]Tier
	fallback Complexity
	logger   *slog.Logger
}

func NewCascade(tiers map[Complexity][]Tier, logger *slog.Logger) *Cascade {
	return &Cascade{tiers: tiers, fallback: ComplexityMedium, logger: logging.OrDefault(logger)}
}

// TiersFor returns the tiers used for c, falling back to the medium list for
// complexities without their own.
func (c *Cascade) TiersFor(complexity Complexity) []Tier {
	if tiers, ok := c.tiers[complexity]; ok && len(tiers) > 0 {
		return tiers
	}
	return c.tiers[c.fallback]
}

func (c *Cascade) Solve(ctx context.Context, req Request) (*Result, error) {
	for i, tier := range c.TiersFor(req.Plan.Complexity) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log := c.logger.With("tier", tier.Name, "position", i, "complexity", req.Plan.Complexity)
		start := time.Now()
		result, err := c.attempt(ctx, tier, req)
		elapsed := time.Since(start).Milliseconds()
		switch {
		case err != nil:
			log.Warn("tier failed", "elapsed_ms", elapsed, "error", err)
		case !result.Valid():
			log.Debug("tier produced no answer", "elapsed_ms", elapsed)
		default:
			log.Info("tier answered", "elapsed_ms", elapsed, "kind", result.Kind)
			return result, nil
		}
	}
	return nil, nil
}

// attempt stops waiting for a tier once its timeout fires, whether or not
// the solver honours the context.
func (c *Cascade) attempt(ctx context.Context, tier Tier, req Request) (*Result, error) {
	timeout := tier.Timeout
	if timeout <= 0 {
		timeout = DefaultTierTimeout
	}
	tierCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("solver panicked: %v", r)}
			}
		}()
		result, err := tier.Solver.Solve(tierCtx, req)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-tierCtx.Done():
		return nil, fmt.Errorf("tier %s: %w", tier.Name, tierCtx.Err())
	}
}
