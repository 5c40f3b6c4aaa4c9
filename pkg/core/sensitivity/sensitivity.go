// Package sensitivity evaluates the valuation kernel over a Cartesian grid
// of uniform growth/margin path shifts. The engine is read-only with
// respect to the record it is given: every cell works on its own clone.
package sensitivity

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"intrinsic_valuation/pkg/core/kernel"
)

// Result is the 2-D grid of per-share values: one row per margin delta,
// one column per growth delta, plus the unperturbed base value.
type Result struct {
	// Grid has shape [len(MarginAxis)][len(GrowthAxis)].
	Grid              [][]float64 `json:"grid"`
	GrowthAxis        []float64   `json:"growth_axis"`
	MarginAxis        []float64   `json:"margin_axis"`
	BaseValuePerShare float64     `json:"base_value_per_share"`
}

// Compute shifts the entire growth and margin paths by each (dg, dm) pair
// and re-runs the kernel. Axes are symmetric around zero and evenly spaced;
// with odd step counts the zero-delta cell reproduces the base case.
// Rows are evaluated in parallel; placement is by index, so the result is
// deterministic regardless of completion order.
func Compute(rec *kernel.DriverRecord, growthDelta, marginDelta float64, growthSteps, marginSteps int) (*Result, error) {
	if growthSteps < 1 || marginSteps < 1 {
		return nil, fmt.Errorf("sensitivity steps must be >= 1, got (%d, %d)", growthSteps, marginSteps)
	}
	if growthDelta < 0 || marginDelta < 0 {
		return nil, fmt.Errorf("sensitivity deltas must be non-negative, got (%f, %f)", growthDelta, marginDelta)
	}

	base, err := kernel.Value(rec)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Grid:              make([][]float64, marginSteps),
		GrowthAxis:        linspace(-growthDelta, growthDelta, growthSteps),
		MarginAxis:        linspace(-marginDelta, marginDelta, marginSteps),
		BaseValuePerShare: base.ValuePerShare,
	}

	var g errgroup.Group
	for i := range res.MarginAxis {
		row := make([]float64, growthSteps)
		res.Grid[i] = row
		dm := res.MarginAxis[i]
		g.Go(func() error {
			for j, dg := range res.GrowthAxis {
				v, err := kernel.Value(perturb(rec, dg, dm))
				if err != nil {
					return fmt.Errorf("grid cell (dm=%.4f, dg=%.4f): %w", dm, dg, err)
				}
				row[j] = v.ValuePerShare
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// perturb clones the record and shifts its paths uniformly, clamped to
// economically valid ranges so the kernel's own validation cannot trip on
// a grid corner.
func perturb(rec *kernel.DriverRecord, dg, dm float64) *kernel.DriverRecord {
	c := rec.Clone()
	for t := range c.SalesGrowth {
		c.SalesGrowth[t] = clamp(c.SalesGrowth[t]+dg, -0.99, 10.0)
	}
	for t := range c.OperMargin {
		c.OperMargin[t] = clamp(c.OperMargin[t]+dm, 0.0, 1.0)
	}
	return c
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// linspace mirrors numpy semantics: n points from lo to hi inclusive.
func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	// Pin the endpoint and the midpoint of a symmetric axis exactly so the
	// base case lands on an exact cell.
	out[n-1] = hi
	if n%2 == 1 && lo == -hi {
		out[n/2] = 0
	}
	return out
}
