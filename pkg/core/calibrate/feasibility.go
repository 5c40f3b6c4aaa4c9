package calibrate

import "intrinsic_valuation/pkg/core/kernel"

// EnsureTerminalFeasibility returns a record whose cost-of-capital path
// supports a finite terminal value. When the terminal WACC sits below
// stable growth plus a 100 bps cushion, the path is raised by at most
// 200 bps per call, progressively toward the terminal year, with every
// element clamped to [2%, 20%]. Records that are already feasible come
// back as an untouched clone. Deterministic, no schema changes.
func EnsureTerminalFeasibility(rec *kernel.DriverRecord) *kernel.DriverRecord {
	c := rec.Clone()
	targetMin := c.StableGrowth + 0.01
	if c.TerminalWACC >= targetMin {
		return c
	}

	inc := targetMin - c.TerminalWACC
	if inc > 0.02 {
		inc = 0.02
	}
	n := float64(len(c.WACC))
	for t := range c.WACC {
		factor := float64(t+1) / n
		c.WACC[t] = clamp(c.WACC[t]+inc*factor, 0.02, 0.20)
	}
	c.TerminalWACC = clamp(c.TerminalWACC+inc, 0.02, 0.20)
	return c
}
