// Package calibrate reconciles a driver record with an external target
// price. It searches bounded uniform shifts to the growth, margin, and
// sales-to-capital paths that minimize the squared deviation between the
// kernel's value per share and the target. The search is a discretized
// grid (or a fixed-pass coordinate-descent sweep for large candidate
// spaces), never gradient-based: the kernel's reinvestment floor makes the
// objective non-differentiable.
package calibrate

import (
	"errors"
	"fmt"
	"math"

	"intrinsic_valuation/pkg/core/kernel"
)

// ErrInvalidBounds indicates an internally inconsistent bound configuration
// (min above max, non-positive step count, negative weight).
var ErrInvalidBounds = errors.New("invalid bounds")

// Bound describes the search box for one driver: an absolute shift range,
// the number of discretized candidates inside it, and a weight that biases
// the deterministic tie-break toward leaving the driver at baseline.
type Bound struct {
	Min    float64 `json:"min" yaml:"min"`
	Max    float64 `json:"max" yaml:"max"`
	Steps  int     `json:"steps" yaml:"steps"`
	Weight float64 `json:"weight,omitempty" yaml:"weight,omitempty"` // 0 means 1
}

// Config carries the solver's bounds and loop limits. Defaults are explicit
// here, not module state.
type Config struct {
	Growth         Bound `json:"growth" yaml:"growth"`
	Margin         Bound `json:"margin" yaml:"margin"`
	SalesToCapital Bound `json:"sales_to_capital" yaml:"sales_to_capital"`

	// MaxGridEvals caps the exhaustive grid; larger spaces fall back to
	// coordinate descent with a fixed pass count.
	MaxGridEvals int `json:"max_grid_evals,omitempty" yaml:"max_grid_evals,omitempty"`
	Passes       int `json:"passes,omitempty" yaml:"passes,omitempty"`

	// MinImprovement is the relative residual reduction below which the
	// baseline is returned unchanged. Tunable, not inferred.
	MinImprovement float64 `json:"min_improvement,omitempty" yaml:"min_improvement,omitempty"`
}

// DefaultConfig bounds each driver shift to a small absolute band around
// the baseline path (growth/margin +/- 5 pts absolute, sigma +/- 0.5).
func DefaultConfig() Config {
	return Config{
		Growth:         Bound{Min: -0.05, Max: 0.05, Steps: 11},
		Margin:         Bound{Min: -0.05, Max: 0.05, Steps: 11},
		SalesToCapital: Bound{Min: -0.5, Max: 0.5, Steps: 11},
		MaxGridEvals:   4096,
		Passes:         3,
		MinImprovement: 1e-9,
	}
}

// Result is the solver's output: a new driver record (the caller's record
// is never touched), the chosen shifts, and convergence bookkeeping.
type Result struct {
	Record *kernel.DriverRecord `json:"record"`

	GrowthShift         float64 `json:"growth_shift"`
	MarginShift         float64 `json:"margin_shift"`
	SalesToCapitalShift float64 `json:"sales_to_capital_shift"`

	// Evaluations is the number of kernel invocations spent.
	Evaluations int `json:"evaluations"`
	// Residual is value_per_share minus target at the chosen point.
	Residual     float64 `json:"residual"`
	BaseResidual float64 `json:"base_residual"`
	// BoundsHit names drivers whose chosen shift landed on a bound edge.
	BoundsHit []string `json:"bounds_hit,omitempty"`
	// Improved reports whether the chosen point beat the baseline by more
	// than Config.MinImprovement; when false, Record is the baseline.
	Improved bool `json:"improved"`
}

type shifts struct {
	growth, margin, sigma float64
}

// Calibrate searches the bounded shift space for the combination whose
// valuation lands closest to target. Deterministic: stable candidate
// order, ties broken by smallest weighted total absolute adjustment, so
// identical inputs always produce identical results.
func Calibrate(rec *kernel.DriverRecord, target float64, cfg Config) (*Result, error) {
	cfg = withDefaults(cfg)
	if err := validateBounds(cfg); err != nil {
		return nil, err
	}

	base, err := kernel.Value(rec)
	if err != nil {
		return nil, err
	}
	baseObj := sq(base.ValuePerShare - target)

	s := &solver{rec: rec, target: target, cfg: cfg}
	gCands := candidates(cfg.Growth)
	mCands := candidates(cfg.Margin)
	sCands := candidates(cfg.SalesToCapital)

	var best shifts
	var bestObj float64
	if len(gCands)*len(mCands)*len(sCands) <= cfg.MaxGridEvals {
		best, bestObj = s.exhaustive(gCands, mCands, sCands)
	} else {
		best, bestObj = s.coordinateDescent(gCands, mCands, sCands)
	}

	res := &Result{
		Evaluations:  s.evals,
		BaseResidual: base.ValuePerShare - target,
	}

	// Keep the baseline unless the best candidate is a material improvement.
	// Not an error: the residual is still reported.
	if !(bestObj < baseObj && baseObj-bestObj > cfg.MinImprovement*baseObj) {
		res.Record = rec.Clone()
		res.Residual = res.BaseResidual
		return res, nil
	}

	res.Improved = true
	res.GrowthShift = best.growth
	res.MarginShift = best.margin
	res.SalesToCapitalShift = best.sigma
	res.Record = apply(rec, best)

	v, err := kernel.Value(res.Record)
	if err != nil {
		// The winning cell was evaluated successfully during the search;
		// a failure here means the record was mutated concurrently.
		return nil, fmt.Errorf("calibrated record failed re-valuation: %w", err)
	}
	res.Residual = v.ValuePerShare - target
	res.BoundsHit = boundsHit(best, cfg)
	return res, nil
}

type solver struct {
	rec    *kernel.DriverRecord
	target float64
	cfg    Config
	evals  int
}

// objective evaluates one shift combination. Cells whose record fails
// kernel validation (e.g. a sigma shift crossing zero) are unreachable:
// they score +Inf and can never be selected.
func (s *solver) objective(sh shifts) float64 {
	s.evals++
	v, err := kernel.Value(apply(s.rec, sh))
	if err != nil {
		return math.Inf(1)
	}
	return sq(v.ValuePerShare - s.target)
}

func (s *solver) exhaustive(gCands, mCands, sCands []float64) (shifts, float64) {
	best := shifts{}
	bestObj := math.Inf(1)
	bestAdj := math.Inf(1)
	for _, dg := range gCands {
		for _, dm := range mCands {
			for _, ds := range sCands {
				sh := shifts{dg, dm, ds}
				obj := s.objective(sh)
				adj := s.adjustment(sh)
				if better(obj, adj, bestObj, bestAdj) {
					best, bestObj, bestAdj = sh, obj, adj
				}
			}
		}
	}
	return best, bestObj
}

// coordinateDescent optimizes one driver at a time holding the others at
// their current shifts, in a fixed driver order, for a fixed number of
// passes. Termination is structural, not convergence-detected.
func (s *solver) coordinateDescent(gCands, mCands, sCands []float64) (shifts, float64) {
	cur := shifts{}
	curObj := s.objective(cur)

	for pass := 0; pass < s.cfg.Passes; pass++ {
		for driver := 0; driver < 3; driver++ {
			var cands []float64
			switch driver {
			case 0:
				cands = gCands
			case 1:
				cands = mCands
			case 2:
				cands = sCands
			}
			bestObj, bestAdj := curObj, s.adjustment(cur)
			bestSh := cur
			for _, c := range cands {
				sh := cur
				switch driver {
				case 0:
					sh.growth = c
				case 1:
					sh.margin = c
				case 2:
					sh.sigma = c
				}
				obj := s.objective(sh)
				adj := s.adjustment(sh)
				if better(obj, adj, bestObj, bestAdj) {
					bestSh, bestObj, bestAdj = sh, obj, adj
				}
			}
			cur, curObj = bestSh, bestObj
		}
	}
	return cur, curObj
}

// adjustment is the tie-break metric: weighted total absolute shift.
// Smaller means closer to the unperturbed baseline.
func (s *solver) adjustment(sh shifts) float64 {
	return weight(s.cfg.Growth)*math.Abs(sh.growth) +
		weight(s.cfg.Margin)*math.Abs(sh.margin) +
		weight(s.cfg.SalesToCapital)*math.Abs(sh.sigma)
}

// better prefers the lower objective; at a (near-exact) tie it prefers the
// smaller adjustment, and keeps the incumbent on a full tie so the stable
// candidate order decides.
func better(obj, adj, bestObj, bestAdj float64) bool {
	const tieEps = 1e-12
	if obj < bestObj-tieEps*math.Max(1, bestObj) {
		return true
	}
	if math.Abs(obj-bestObj) <= tieEps*math.Max(1, bestObj) && adj < bestAdj {
		return true
	}
	return false
}

// apply produces the shifted record. Growth and margin are clamped to the
// same economically valid ranges the sensitivity engine uses; sigma is
// shifted unclamped and left to kernel validation.
func apply(rec *kernel.DriverRecord, sh shifts) *kernel.DriverRecord {
	c := rec.Clone()
	for t := range c.SalesGrowth {
		c.SalesGrowth[t] = clamp(c.SalesGrowth[t]+sh.growth, -0.99, 10.0)
	}
	for t := range c.OperMargin {
		c.OperMargin[t] = clamp(c.OperMargin[t]+sh.margin, 0.0, 1.0)
	}
	for t := range c.SalesToCapital {
		c.SalesToCapital[t] += sh.sigma
	}
	return c
}

func boundsHit(sh shifts, cfg Config) []string {
	var hit []string
	check := func(name string, v float64, b Bound) {
		if b.Min == b.Max {
			return
		}
		if v == b.Min || v == b.Max {
			hit = append(hit, name)
		}
	}
	check("growth", sh.growth, cfg.Growth)
	check("margin", sh.margin, cfg.Margin)
	check("sales_to_capital", sh.sigma, cfg.SalesToCapital)
	return hit
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxGridEvals == 0 {
		cfg.MaxGridEvals = def.MaxGridEvals
	}
	if cfg.Passes == 0 {
		cfg.Passes = def.Passes
	}
	if cfg.MinImprovement == 0 {
		cfg.MinImprovement = def.MinImprovement
	}
	return cfg
}

func validateBounds(cfg Config) error {
	bounds := []struct {
		name string
		b    Bound
	}{
		{"growth", cfg.Growth},
		{"margin", cfg.Margin},
		{"sales_to_capital", cfg.SalesToCapital},
	}
	for _, e := range bounds {
		if e.b.Min > e.b.Max {
			return fmt.Errorf("%w: %s min %f > max %f", ErrInvalidBounds, e.name, e.b.Min, e.b.Max)
		}
		if e.b.Steps < 1 {
			return fmt.Errorf("%w: %s steps %d < 1", ErrInvalidBounds, e.name, e.b.Steps)
		}
		if e.b.Weight < 0 {
			return fmt.Errorf("%w: %s weight %f < 0", ErrInvalidBounds, e.name, e.b.Weight)
		}
	}
	if cfg.Passes < 1 {
		return fmt.Errorf("%w: passes %d < 1", ErrInvalidBounds, cfg.Passes)
	}
	if cfg.MaxGridEvals < 1 {
		return fmt.Errorf("%w: max_grid_evals %d < 1", ErrInvalidBounds, cfg.MaxGridEvals)
	}
	return nil
}

// candidates discretizes a bound into its ordered shift set. Symmetric
// odd-step bounds include an exact zero so the baseline is always a cell.
func candidates(b Bound) []float64 {
	out := make([]float64, b.Steps)
	if b.Steps == 1 {
		out[0] = b.Min
		return out
	}
	step := (b.Max - b.Min) / float64(b.Steps-1)
	for i := range out {
		out[i] = b.Min + float64(i)*step
	}
	// Pin the endpoints and the symmetric midpoint exactly so bound hits
	// and the baseline cell compare cleanly.
	out[b.Steps-1] = b.Max
	if b.Steps%2 == 1 && b.Min == -b.Max {
		out[b.Steps/2] = 0
	}
	return out
}

func weight(b Bound) float64 {
	if b.Weight == 0 {
		return 1
	}
	return b.Weight
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

func sq(x float64) float64 { return x * x }
