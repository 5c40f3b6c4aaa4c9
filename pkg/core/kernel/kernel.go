package kernel

import (
	"fmt"
	"math"
)

// Validate checks the record against the kernel's input contract:
// array shapes, driver ranges, and the terminal growth constraint.
// The external builder guarantees alignment before calling Value, but the
// kernel re-validates defensively; a malformed input must never produce a
// plausible-looking number.
func (r *DriverRecord) Validate(cfg Config) error {
	if r.Horizon < 1 {
		return fmt.Errorf("%w: horizon must be >= 1, got %d", ErrInvalidDriver, r.Horizon)
	}

	// 1. Shape checks
	paths := []struct {
		name string
		n    int
	}{
		{"sales_growth", len(r.SalesGrowth)},
		{"operating_margin", len(r.OperMargin)},
		{"sales_to_capital", len(r.SalesToCapital)},
		{"wacc", len(r.WACC)},
	}
	for _, p := range paths {
		if p.n != r.Horizon {
			return fmt.Errorf("%w: %s has length %d, horizon is %d", ErrShapeMismatch, p.name, p.n, r.Horizon)
		}
	}
	if len(r.TaxRatePath) > 0 && len(r.TaxRatePath) != r.Horizon {
		return fmt.Errorf("%w: tax_rate_path has length %d, horizon is %d", ErrShapeMismatch, len(r.TaxRatePath), r.Horizon)
	}

	// 2. Driver ranges
	for t := 0; t < r.Horizon; t++ {
		if r.SalesToCapital[t] <= 0 {
			return fmt.Errorf("%w: sales_to_capital[%d] = %f must be positive", ErrInvalidDriver, t, r.SalesToCapital[t])
		}
		if m := r.OperMargin[t]; m < 0 || m > 1 {
			return fmt.Errorf("%w: operating_margin[%d] = %f outside [0,1]", ErrInvalidDriver, t, m)
		}
		if tax := r.TaxAt(t); tax < 0 || tax > 1 {
			return fmt.Errorf("%w: tax_rate[%d] = %f outside [0,1]", ErrInvalidDriver, t, tax)
		}
		if r.WACC[t] <= -1 {
			return fmt.Errorf("%w: wacc[%d] = %f must exceed -100%%", ErrInvalidDriver, t, r.WACC[t])
		}
	}
	if r.SharesOutstanding <= 0 {
		return fmt.Errorf("%w: shares_outstanding = %f must be positive", ErrInvalidDriver, r.SharesOutstanding)
	}
	switch r.Discounting {
	case DiscountingEndYear, DiscountingMidYear:
	default:
		return fmt.Errorf("%w: unknown discounting_mode %q", ErrInvalidDriver, r.Discounting)
	}

	// 3. Terminal feasibility: stable growth must sit below the terminal
	// WACC by at least the configured buffer or the perpetuity blows up.
	if r.StableGrowth >= r.TerminalWACC-cfg.TerminalGrowthBuffer {
		return fmt.Errorf("%w: stable_growth=%.4f, terminal_wacc=%.4f, buffer=%.4f",
			ErrTerminalConstraint, r.StableGrowth, r.TerminalWACC, cfg.TerminalGrowthBuffer)
	}
	return nil
}

// Value runs the valuation under the default configuration.
func Value(r *DriverRecord) (*ValuationRecord, error) {
	return ValueWithConfig(r, DefaultConfig())
}

// ValueWithConfig maps a DriverRecord to a ValuationRecord: explicit-period
// projection, discounting, terminal value, and the equity bridge. It is a
// total function over valid inputs and performs no partial computation on
// failure.
func ValueWithConfig(r *DriverRecord, cfg Config) (*ValuationRecord, error) {
	if err := r.Validate(cfg); err != nil {
		return nil, err
	}

	T := r.Horizon
	v := &ValuationRecord{
		Revenue:        make([]float64, T),
		EBIT:           make([]float64, T),
		NOPAT:          make([]float64, T),
		Reinvestment:   make([]float64, T),
		FCFF:           make([]float64, T),
		DiscountFactor: make([]float64, T),
		PVFCFF:         make([]float64, T),
		Mode:           r.Discounting,
	}

	// 1. Project the explicit period
	prevRev := r.BaseRevenue
	for t := 0; t < T; t++ {
		rev := prevRev * (1 + r.SalesGrowth[t])
		ebit := rev * r.OperMargin[t]
		nopat := ebit * (1 - r.TaxAt(t))

		// Reinvestment floor at zero: revenue declines never release
		// capital. This is a documented policy, not an oversight.
		reinvest := math.Max((rev-prevRev)/r.SalesToCapital[t], 0)

		v.Revenue[t] = rev
		v.EBIT[t] = ebit
		v.NOPAT[t] = nopat
		v.Reinvestment[t] = reinvest
		v.FCFF[t] = nopat - reinvest
		prevRev = rev
	}

	// 2. Discount factors accumulate multiplicatively along the WACC path.
	// Mid-year convention applies a half-period uplift of sqrt(1+wacc[t]).
	acc := 1.0
	for t := 0; t < T; t++ {
		acc *= 1 + r.WACC[t]
		df := 1 / acc
		if r.Discounting == DiscountingMidYear {
			df *= math.Sqrt(1 + r.WACC[t])
		}
		v.DiscountFactor[t] = df
		v.PVFCFF[t] = v.FCFF[t] * df
		v.PVExplicit += v.PVFCFF[t]
	}

	// 3. Terminal value (Gordon growth on the stable state)
	revT := v.Revenue[T-1]
	revT1 := revT * (1 + r.StableGrowth)
	nopatT1 := revT1 * r.StableMargin * (1 - r.TaxAt(T-1))
	reinvestT1 := (revT1 - revT) / r.SalesToCapital[T-1]
	v.TerminalFCFF = nopatT1 - reinvestT1
	v.TerminalValue = v.TerminalFCFF / (r.TerminalWACC - r.StableGrowth)
	v.PVTerminal = v.TerminalValue * v.DiscountFactor[T-1]

	// 4. Equity bridge
	v.PVOperatingAssets = v.PVExplicit + v.PVTerminal
	v.NetDebt = r.NetDebt
	v.NonOperatingCash = r.NonOperatingCash
	v.EquityValue = v.PVOperatingAssets - r.NetDebt + r.NonOperatingCash
	v.SharesOutstanding = r.SharesOutstanding
	v.ValuePerShare = v.EquityValue / r.SharesOutstanding

	return v, nil
}
