// Package builder constructs kernel driver records from parsed company
// fundamentals plus optional explicit path overrides, so a caller can
// express judgement on growth, margin, or reinvestment without hand-rolling
// full paths. The builder is the only component that guesses; the kernel
// downstream re-validates everything it produces.
package builder

import (
	"fmt"
	"math"
	"sort"

	"intrinsic_valuation/pkg/core/kernel"
)

// Fundamentals is the parsed historical record the builder starts from.
// Maps are keyed by fiscal year.
type Fundamentals struct {
	Company  string `json:"company"`
	Ticker   string `json:"ticker"`
	Currency string `json:"currency"`

	Revenue map[int]float64 `json:"revenue"`
	EBIT    map[int]float64 `json:"ebit"`

	RevenueTTM float64 `json:"revenue_ttm,omitempty"`
	EBITTTM    float64 `json:"ebit_ttm,omitempty"`

	SharesOut        float64 `json:"shares_out"`
	TaxRate          float64 `json:"tax_rate"`
	NetDebt          float64 `json:"net_debt"`
	NonOperatingCash float64 `json:"non_operating_cash"`
}

// Macro bundles the market context used for the discount-rate path.
type Macro struct {
	RiskFreeCurve []float64 `json:"risk_free_curve" yaml:"risk_free_curve"`
	ERP           float64   `json:"erp" yaml:"erp"`
	CountryRisk   float64   `json:"country_risk" yaml:"country_risk"`
}

// Options are the builder's knobs. Zero values get conservative defaults.
// Override paths shorter than the horizon are used as a prefix and trended
// linearly to the stable target; paths of full length are used verbatim.
type Options struct {
	Horizon      int
	StableGrowth *float64
	StableMargin *float64

	Beta             float64
	DebtToEquity     float64
	PreTaxCostOfDebt float64

	Discounting kernel.DiscountingMode

	SalesGrowthPath    []float64
	OperMarginPath     []float64
	SalesToCapitalPath []float64
}

const (
	defaultHorizon = 10
	defaultSigma0  = 2.0
	defaultSigmaT  = 2.5
)

// Build assembles a DriverRecord: historical CAGR seeds the growth path,
// the TTM margin (when present) seeds the margin path, and both trend
// linearly to their stable targets. The result is validated before return;
// a record this function hands back is safe to feed the kernel.
func Build(f Fundamentals, macro Macro, opts Options) (*kernel.DriverRecord, error) {
	horizon := opts.Horizon
	if horizon <= 0 {
		horizon = defaultHorizon
	}
	if len(f.Revenue) == 0 {
		return nil, fmt.Errorf("fundamentals carry no revenue history for %s", f.Ticker)
	}

	years := make([]int, 0, len(f.Revenue))
	for y := range f.Revenue {
		years = append(years, y)
	}
	sort.Ints(years)

	revSeries := make([]float64, len(years))
	for i, y := range years {
		revSeries[i] = f.Revenue[y]
	}

	// Initial growth: CAGR over the trailing window, held inside a sane band.
	window := revSeries
	if len(window) > 5 {
		window = window[len(window)-5:]
	}
	g0 := clamp(cagr(window), -0.20, 0.25)

	// Initial margin: prefer TTM, else last historical EBIT margin.
	m0 := 0.10
	switch {
	case f.RevenueTTM > 0 && f.EBITTTM != 0:
		m0 = f.EBITTTM / f.RevenueTTM
	default:
		lastY := years[len(years)-1]
		if rev := f.Revenue[lastY]; rev > 0 {
			m0 = f.EBIT[lastY] / rev
		}
	}
	m0 = clamp(m0, 0.0, 1.0)

	// Stable targets: conservative growth (capped at 3% or the long
	// risk-free rate), margin held inside [5%, 35%].
	stableGrowth := opts.StableGrowth
	if stableGrowth == nil {
		rf := 0.025
		if len(macro.RiskFreeCurve) > 0 {
			rf = macro.RiskFreeCurve[len(macro.RiskFreeCurve)-1]
		}
		g := math.Min(0.03, math.Max(0.0, rf))
		stableGrowth = &g
	}
	stableMargin := opts.StableMargin
	if stableMargin == nil {
		m := clamp(m0, 0.05, 0.35)
		stableMargin = &m
	}

	baseRevenue := revSeries[len(revSeries)-1]
	if f.RevenueTTM > 0 {
		baseRevenue = f.RevenueTTM
	}

	taxRate := f.TaxRate
	if taxRate == 0 {
		taxRate = 0.25
	}
	shares := f.SharesOut
	if shares == 0 {
		shares = 1.0
	}

	beta := opts.Beta
	if beta == 0 {
		beta = 1.0
	}
	capital := CapitalInput{
		UnleveredBeta:     beta,
		MarketRiskPremium: macro.ERP,
		CountryRisk:       macro.CountryRisk,
		PreTaxCostOfDebt:  opts.PreTaxCostOfDebt,
		TaxRate:           taxRate,
		DebtToEquityRatio: opts.DebtToEquity,
	}
	curve := macro.RiskFreeCurve
	if len(curve) == 0 {
		curve = []float64{0.03}
	}
	wacc := CostOfCapitalPath(capital, curve, horizon)

	mode := opts.Discounting
	if mode == "" {
		mode = kernel.DiscountingEndYear
	}

	rec := &kernel.DriverRecord{
		Company:           f.Company,
		Ticker:            f.Ticker,
		Currency:          f.Currency,
		Horizon:           horizon,
		SalesGrowth:       mergePath(opts.SalesGrowthPath, g0, *stableGrowth, horizon),
		OperMargin:        mergePath(opts.OperMarginPath, m0, *stableMargin, horizon),
		SalesToCapital:    mergePath(opts.SalesToCapitalPath, defaultSigma0, defaultSigmaT, horizon),
		WACC:              wacc,
		TerminalWACC:      wacc[horizon-1],
		TaxRate:           taxRate,
		StableGrowth:      *stableGrowth,
		StableMargin:      *stableMargin,
		Discounting:       mode,
		BaseRevenue:       baseRevenue,
		NetDebt:           f.NetDebt,
		NonOperatingCash:  f.NonOperatingCash,
		SharesOutstanding: shares,
	}

	if err := rec.Validate(kernel.DefaultConfig()); err != nil {
		return nil, fmt.Errorf("built record failed validation: %w", err)
	}
	return rec, nil
}

// mergePath resolves an override against a default linear trend:
// nil/empty -> trend from start to target; full length -> verbatim;
// shorter -> prefix kept, remainder trended from the last provided value.
func mergePath(override []float64, start, target float64, horizon int) []float64 {
	if len(override) == 0 {
		return trend(start, target, horizon)
	}
	if len(override) >= horizon {
		return append([]float64(nil), override[:horizon]...)
	}
	out := append([]float64(nil), override...)
	tail := trend(override[len(override)-1], target, horizon-len(override)+1)
	return append(out, tail[1:]...)
}

// trend is a linear ramp from start to target inclusive, n points.
func trend(start, target float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = target
		return out
	}
	step := (target - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = target
	return out
}

// cagr returns the compound annual growth rate of a positive series, with
// conservative fallbacks for degenerate input.
func cagr(series []float64) float64 {
	if len(series) < 2 {
		return 0.03
	}
	s0, sN := series[0], series[len(series)-1]
	if s0 <= 0 || sN <= 0 {
		return 0.02
	}
	n := float64(len(series) - 1)
	return math.Pow(sN/s0, 1/n) - 1
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
