// Package kernel implements the deterministic DCF valuation core.
// It maps an immutable DriverRecord to a ValuationRecord with no I/O,
// no logging, and no shared state, so concurrent invocation is safe.
package kernel

import "errors"

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// All kernel failures are fatal and non-retryable. Callers discriminate
// with errors.Is; the kernel never returns a partial valuation.
var (
	// ErrShapeMismatch indicates a per-year array whose length differs from Horizon.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrInvalidDriver indicates an economically invalid driver value
	// (non-positive sales-to-capital, margin or tax outside [0,1], ...).
	ErrInvalidDriver = errors.New("invalid driver")
	// ErrTerminalConstraint indicates stable growth too close to or above
	// the terminal WACC, which would make the terminal value infinite.
	ErrTerminalConstraint = errors.New("terminal constraint violation")
)

// =============================================================================
// DISCOUNTING MODE
// =============================================================================

// DiscountingMode selects the cash-flow timing convention. It is a closed
// enum: call sites switch exhaustively and reject unknown values, so a
// third convention can be added without silent fallthrough.
type DiscountingMode string

const (
	// DiscountingEndYear assumes cash flows arrive at period end.
	DiscountingEndYear DiscountingMode = "end"
	// DiscountingMidYear assumes cash flows arrive mid-period, producing
	// a small uplift over end-year discounting.
	DiscountingMidYear DiscountingMode = "midyear"
)

// Config carries kernel-level tunables. Defaults live here rather than in
// module-level state so the kernel stays pure and independently testable.
type Config struct {
	// TerminalGrowthBuffer is the minimum spread required between the
	// terminal WACC and stable growth (default 50 bps).
	TerminalGrowthBuffer float64 `json:"terminal_growth_buffer" yaml:"terminal_growth_buffer"`
}

// DefaultConfig returns the standard kernel configuration.
func DefaultConfig() Config {
	return Config{TerminalGrowthBuffer: 0.005}
}

// =============================================================================
// DRIVER RECORD (kernel input)
// =============================================================================

// DriverRecord is the sole input to the valuation kernel: per-year driver
// paths plus the scalars needed for the terminal value and equity bridge.
// The kernel treats it as immutable; analyses that perturb drivers work on
// a Clone and never write back.
type DriverRecord struct {
	Company  string `json:"company,omitempty"`
	Ticker   string `json:"ticker,omitempty"`
	Currency string `json:"currency,omitempty"`

	// Horizon is the number of explicit forecast years (>= 1). Every
	// per-year slice below must have exactly this length.
	Horizon int `json:"horizon"`

	SalesGrowth    []float64 `json:"sales_growth"`
	OperMargin     []float64 `json:"operating_margin"`
	SalesToCapital []float64 `json:"sales_to_capital"`
	WACC           []float64 `json:"wacc"`

	// TerminalWACC capitalizes the terminal cash flow. The builder defaults
	// it to the last element of the WACC path.
	TerminalWACC float64 `json:"terminal_wacc"`

	// TaxRate applies to every forecast year unless TaxRatePath is set,
	// in which case the path (length Horizon) takes precedence.
	TaxRate     float64   `json:"tax_rate"`
	TaxRatePath []float64 `json:"tax_rate_path,omitempty"`

	StableGrowth float64 `json:"stable_growth"`
	StableMargin float64 `json:"stable_margin"`

	Discounting DiscountingMode `json:"discounting_mode"`

	// BaseRevenue is the prior-period revenue the projection compounds from.
	BaseRevenue float64 `json:"base_revenue"`

	NetDebt           float64 `json:"net_debt"`
	NonOperatingCash  float64 `json:"non_operating_cash"`
	SharesOutstanding float64 `json:"shares_outstanding"`
}

// Clone returns a deep copy. Perturbation-based analyses (sensitivity,
// calibration) mutate only clones.
func (r *DriverRecord) Clone() *DriverRecord {
	c := *r
	c.SalesGrowth = append([]float64(nil), r.SalesGrowth...)
	c.OperMargin = append([]float64(nil), r.OperMargin...)
	c.SalesToCapital = append([]float64(nil), r.SalesToCapital...)
	c.WACC = append([]float64(nil), r.WACC...)
	if r.TaxRatePath != nil {
		c.TaxRatePath = append([]float64(nil), r.TaxRatePath...)
	}
	return &c
}

// TaxAt returns the tax rate applied in forecast year t.
func (r *DriverRecord) TaxAt(t int) float64 {
	if len(r.TaxRatePath) > 0 {
		return r.TaxRatePath[t]
	}
	return r.TaxRate
}

// =============================================================================
// VALUATION RECORD (kernel output)
// =============================================================================

// ValuationRecord is the kernel's sole output. The caller owns it
// exclusively; the kernel retains no reference after return.
type ValuationRecord struct {
	// Per-year series, each of length Horizon.
	Revenue        []float64 `json:"revenue"`
	EBIT           []float64 `json:"ebit"`
	NOPAT          []float64 `json:"nopat"`
	Reinvestment   []float64 `json:"reinvestment"`
	FCFF           []float64 `json:"fcff"`
	DiscountFactor []float64 `json:"discount_factor"`
	PVFCFF         []float64 `json:"pv_fcff"`

	PVExplicit float64 `json:"pv_explicit"`

	TerminalFCFF  float64 `json:"terminal_fcff"`
	TerminalValue float64 `json:"terminal_value"`
	PVTerminal    float64 `json:"pv_terminal"`

	PVOperatingAssets float64 `json:"pv_operating_assets"`
	NetDebt           float64 `json:"net_debt"`
	NonOperatingCash  float64 `json:"non_operating_cash"`
	EquityValue       float64 `json:"equity_value"`
	SharesOutstanding float64 `json:"shares_outstanding"`
	ValuePerShare     float64 `json:"value_per_share"`

	Mode DiscountingMode `json:"discounting_mode"`
}
