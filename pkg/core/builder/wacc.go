package builder

// CapitalInput holds the parameters for one year's cost of capital.
type CapitalInput struct {
	UnleveredBeta     float64
	RiskFreeRate      float64
	MarketRiskPremium float64
	CountryRisk       float64
	PreTaxCostOfDebt  float64
	TaxRate           float64
	DebtToEquityRatio float64 // target leverage (D/E)
}

// CostOfCapital computes a single-period WACC using CAPM with Hamada
// re-levering.
func CostOfCapital(in CapitalInput) float64 {
	// 1. Re-lever beta (Hamada): BetaL = BetaU * (1 + (1-t)*(D/E))
	leveredBeta := in.UnleveredBeta * (1 + (1-in.TaxRate)*in.DebtToEquityRatio)

	// 2. Cost of equity (CAPM plus country risk)
	ke := in.RiskFreeRate + leveredBeta*(in.MarketRiskPremium+in.CountryRisk)

	// 3. After-tax cost of debt
	kd := in.PreTaxCostOfDebt * (1 - in.TaxRate)

	// 4. Weights from D/E: Wd = x/(1+x), We = 1/(1+x)
	wd := in.DebtToEquityRatio / (1 + in.DebtToEquityRatio)
	we := 1.0 / (1 + in.DebtToEquityRatio)

	return ke*we + kd*wd
}

// CostOfCapitalPath builds a per-year WACC path from a risk-free curve,
// holding leverage and premia constant. The curve is extended with its
// last point when shorter than the horizon, and every element is clamped
// to [2%, 20%].
func CostOfCapitalPath(in CapitalInput, riskFreeCurve []float64, horizon int) []float64 {
	path := make([]float64, horizon)
	for t := 0; t < horizon; t++ {
		yearIn := in
		if len(riskFreeCurve) > 0 {
			idx := t
			if idx >= len(riskFreeCurve) {
				idx = len(riskFreeCurve) - 1
			}
			yearIn.RiskFreeRate = riskFreeCurve[idx]
		}
		path[t] = clamp(CostOfCapital(yearIn), 0.02, 0.20)
	}
	return path
}
