package kernel

import (
	"errors"
	"math"
	"testing"
)

const tol = 1e-9

// reference record: 5-year path, end-year discounting
func testRecord() *DriverRecord {
	return &DriverRecord{
		Ticker:            "TEST",
		Horizon:           5,
		SalesGrowth:       []float64{0.10, 0.08, 0.06, 0.05, 0.04},
		OperMargin:        []float64{0.18, 0.19, 0.20, 0.20, 0.21},
		SalesToCapital:    []float64{2.0, 2.0, 2.2, 2.4, 2.5},
		WACC:              []float64{0.09, 0.09, 0.088, 0.086, 0.085},
		TerminalWACC:      0.085,
		TaxRate:           0.25,
		StableGrowth:      0.025,
		StableMargin:      0.20,
		Discounting:       DiscountingEndYear,
		BaseRevenue:       5000,
		NetDebt:           800,
		NonOperatingCash:  150,
		SharesOutstanding: 250,
	}
}

func approxEqual(a, b, relTol float64) bool {
	scale := math.Max(1.0, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= relTol*scale
}

func TestOneYearScenario(t *testing.T) {
	// Hand-computed single-year case:
	// rev = 1000 * 1.10 = 1100
	// ebit = 1100 * 0.20 = 220
	// nopat = 220 * 0.75 = 165
	// reinvest = (1100 - 1000) / 2.0 = 50
	// fcff = 165 - 50 = 115
	// df = 1/1.10
	// terminal: rev1 = 1100*1.03 = 1133, nopat1 = 1133*0.20*0.75 = 169.95
	//           reinvest1 = 33/2 = 16.5, fcff1 = 153.45
	//           tv = 153.45 / 0.07, pv_terminal = tv / 1.10
	r := &DriverRecord{
		Horizon:           1,
		SalesGrowth:       []float64{0.10},
		OperMargin:        []float64{0.20},
		SalesToCapital:    []float64{2.0},
		WACC:              []float64{0.10},
		TerminalWACC:      0.10,
		TaxRate:           0.25,
		StableGrowth:      0.03,
		StableMargin:      0.20,
		Discounting:       DiscountingEndYear,
		BaseRevenue:       1000,
		SharesOutstanding: 100,
	}

	v, err := Value(r)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"revenue[0]", v.Revenue[0], 1100},
		{"ebit[0]", v.EBIT[0], 220},
		{"nopat[0]", v.NOPAT[0], 165},
		{"reinvestment[0]", v.Reinvestment[0], 50},
		{"fcff[0]", v.FCFF[0], 115},
		{"pv_explicit", v.PVExplicit, 115 / 1.10},
		{"terminal_fcff", v.TerminalFCFF, 153.45},
		{"terminal_value", v.TerminalValue, 153.45 / 0.07},
		{"pv_terminal", v.PVTerminal, 153.45 / 0.07 / 1.10},
		{"value_per_share", v.ValuePerShare, (115/1.10 + 153.45/0.07/1.10) / 100},
	}
	for _, c := range checks {
		if !approxEqual(c.got, c.want, tol) {
			t.Errorf("%s: expected %.12f, got %.12f", c.name, c.want, c.got)
		}
	}

	// Regression pin for the per-share value.
	if !approxEqual(v.ValuePerShare, 20.974025974025974, tol) {
		t.Errorf("value_per_share regression: got %.15f", v.ValuePerShare)
	}
}

func TestPVBridge(t *testing.T) {
	v, err := Value(testRecord())
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	bridge := v.PVExplicit + v.PVTerminal - v.NetDebt + v.NonOperatingCash
	if !approxEqual(v.EquityValue, bridge, tol) {
		t.Errorf("equity bridge broken: equity=%.12f, bridge=%.12f", v.EquityValue, bridge)
	}

	var pvSum float64
	for _, pv := range v.PVFCFF {
		pvSum += pv
	}
	if !approxEqual(v.PVExplicit, pvSum, tol) {
		t.Errorf("pv_explicit %.12f != sum of pv_fcff %.12f", v.PVExplicit, pvSum)
	}

	if !approxEqual(v.ValuePerShare, v.EquityValue/250, tol) {
		t.Errorf("value_per_share inconsistent with equity value")
	}
}

func TestShapeMismatch(t *testing.T) {
	r := testRecord()
	r.OperMargin = r.OperMargin[:4]
	if _, err := Value(r); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}

	r = testRecord()
	r.WACC = append(r.WACC, 0.08)
	if _, err := Value(r); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch for long wacc path, got %v", err)
	}

	r = testRecord()
	r.TaxRatePath = []float64{0.25, 0.25}
	if _, err := Value(r); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch for tax path, got %v", err)
	}
}

func TestInvalidDrivers(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*DriverRecord)
	}{
		{"zero sigma", func(r *DriverRecord) { r.SalesToCapital[2] = 0 }},
		{"negative sigma", func(r *DriverRecord) { r.SalesToCapital[0] = -1.5 }},
		{"margin above 1", func(r *DriverRecord) { r.OperMargin[1] = 1.2 }},
		{"negative margin", func(r *DriverRecord) { r.OperMargin[3] = -0.05 }},
		{"tax above 1", func(r *DriverRecord) { r.TaxRate = 1.1 }},
		{"zero shares", func(r *DriverRecord) { r.SharesOutstanding = 0 }},
		{"unknown mode", func(r *DriverRecord) { r.Discounting = "quarterly" }},
		{"zero horizon", func(r *DriverRecord) { r.Horizon = 0 }},
	}
	for _, c := range cases {
		r := testRecord()
		c.mutate(r)
		if _, err := Value(r); !errors.Is(err, ErrInvalidDriver) {
			t.Errorf("%s: expected ErrInvalidDriver, got %v", c.name, err)
		}
	}
}

func TestTerminalConstraint(t *testing.T) {
	r := testRecord()
	r.StableGrowth = r.TerminalWACC // g == r
	if _, err := Value(r); !errors.Is(err, ErrTerminalConstraint) {
		t.Errorf("expected ErrTerminalConstraint at g == r, got %v", err)
	}

	// Inside the 50 bps buffer is still a violation.
	r = testRecord()
	r.StableGrowth = r.TerminalWACC - 0.004
	if _, err := Value(r); !errors.Is(err, ErrTerminalConstraint) {
		t.Errorf("expected ErrTerminalConstraint inside buffer, got %v", err)
	}

	// Just outside the buffer is fine.
	r = testRecord()
	r.StableGrowth = r.TerminalWACC - 0.006
	if _, err := Value(r); err != nil {
		t.Errorf("expected success outside buffer, got %v", err)
	}
}

func TestGrowthMonotonicity(t *testing.T) {
	base := testRecord()
	vBase, err := Value(base)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	up := base.Clone()
	for t2 := range up.SalesGrowth {
		up.SalesGrowth[t2] += 0.01
	}
	vUp, err := Value(up)
	if err != nil {
		t.Fatalf("Value failed on shifted record: %v", err)
	}

	if vUp.ValuePerShare <= vBase.ValuePerShare {
		t.Errorf("raising growth did not raise value: base=%.6f up=%.6f",
			vBase.ValuePerShare, vUp.ValuePerShare)
	}
}

func TestMarginMonotonicity(t *testing.T) {
	base := testRecord()
	vBase, err := Value(base)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	up := base.Clone()
	for t2 := range up.OperMargin {
		up.OperMargin[t2] += 0.01
	}
	vUp, err := Value(up)
	if err != nil {
		t.Fatalf("Value failed on shifted record: %v", err)
	}

	if vUp.ValuePerShare <= vBase.ValuePerShare {
		t.Errorf("raising margin did not raise value: base=%.6f up=%.6f",
			vBase.ValuePerShare, vUp.ValuePerShare)
	}
}

func TestMidYearUpliftBound(t *testing.T) {
	end := testRecord()
	mid := testRecord()
	mid.Discounting = DiscountingMidYear

	vEnd, err := Value(end)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	vMid, err := Value(mid)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	// Mid-year discounting must lift the value, but by less than 10% for
	// WACC in the normal 5-15% range (uplift is roughly sqrt(1+wacc)-1).
	uplift := vMid.ValuePerShare/vEnd.ValuePerShare - 1
	if uplift <= 0 {
		t.Errorf("mid-year value %.6f not above end-year %.6f", vMid.ValuePerShare, vEnd.ValuePerShare)
	}
	if uplift >= 0.10 {
		t.Errorf("mid-year uplift %.4f exceeds 10%% bound", uplift)
	}

	// Per-year factors must diverge by exactly the half-period adjustment.
	for t2 := range vEnd.DiscountFactor {
		want := vEnd.DiscountFactor[t2] * math.Sqrt(1+end.WACC[t2])
		if !approxEqual(vMid.DiscountFactor[t2], want, tol) {
			t.Errorf("df[%d]: expected %.12f, got %.12f", t2, want, vMid.DiscountFactor[t2])
		}
	}
}

func TestReinvestmentFloor(t *testing.T) {
	r := testRecord()
	r.SalesGrowth = []float64{-0.05, -0.03, 0.02, 0.02, 0.02}

	v, err := Value(r)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	// Shrinking years must not release capital.
	if v.Reinvestment[0] != 0 || v.Reinvestment[1] != 0 {
		t.Errorf("reinvestment floor violated: %v", v.Reinvestment[:2])
	}
	if v.Reinvestment[2] <= 0 {
		t.Errorf("growing year should reinvest, got %f", v.Reinvestment[2])
	}
}

func TestKernelDoesNotMutateInput(t *testing.T) {
	r := testRecord()
	before := r.Clone()

	if _, err := Value(r); err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	for t2 := 0; t2 < r.Horizon; t2++ {
		if r.SalesGrowth[t2] != before.SalesGrowth[t2] ||
			r.OperMargin[t2] != before.OperMargin[t2] ||
			r.SalesToCapital[t2] != before.SalesToCapital[t2] ||
			r.WACC[t2] != before.WACC[t2] {
			t.Fatalf("kernel mutated its input at year %d", t2)
		}
	}
}

func TestPerYearTaxPath(t *testing.T) {
	r := testRecord()
	r.TaxRatePath = []float64{0.20, 0.21, 0.22, 0.23, 0.24}

	v, err := Value(r)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	for t2 := 0; t2 < r.Horizon; t2++ {
		want := v.EBIT[t2] * (1 - r.TaxRatePath[t2])
		if !approxEqual(v.NOPAT[t2], want, tol) {
			t.Errorf("nopat[%d]: expected %.12f, got %.12f", t2, want, v.NOPAT[t2])
		}
	}
}
