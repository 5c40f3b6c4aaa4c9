package valuation

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"intrinsic_valuation/pkg/core/kernel"
)

func apiRecord() *kernel.DriverRecord {
	return &kernel.DriverRecord{
		Ticker:            "API",
		Horizon:           2,
		SalesGrowth:       []float64{0.10, 0.08},
		OperMargin:        []float64{0.18, 0.19},
		SalesToCapital:    []float64{2.0, 2.2},
		WACC:              []float64{0.09, 0.088},
		TerminalWACC:      0.088,
		TaxRate:           0.25,
		StableGrowth:      0.02,
		StableMargin:      0.19,
		Discounting:       kernel.DiscountingEndYear,
		BaseRevenue:       1000,
		SharesOutstanding: 100,
	}
}

func post(t *testing.T, handler http.HandlerFunc, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest("POST", "/", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func TestHandleValue(t *testing.T) {
	rr := post(t, HandleValue, ValueRequest{Driver: apiRecord()})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ValueResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Valuation == nil || resp.Valuation.ValuePerShare <= 0 {
		t.Errorf("expected a positive per-share value, got %+v", resp.Valuation)
	}
	if len(resp.Valuation.Revenue) != 2 {
		t.Errorf("expected 2 projection years, got %d", len(resp.Valuation.Revenue))
	}
}

func TestHandleValueRejectsMalformedRecord(t *testing.T) {
	rec := apiRecord()
	rec.WACC = rec.WACC[:1] // shape mismatch

	rr := post(t, HandleValue, ValueRequest{Driver: rec})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for shape mismatch, got %d", rr.Code)
	}
}

func TestHandleSensitivityDefaults(t *testing.T) {
	rr := post(t, HandleSensitivity, SensitivityRequest{Driver: apiRecord()})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Grid [][]float64 `json:"grid"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Grid) != 5 || len(resp.Grid[0]) != 5 {
		t.Errorf("expected default 5x5 grid, got %dx%d", len(resp.Grid), len(resp.Grid[0]))
	}
}

func TestHandleCalibrateRequiresTarget(t *testing.T) {
	rr := post(t, HandleCalibrate, CalibrateRequest{Driver: apiRecord()})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing target, got %d", rr.Code)
	}
}

func TestHandleCalibrate(t *testing.T) {
	rr := post(t, HandleCalibrate, CalibrateRequest{Driver: apiRecord(), Target: 25})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Record   *kernel.DriverRecord `json:"record"`
		Residual float64              `json:"residual"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Record == nil {
		t.Errorf("expected a calibrated record in the response")
	}
}

func TestMethodGating(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()
	HandleValue(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", rr.Code)
	}

	req = httptest.NewRequest("OPTIONS", "/", nil)
	rr = httptest.NewRecorder()
	HandleValue(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for OPTIONS preflight, got %d", rr.Code)
	}
}
