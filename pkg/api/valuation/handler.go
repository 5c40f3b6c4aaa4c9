// Package valuation exposes the kernel, sensitivity engine, and calibration
// solver over HTTP. Handlers decode a driver record, invoke the core, and
// return JSON; persistence is optional and never blocks a response.
package valuation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"intrinsic_valuation/pkg/core/calibrate"
	"intrinsic_valuation/pkg/core/kernel"
	"intrinsic_valuation/pkg/core/sensitivity"
	"intrinsic_valuation/pkg/core/store"
)

var (
	runRepo    *store.RunRepo
	defaultCal = calibrate.DefaultConfig()
)

// InitHandler wires the optional run repository and the server-level
// calibration defaults. Pass a nil repo to disable persistence.
func InitHandler(repo *store.RunRepo, cal calibrate.Config) {
	runRepo = repo
	defaultCal = cal
}

type ValueRequest struct {
	Driver *kernel.DriverRecord `json:"driver"`
	Save   bool                 `json:"save,omitempty"`
}

type ValueResponse struct {
	Valuation *kernel.ValuationRecord `json:"valuation"`
	RunID     string                  `json:"run_id,omitempty"`
}

type SensitivityRequest struct {
	Driver      *kernel.DriverRecord `json:"driver"`
	GrowthDelta float64              `json:"growth_delta"`
	MarginDelta float64              `json:"margin_delta"`
	GrowthSteps int                  `json:"growth_steps"`
	MarginSteps int                  `json:"margin_steps"`
}

type CalibrateRequest struct {
	Driver *kernel.DriverRecord `json:"driver"`
	Target float64              `json:"target"`
	Config *calibrate.Config    `json:"config,omitempty"`
}

// HandleValue runs the kernel over a posted driver record.
func HandleValue(w http.ResponseWriter, r *http.Request) {
	if !preamble(w, r) {
		return
	}

	var req ValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Driver == nil {
		http.Error(w, "missing driver record", http.StatusBadRequest)
		return
	}

	fmt.Printf("[VALUATION] Value request: %s horizon=%d\n", req.Driver.Ticker, req.Driver.Horizon)

	v, err := kernel.Value(req.Driver)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	resp := ValueResponse{Valuation: v}
	if req.Save && runRepo != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		id, err := runRepo.Save(ctx, req.Driver.Ticker, req.Driver, v)
		if err != nil {
			// Persistence is best-effort: report it, keep the valuation.
			fmt.Printf("[VALUATION] Save failed: %v\n", err)
		} else {
			resp.RunID = id
		}
	}

	writeJSON(w, resp)
}

// HandleSensitivity computes the perturbation grid for a posted record.
func HandleSensitivity(w http.ResponseWriter, r *http.Request) {
	if !preamble(w, r) {
		return
	}

	var req SensitivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Driver == nil {
		http.Error(w, "missing driver record", http.StatusBadRequest)
		return
	}
	if req.GrowthDelta == 0 {
		req.GrowthDelta = 0.02
	}
	if req.MarginDelta == 0 {
		req.MarginDelta = 0.01
	}
	if req.GrowthSteps == 0 {
		req.GrowthSteps = 5
	}
	if req.MarginSteps == 0 {
		req.MarginSteps = 5
	}

	fmt.Printf("[VALUATION] Sensitivity request: %s grid=%dx%d\n",
		req.Driver.Ticker, req.MarginSteps, req.GrowthSteps)

	res, err := sensitivity.Compute(req.Driver, req.GrowthDelta, req.MarginDelta, req.GrowthSteps, req.MarginSteps)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, res)
}

// HandleCalibrate reconciles a posted record with a target price.
func HandleCalibrate(w http.ResponseWriter, r *http.Request) {
	if !preamble(w, r) {
		return
	}

	var req CalibrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Driver == nil {
		http.Error(w, "missing driver record", http.StatusBadRequest)
		return
	}
	if req.Target <= 0 {
		http.Error(w, "target must be positive", http.StatusBadRequest)
		return
	}
	cfg := defaultCal
	if req.Config != nil {
		cfg = *req.Config
	}

	fmt.Printf("[VALUATION] Calibrate request: %s target=%.2f\n", req.Driver.Ticker, req.Target)

	res, err := calibrate.Calibrate(req.Driver, req.Target, cfg)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, res)
}

// preamble handles CORS and method gating; returns false when the request
// is already answered.
func preamble(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return false
	}
	if r.Method != "POST" {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// statusFor maps the core's error taxonomy onto HTTP codes: malformed
// input is the caller's fault, everything else is ours.
func statusFor(err error) int {
	switch {
	case errors.Is(err, kernel.ErrShapeMismatch),
		errors.Is(err, kernel.ErrInvalidDriver),
		errors.Is(err, kernel.ErrTerminalConstraint),
		errors.Is(err, calibrate.ErrInvalidBounds):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		fmt.Printf("[VALUATION] Encode failed: %v\n", err)
	}
}
