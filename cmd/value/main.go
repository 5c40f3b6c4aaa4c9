package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"intrinsic_valuation/pkg/core/calibrate"
	"intrinsic_valuation/pkg/core/kernel"
	"intrinsic_valuation/pkg/core/report"
	"intrinsic_valuation/pkg/core/sensitivity"
	"intrinsic_valuation/pkg/core/store"
	"intrinsic_valuation/pkg/core/utils"
)

func main() {
	mode := flag.String("mode", "value", "Mode: value, sensitivity, or calibrate")
	input := flag.String("input", "", "Driver record file (JSON or Hjson)")
	target := flag.Float64("target", 0, "Target value per share (calibrate mode)")
	configPath := flag.String("config", "", "Calibration config YAML (calibrate mode)")
	csvOut := flag.String("csv", "", "Write the per-year table (value) or grid (sensitivity) as CSV to this path")
	htmlOut := flag.String("html", "", "Write an HTML summary to this path (value mode)")
	growthDelta := flag.Float64("growth-delta", 0.02, "Growth axis half-width (sensitivity mode)")
	marginDelta := flag.Float64("margin-delta", 0.01, "Margin axis half-width (sensitivity mode)")
	steps := flag.Int("steps", 5, "Steps per sensitivity axis")
	save := flag.Bool("save", false, "Persist the run to the database")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		log.Println("[VALUE] Loaded .env")
	}

	if *input == "" {
		log.Fatal("Error: -input is required")
	}
	data, err := os.ReadFile(*input)
	if err != nil {
		log.Fatalf("Error reading %s: %v", *input, err)
	}
	rec, err := utils.DecodeDriverRecord(data)
	if err != nil {
		log.Fatalf("Error decoding driver record: %v", err)
	}

	switch *mode {
	case "value":
		runValue(rec, *csvOut, *htmlOut, *save)
	case "sensitivity":
		runSensitivity(rec, *growthDelta, *marginDelta, *steps, *csvOut)
	case "calibrate":
		runCalibrate(rec, *target, *configPath)
	default:
		log.Fatalf("Unknown mode: %s", *mode)
	}
}

func runValue(rec *kernel.DriverRecord, csvOut, htmlOut string, save bool) {
	v, err := kernel.Value(rec)
	if err != nil {
		log.Fatalf("Valuation failed: %v", err)
	}

	printJSON(v)

	if csvOut != "" {
		f, err := os.Create(csvOut)
		if err != nil {
			log.Fatalf("Error creating %s: %v", csvOut, err)
		}
		defer f.Close()
		if err := report.WriteYearTable(f, v); err != nil {
			log.Fatalf("Error writing year table: %v", err)
		}
		fmt.Printf("[VALUE] Wrote per-year table to %s\n", csvOut)
	}

	if htmlOut != "" {
		html, err := report.RenderHTML(report.SummaryMarkdown(rec, v))
		if err != nil {
			log.Fatalf("Error rendering summary: %v", err)
		}
		if err := os.WriteFile(htmlOut, []byte(html), 0o644); err != nil {
			log.Fatalf("Error writing %s: %v", htmlOut, err)
		}
		fmt.Printf("[VALUE] Wrote summary to %s\n", htmlOut)
	}

	if save {
		ctx := context.Background()
		if err := store.InitDB(ctx); err != nil {
			log.Fatalf("Database init failed: %v", err)
		}
		defer store.Close()
		id, err := store.NewRunRepo().Save(ctx, rec.Ticker, rec, v)
		if err != nil {
			log.Fatalf("Save failed: %v", err)
		}
		fmt.Printf("[VALUE] Saved run %s\n", id)
	}
}

func runSensitivity(rec *kernel.DriverRecord, growthDelta, marginDelta float64, steps int, csvOut string) {
	res, err := sensitivity.Compute(rec, growthDelta, marginDelta, steps, steps)
	if err != nil {
		log.Fatalf("Sensitivity failed: %v", err)
	}

	if csvOut != "" {
		f, err := os.Create(csvOut)
		if err != nil {
			log.Fatalf("Error creating %s: %v", csvOut, err)
		}
		defer f.Close()
		if err := report.WriteSensitivityTable(f, res); err != nil {
			log.Fatalf("Error writing grid: %v", err)
		}
		fmt.Printf("[VALUE] Wrote sensitivity grid to %s\n", csvOut)
		return
	}
	printJSON(res)
}

func runCalibrate(rec *kernel.DriverRecord, target float64, configPath string) {
	if target <= 0 {
		log.Fatal("Error: -target must be positive in calibrate mode")
	}

	cfg := calibrate.DefaultConfig()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			log.Fatalf("Error reading %s: %v", configPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing calibration config: %v", err)
		}
	}

	res, err := calibrate.Calibrate(rec, target, cfg)
	if err != nil {
		log.Fatalf("Calibration failed: %v", err)
	}

	if res.Improved {
		fmt.Printf("[VALUE] Calibrated in %d evaluations, residual %.4f (was %.4f)\n",
			res.Evaluations, res.Residual, res.BaseResidual)
	} else {
		fmt.Printf("[VALUE] No material improvement found, keeping baseline (residual %.4f)\n", res.Residual)
	}
	printJSON(res)
}

func printJSON(payload interface{}) {
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		log.Fatalf("Error encoding output: %v", err)
	}
	fmt.Println(string(out))
}
