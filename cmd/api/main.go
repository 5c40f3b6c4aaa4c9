package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"intrinsic_valuation/pkg/api/valuation"
	"intrinsic_valuation/pkg/core/calibrate"
	"intrinsic_valuation/pkg/core/store"
)

// ServerConfig is the optional config/server.yaml shape.
type ServerConfig struct {
	Port        int              `yaml:"port"`
	Calibration calibrate.Config `yaml:"calibration"`
}

func main() {
	godotenv.Load()

	cfg := ServerConfig{Port: 8090, Calibration: calibrate.DefaultConfig()}
	if data, err := os.ReadFile("config/server.yaml"); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing config/server.yaml: %v", err)
		}
		fmt.Println("[API] Loaded config/server.yaml")
	}

	// Persistence is optional: without DATABASE_URL the API still serves
	// valuations, it just cannot save runs.
	var repo *store.RunRepo
	if os.Getenv("DATABASE_URL") != "" {
		if err := store.InitDB(context.Background()); err != nil {
			log.Fatalf("Database init failed: %v", err)
		}
		defer store.Close()
		repo = store.NewRunRepo()
		fmt.Println("[API] Run persistence enabled")
	} else {
		fmt.Println("[API] DATABASE_URL not set, running without persistence")
	}

	valuation.InitHandler(repo, cfg.Calibration)
	http.HandleFunc("/api/valuation/value", valuation.HandleValue)
	http.HandleFunc("/api/valuation/sensitivity", valuation.HandleSensitivity)
	http.HandleFunc("/api/valuation/calibrate", valuation.HandleCalibrate)

	addr := fmt.Sprintf(":%d", cfg.Port)
	fmt.Printf("[API] Listening on %s\n", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal(err)
	}
}
