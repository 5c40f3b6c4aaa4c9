package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"intrinsic_valuation/pkg/core/kernel"
)

// ValuationRun is one stored kernel invocation: the input record, its
// output, and identifying metadata.
type ValuationRun struct {
	ID        string                  `json:"id"`
	Ticker    string                  `json:"ticker"`
	CreatedAt time.Time               `json:"created_at"`
	Driver    *kernel.DriverRecord    `json:"driver"`
	Valuation *kernel.ValuationRecord `json:"valuation"`
}

// RunRepo handles storage of valuation runs.
//
// Schema assumption (managed elsewhere, e.g. migrations):
//
//	CREATE TABLE IF NOT EXISTS valuation_runs (
//	  id UUID PRIMARY KEY,
//	  ticker TEXT NOT NULL,
//	  run_json JSONB NOT NULL,
//	  created_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX IF NOT EXISTS valuation_runs_ticker_idx
//	  ON valuation_runs (ticker, created_at DESC);
type RunRepo struct{}

// NewRunRepo creates a new repository instance.
func NewRunRepo() *RunRepo {
	return &RunRepo{}
}

// Save persists a run and returns its generated ID.
func (r *RunRepo) Save(ctx context.Context, ticker string, driver *kernel.DriverRecord, valuation *kernel.ValuationRecord) (string, error) {
	pool := GetPool()
	if pool == nil {
		return "", fmt.Errorf("database pool not initialized")
	}

	run := ValuationRun{
		ID:        uuid.New().String(),
		Ticker:    ticker,
		CreatedAt: time.Now().UTC(),
		Driver:    driver,
		Valuation: valuation,
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run: %w", err)
	}

	query := `
		INSERT INTO valuation_runs (id, ticker, run_json, created_at)
		VALUES ($1, $2, $3, $4);
	`
	if _, err := pool.Exec(ctx, query, run.ID, run.Ticker, payload, run.CreatedAt); err != nil {
		return "", fmt.Errorf("failed to save run: %w", err)
	}
	return run.ID, nil
}

// Load retrieves one run by ID.
func (r *RunRepo) Load(ctx context.Context, id string) (*ValuationRun, error) {
	pool := GetPool()
	if pool == nil {
		return nil, fmt.Errorf("database pool not initialized")
	}

	var payload []byte
	err := pool.QueryRow(ctx, `SELECT run_json FROM valuation_runs WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("no run found for id %s", id)
		}
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	var run ValuationRun
	if err := json.Unmarshal(payload, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// Latest retrieves the most recent run for a ticker.
func (r *RunRepo) Latest(ctx context.Context, ticker string) (*ValuationRun, error) {
	pool := GetPool()
	if pool == nil {
		return nil, fmt.Errorf("database pool not initialized")
	}

	query := `
		SELECT run_json FROM valuation_runs
		WHERE ticker = $1
		ORDER BY created_at DESC
		LIMIT 1;
	`
	var payload []byte
	err := pool.QueryRow(ctx, query, ticker).Scan(&payload)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("no runs found for ticker %s", ticker)
		}
		return nil, fmt.Errorf("failed to load latest run: %w", err)
	}

	var run ValuationRun
	if err := json.Unmarshal(payload, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}
