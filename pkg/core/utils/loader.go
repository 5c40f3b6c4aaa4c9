// Package utils holds small shared helpers: tolerant decoding of
// hand-edited record files and markdown rendering for reports.
package utils

import (
	"encoding/json"
	"fmt"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"

	"intrinsic_valuation/pkg/core/kernel"
)

// DecodeLenient unmarshals into out, trying progressively more forgiving
// parsers. Driver files are frequently hand-edited, so trailing commas,
// comments, and unquoted keys should not block a run.
//
// Order of attempts:
//  1. strict JSON
//  2. repaired JSON (trailing commas, single quotes, unclosed braces)
//  3. Hjson (comments, unquoted keys, optional commas)
func DecodeLenient(data []byte, out interface{}) error {
	if err := json.Unmarshal(data, out); err == nil {
		return nil
	}

	if repaired, err := jsonrepair.RepairJSON(string(data)); err == nil {
		if err := json.Unmarshal([]byte(repaired), out); err == nil {
			return nil
		}
	}

	if err := hjson.Unmarshal(data, out); err == nil {
		return nil
	}

	return fmt.Errorf("input is not valid JSON, repairable JSON, or Hjson")
}

// DecodeDriverRecord parses a driver file and validates the result under
// the default kernel configuration, so callers get shape/range failures at
// load time rather than deep inside a run.
func DecodeDriverRecord(data []byte) (*kernel.DriverRecord, error) {
	var rec kernel.DriverRecord
	if err := DecodeLenient(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding driver record: %w", err)
	}
	if err := rec.Validate(kernel.DefaultConfig()); err != nil {
		return nil, err
	}
	return &rec, nil
}
