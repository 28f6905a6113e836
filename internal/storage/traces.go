package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/backtest"
	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

// TraceFile is the on-disk form of a run's daily profit traces.
type TraceFile struct {
	CreatedAt time.Time           `json:"created_at"`
	Asset     string              `json:"asset"`
	Opening   string              `json:"opening"`
	Traces    []backtest.DayTrace `json:"traces"`
	Skipped   int                 `json:"skipped"`
}

// SaveTraces writes traces to path atomically.
func SaveTraces(path string, file TraceFile) error {
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return writeFileAtomic(path, data)
}

// LoadTraces reads a file written by SaveTraces.
func LoadTraces(path string) (TraceFile, error) {
	var file TraceFile
	data, err := os.ReadFile(path)
	if err != nil {
		return file, err
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("decoding traces %s: %w", path, err)
	}
	skipped := 0
	for _, tr := range file.Traces {
		if tr.Skipped {
			skipped++
		}
		if err := checkLegs(file.Asset, tr); err != nil {
			return file, fmt.Errorf("%s: %w", path, err)
		}
	}
	file.Skipped = skipped
	return file, nil
}

// checkLegs parses every leg's OCC symbol back so a hand-edited or truncated
// file fails on load rather than in a sweep.
func checkLegs(asset string, tr backtest.DayTrace) error {
	for _, leg := range tr.Legs {
		sym := leg.Option.Symbol()
		parsed, err := models.ParseOptionSymbol(sym)
		if err != nil {
			return fmt.Errorf("%w: day %s: %w", ErrInvalidTrace, tr.Day.Format("2006-01-02"), err)
		}
		if parsed.Strike != leg.Option.Strike {
			return fmt.Errorf("%w: day %s: strike %v does not fit %s", ErrInvalidTrace, tr.Day.Format("2006-01-02"), leg.Option.Strike, sym)
		}
		if asset != "" && parsed.Underlying != asset {
			return fmt.Errorf("%w: day %s: leg %s is not on %s", ErrInvalidTrace, tr.Day.Format("2006-01-02"), sym, asset)
		}
	}
	return nil
}
