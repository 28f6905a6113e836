package backtest

import (
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

// DayTrace is the would-be profit of a day's combo if closed at each minute from the
// opening minute to the end of the session. Skipped days carry a nil Profits slice,
// which encodes as JSON null.
type DayTrace struct {
	Day        time.Time    `json:"day"`
	OpenedAt   *time.Time   `json:"opened_at,omitempty"`
	SkipReason string       `json:"skip_reason,omitempty"`
	Legs       []models.Leg `json:"legs,omitempty"`
	Profits    []float64    `json:"profits"`
	Skipped    bool         `json:"skipped"`
}

// DayResult is one row of the cumulative result.
type DayResult struct {
	Day        time.Time  `json:"day"`
	OpenedAt   *time.Time `json:"opened_at,omitempty"`
	Index      int        `json:"index"`
	Realized   float64    `json:"realized"`
	Cumulative float64    `json:"cumulative"`
	Skipped    bool       `json:"skipped"`
}

// Result is the outcome of a whole run.
type Result struct {
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	Asset       string      `json:"asset"`
	Opening     string      `json:"opening"`
	Closing     string      `json:"closing"`
	Days        []DayResult `json:"days"`
	Traces      []DayTrace  `json:"traces,omitempty"`
	Stats       Statistics  `json:"stats"`
	FinalProfit float64     `json:"final_profit"`
	SkippedDays int         `json:"skipped_days"`
	RunID       uuid.UUID   `json:"run_id"`
}

// Cumulative returns the running totals in day order
func (r *Result) Cumulative() []float64 {
	out := make([]float64, len(r.Days))
	for i, d := range r.Days {
		out[i] = d.Cumulative
	}
	return out
}
