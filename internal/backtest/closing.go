package backtest

import (
	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/scranton_backtester/internal/strategy"
)

// accumulator keeps the cross-day running total exact.
type accumulator struct {
	total decimal.Decimal
	index int
}

func newAccumulator(startingMoney float64) *accumulator {
	return &accumulator{total: decimal.NewFromFloat(startingMoney)}
}

// add closes one day's trace and appends it to the running total. Skipped days realize
// nothing and carry the total forward.
func (a *accumulator) add(closing strategy.ClosingStrategy, trace DayTrace) DayResult {
	row := DayResult{
		Index:    a.index,
		Day:      trace.Day,
		OpenedAt: trace.OpenedAt,
		Skipped:  trace.Skipped,
	}
	a.index++
	if !trace.Skipped {
		realized := closing.Close(trace.Profits)
		row.Realized = realized
		a.total = a.total.Add(decimal.NewFromFloat(realized))
	}
	row.Cumulative = a.total.InexactFloat64()
	return row
}

// ApplyClosing realizes each trace with closing and returns the cumulative rows,
// starting from startingMoney.
func ApplyClosing(closing strategy.ClosingStrategy, traces []DayTrace, startingMoney float64) []DayResult {
	acc := newAccumulator(startingMoney)
	out := make([]DayResult, 0, len(traces))
	for _, tr := range traces {
		out = append(out, acc.add(closing, tr))
	}
	return out
}

// FinalProfit returns the last cumulative value, or startingMoney for an empty run
func FinalProfit(days []DayResult, startingMoney float64) float64 {
	if len(days) == 0 {
		return startingMoney
	}
	return days[len(days)-1].Cumulative
}
