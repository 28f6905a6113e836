package backtest

import (
	"github.com/shopspring/decimal"
)

// Statistics summarises the realized results of a run.
type Statistics struct {
	TradingDays   int     `json:"trading_days"`
	SkippedDays   int     `json:"skipped_days"`
	WinningDays   int     `json:"winning_days"`
	LosingDays    int     `json:"losing_days"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	ProfitFactor  float64 `json:"profit_factor"` // gross wins / gross losses, 0 without losses
	MaxDrawdown   float64 `json:"max_drawdown"`  // largest peak-to-trough fall of the cumulative total
	BestDay       float64 `json:"best_day"`
	WorstDay      float64 `json:"worst_day"`
	CurrentStreak int     `json:"current_streak"` // positive for wins, negative for losses
}

// ComputeStatistics derives Statistics from cumulative rows. A day realizing exactly zero
// counts as a loss.
func ComputeStatistics(days []DayResult, startingMoney float64) Statistics {
	var stats Statistics
	grossWin := decimal.Zero
	grossLoss := decimal.Zero
	total := decimal.Zero
	peak := startingMoney
	first := true

	for _, d := range days {
		if d.Cumulative > peak {
			peak = d.Cumulative
		}
		if dd := peak - d.Cumulative; dd > stats.MaxDrawdown {
			stats.MaxDrawdown = dd
		}

		if d.Skipped {
			stats.SkippedDays++
			continue
		}
		stats.TradingDays++
		pnl := decimal.NewFromFloat(d.Realized)
		total = total.Add(pnl)

		if first || d.Realized > stats.BestDay {
			stats.BestDay = d.Realized
		}
		if first || d.Realized < stats.WorstDay {
			stats.WorstDay = d.Realized
		}
		first = false

		if d.Realized > 0 {
			stats.WinningDays++
			grossWin = grossWin.Add(pnl)
			if stats.CurrentStreak >= 0 {
				stats.CurrentStreak++
			} else {
				stats.CurrentStreak = 1
			}
		} else {
			stats.LosingDays++
			grossLoss = grossLoss.Add(pnl)
			if stats.CurrentStreak <= 0 {
				stats.CurrentStreak--
			} else {
				stats.CurrentStreak = -1
			}
		}
	}

	stats.TotalPnL = total.InexactFloat64()
	if stats.TradingDays > 0 {
		stats.WinRate = float64(stats.WinningDays) / float64(stats.TradingDays)
	}
	if stats.WinningDays > 0 {
		stats.AverageWin = grossWin.Div(decimal.NewFromInt(int64(stats.WinningDays))).InexactFloat64()
	}
	if stats.LosingDays > 0 {
		stats.AverageLoss = grossLoss.Div(decimal.NewFromInt(int64(stats.LosingDays))).InexactFloat64()
	}
	if !grossLoss.IsZero() {
		stats.ProfitFactor = grossWin.Div(grossLoss.Abs()).InexactFloat64()
	}
	return stats
}
