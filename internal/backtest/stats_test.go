package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeStatistics(t *testing.T) {
	days := []DayResult{
		{Realized: 200, Cumulative: 200},
		{Skipped: true, Cumulative: 200},
		{Realized: -300, Cumulative: -100},
		{Realized: 100, Cumulative: 0},
		{Realized: 0, Cumulative: 0},
	}
	stats := ComputeStatistics(days, 0)

	assert.Equal(t, 4, stats.TradingDays)
	assert.Equal(t, 1, stats.SkippedDays)
	assert.Equal(t, 2, stats.WinningDays)
	assert.Equal(t, 2, stats.LosingDays)
	assert.Equal(t, 0.5, stats.WinRate)
	assert.Equal(t, 0.0, stats.TotalPnL)
	assert.Equal(t, 150.0, stats.AverageWin)
	assert.Equal(t, -150.0, stats.AverageLoss)
	assert.Equal(t, 1.0, stats.ProfitFactor)
	assert.Equal(t, 300.0, stats.MaxDrawdown)
	assert.Equal(t, 200.0, stats.BestDay)
	assert.Equal(t, -300.0, stats.WorstDay)
	assert.Equal(t, -1, stats.CurrentStreak)
}

func TestComputeStatistics_Empty(t *testing.T) {
	stats := ComputeStatistics(nil, 1000)
	assert.Equal(t, Statistics{}, stats)
}

func TestComputeStatistics_DrawdownFromStartingMoney(t *testing.T) {
	days := []DayResult{
		{Realized: -50, Cumulative: 950},
		{Realized: -25, Cumulative: 925},
	}
	stats := ComputeStatistics(days, 1000)
	assert.Equal(t, 75.0, stats.MaxDrawdown)
	assert.Equal(t, 0.0, stats.ProfitFactor)
	assert.Equal(t, -2, stats.CurrentStreak)
}
