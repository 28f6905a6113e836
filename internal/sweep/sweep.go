// Package sweep evaluates a grid of closing strategies over stored daily profit traces.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/scranton_backtester/internal/backtest"
	"github.com/eddiefleurent/scranton_backtester/internal/strategy"
)

// ErrEmptyGrid is returned when a grid expands to no configurations
var ErrEmptyGrid = errors.New("sweep grid is empty")

// Grid lists candidate values for each closing parameter. Parameters the kind does not
// use are ignored.
type Grid struct {
	Kind       strategy.ClosingKind `yaml:"kind" json:"kind"`
	Limits     []float64            `yaml:"limits" json:"limits,omitempty"`
	StopLosses []float64            `yaml:"stoplosses" json:"stoplosses,omitempty"`
	Ns         []int                `yaml:"ns" json:"ns,omitempty"`
	Ms         []int                `yaml:"ms" json:"ms,omitempty"`
}

// Outcome is the result of one grid point.
type Outcome struct {
	Config      strategy.ClosingConfig `json:"config"`
	Label       string                 `json:"label"`
	Stats       backtest.Statistics    `json:"stats"`
	FinalProfit float64                `json:"final_profit"`
}

func orZero[T any](values []T) []T {
	if len(values) == 0 {
		var zero T
		return []T{zero}
	}
	return values
}

// Expand returns every closing config of the grid. Each config is validated, so a
// grid containing an invalid combination fails before anything is evaluated.
func (g Grid) Expand() ([]strategy.ClosingConfig, error) {
	var out []strategy.ClosingConfig
	for _, limit := range orZero(g.Limits) {
		for _, stop := range orZero(g.StopLosses) {
			for _, n := range orZero(g.Ns) {
				for _, m := range orZero(g.Ms) {
					cfg := strategy.ClosingConfig{Kind: g.Kind, Limit: limit, StopLoss: stop, N: n, M: m}
					if err := cfg.Validate(); err != nil {
						return nil, err
					}
					out = append(out, cfg)
				}
			}
		}
	}
	out = dedupe(out)
	if len(out) == 0 {
		return nil, ErrEmptyGrid
	}
	return out, nil
}

// dedupe drops configs whose strategies are identical, e.g. values of unused parameters.
func dedupe(cfgs []strategy.ClosingConfig) []strategy.ClosingConfig {
	seen := make(map[string]bool, len(cfgs))
	out := cfgs[:0]
	for _, cfg := range cfgs {
		label := cfg.MustBuild().String()
		if seen[label] {
			continue
		}
		seen[label] = true
		out = append(out, cfg)
	}
	return out
}

// Run evaluates every grid point over traces using up to workers goroutines and returns
// the outcomes ordered by final profit, best first.
func Run(
	ctx context.Context,
	traces []backtest.DayTrace,
	grid Grid,
	startingMoney float64,
	workers int,
) ([]Outcome, error) {
	cfgs, err := grid.Expand()
	if err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}

	outcomes := make([]Outcome, len(cfgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, cfg := range cfgs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = Evaluate(cfg.MustBuild(), cfg, traces, startingMoney)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("sweep canceled: %w", err)
	}

	sort.SliceStable(outcomes, func(i, j int) bool {
		if outcomes[i].FinalProfit != outcomes[j].FinalProfit {
			return outcomes[i].FinalProfit > outcomes[j].FinalProfit
		}
		return outcomes[i].Label < outcomes[j].Label
	})
	return outcomes, nil
}

// Evaluate applies one closing strategy to traces.
func Evaluate(
	closing strategy.ClosingStrategy,
	cfg strategy.ClosingConfig,
	traces []backtest.DayTrace,
	startingMoney float64,
) Outcome {
	days := backtest.ApplyClosing(closing, traces, startingMoney)
	return Outcome{
		Config:      cfg,
		Label:       closing.String(),
		FinalProfit: backtest.FinalProfit(days, startingMoney),
		Stats:       backtest.ComputeStatistics(days, startingMoney),
	}
}
