// Package backtest runs opening and closing strategies over historical minute data,
// one trading day at a time.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/scranton_backtester/internal/marketdata"
	"github.com/eddiefleurent/scranton_backtester/internal/models"
	"github.com/eddiefleurent/scranton_backtester/internal/strategy"
)

// Skip reasons recorded on DayTrace
const (
	SkipOptionsStartLate = "option data starts after the opening minute"
	SkipNoOptionData     = "no option data for the day"
)

// Config tunes an Engine.
type Config struct {
	// GapFill, when set, is applied by the engine to every option fetch. Leave nil when the
	// collaborator already fills gaps.
	GapFill *marketdata.GapFill
	// OnDay is called for every processed day in calendar order. result is nil for
	// trace-only walks.
	OnDay         func(trace DayTrace, result *DayResult)
	StartingMoney float64
	// Workers > 1 fetches that many days concurrently; accumulation stays in calendar order.
	Workers int
}

// Engine simulates one opening strategy and one closing strategy over a date range.
type Engine struct {
	assets  marketdata.AssetDataService
	options marketdata.OptionsDataService
	opening strategy.OpeningStrategy
	closing strategy.ClosingStrategy
	logger  *logrus.Logger
	cfg     Config
}

// NewEngine wires an engine. A nil logger uses the standard logger.
func NewEngine(
	assets marketdata.AssetDataService,
	options marketdata.OptionsDataService,
	opening strategy.OpeningStrategy,
	closing strategy.ClosingStrategy,
	cfg Config,
	logger *logrus.Logger,
) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		assets:  assets,
		options: options,
		opening: opening,
		closing: closing,
		logger:  logger,
		cfg:     cfg,
	}
}

// Run simulates every trading day in [start, end] and returns the cumulative result.
// Days whose option data starts after the opening minute are skipped and counted;
// collaborator failures abort the run.
func (e *Engine) Run(ctx context.Context, start, end time.Time, asset string) (*Result, error) {
	if e.closing == nil {
		return nil, errors.New("engine has no closing strategy")
	}
	days, err := e.TradingDays(ctx, start, end, asset)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID:   uuid.New(),
		Asset:   asset,
		Start:   start,
		End:     end,
		Opening: e.opening.String(),
		Closing: e.closing.String(),
		Days:    make([]DayResult, 0, len(days)),
		Traces:  make([]DayTrace, 0, len(days)),
	}
	acc := newAccumulator(e.cfg.StartingMoney)

	err = e.walk(ctx, asset, days, func(tr DayTrace, sm *models.StateMachine) error {
		if !tr.Skipped {
			if err := sm.Transition(models.StateCloseDecision, "trace_ready"); err != nil {
				return err
			}
		}
		row := acc.add(e.closing, tr)
		if !tr.Skipped {
			if err := sm.Transition(models.StateAccumulate, "profit_realized"); err != nil {
				return err
			}
			if err := sm.Transition(models.StateDone, "accumulated"); err != nil {
				return err
			}
		}
		res.Traces = append(res.Traces, tr)
		res.Days = append(res.Days, row)
		if tr.Skipped {
			res.SkippedDays++
		}
		if e.cfg.OnDay != nil {
			e.cfg.OnDay(tr, &row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.FinalProfit = FinalProfit(res.Days, e.cfg.StartingMoney)
	res.Stats = ComputeStatistics(res.Days, e.cfg.StartingMoney)
	e.logSummary(res.RunID.String(), asset, res.Traces)
	e.logger.WithFields(logrus.Fields{
		"run_id":       res.RunID.String(),
		"final_profit": res.FinalProfit,
		"win_rate":     res.Stats.WinRate,
	}).Info("Backtest finished")
	return res, nil
}

// DailyPotentialPnL computes the profit trace of every trading day in [start, end]
// without closing, for offline closing-strategy sweeps. It returns the traces and the
// number of skipped days.
func (e *Engine) DailyPotentialPnL(ctx context.Context, start, end time.Time, asset string) ([]DayTrace, int, error) {
	days, err := e.TradingDays(ctx, start, end, asset)
	if err != nil {
		return nil, 0, err
	}
	traces := make([]DayTrace, 0, len(days))
	skipped := 0
	err = e.walk(ctx, asset, days, func(tr DayTrace, sm *models.StateMachine) error {
		if !tr.Skipped {
			if err := sm.Transition(models.StateDone, "trace_only"); err != nil {
				return err
			}
		}
		traces = append(traces, tr)
		if tr.Skipped {
			skipped++
		}
		if e.cfg.OnDay != nil {
			e.cfg.OnDay(tr, nil)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	e.logSummary("", asset, traces)
	return traces, skipped, nil
}

// TradingDays returns the dates of the asset's daily candles in [start, end], ascending.
// A range without candles yields no days.
func (e *Engine) TradingDays(ctx context.Context, start, end time.Time, asset string) ([]time.Time, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end %s is before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	candles, err := e.assets.DailyCandles(ctx, start, end, asset)
	if err != nil {
		if errors.Is(err, marketdata.ErrNoData) {
			e.logger.WithField("asset", asset).Warn("No trading days in range")
			return nil, nil
		}
		return nil, err
	}
	days := make([]time.Time, 0, len(candles))
	seen := make(map[time.Time]bool, len(candles))
	for _, c := range candles.Sorted() {
		d := marketdata.TradingDay(c.Timestamp)
		if seen[d] {
			continue
		}
		seen[d] = true
		days = append(days, d)
	}
	return days, nil
}

func (e *Engine) logSummary(runID, asset string, traces []DayTrace) {
	reasons := make(map[string]int)
	skipped := 0
	for _, tr := range traces {
		if tr.Skipped {
			reasons[tr.SkipReason]++
			skipped++
		}
	}
	fields := logrus.Fields{"asset": asset, "days": len(traces), "skipped": skipped}
	if runID != "" {
		fields["run_id"] = runID
	}
	if skipped > 0 {
		for reason, n := range reasons {
			fields["skipped_"+reason] = n
		}
		e.logger.WithFields(fields).Warnf("Skipped %d of %d days", skipped, len(traces))
		return
	}
	e.logger.WithFields(fields).Info("All days simulated")
}

// dayFetch is the fetched part of one day, up to the option data.
type dayFetch struct {
	err     error
	sm      *models.StateMachine
	day     time.Time
	opening strategy.Opening
	options marketdata.OptionSeries
}

// emitFunc receives each day's trace in calendar order together with the day's state
// machine, left in profit_trace (or skipped) for the caller to finish.
type emitFunc func(DayTrace, *models.StateMachine) error

// walk processes days in calendar order, handing each trace to emit.
func (e *Engine) walk(ctx context.Context, asset string, days []time.Time, emit emitFunc) error {
	if e.cfg.Workers <= 1 {
		for _, day := range days {
			f := e.fetchDay(ctx, day, asset)
			if f.err != nil {
				return f.err
			}
			tr, err := e.traceDay(f)
			if err != nil {
				return err
			}
			if err := emit(tr, f.sm); err != nil {
				return err
			}
		}
		return nil
	}
	return e.walkParallel(ctx, asset, days, emit)
}

func (e *Engine) walkParallel(ctx context.Context, asset string, days []time.Time, emit emitFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := make([]chan dayFetch, len(days))
	for i := range slots {
		slots[i] = make(chan dayFetch, 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	// ahead caps fetched-but-unconsumed days; the consumer frees a token per day
	ahead := make(chan struct{}, e.cfg.Workers)
	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i, day := range days {
			select {
			case ahead <- struct{}{}:
			case <-gctx.Done():
				return
			}
			g.Go(func() error {
				f := e.fetchDay(gctx, day, asset)
				slots[i] <- f
				return f.err
			})
		}
	}()
	wait := func() error {
		<-launched
		return g.Wait()
	}

	for i := range days {
		var f dayFetch
		select {
		case f = <-slots[i]:
		case <-ctx.Done():
			if err := wait(); err != nil {
				return err
			}
			return ctx.Err()
		}
		if f.err != nil {
			cancel()
			if err := wait(); err != nil {
				return err
			}
			return f.err
		}
		tr, err := e.traceDay(f)
		if err == nil {
			err = emit(tr, f.sm)
		}
		if err != nil {
			cancel()
			_ = wait()
			return err
		}
		<-ahead
	}
	return wait()
}

// fetchDay runs the fetch_underlying, open_decision and fetch_options states.
func (e *Engine) fetchDay(ctx context.Context, day time.Time, asset string) dayFetch {
	f := dayFetch{day: day, sm: models.NewStateMachine()}
	fail := func(condition string, err error) dayFetch {
		_ = f.sm.Transition(models.StateFailed, condition)
		f.err = err
		return f
	}

	if err := f.sm.Transition(models.StateFetchUnderlying, "day_started"); err != nil {
		f.err = err
		return f
	}
	underlying, err := e.assets.MinuteBars(ctx, day, asset)
	if err != nil {
		return fail("fetch_failed", wrapFetch("asset minute bars", day, asset, nil, err))
	}
	if !underlying.IsAscending() {
		return fail("fetch_failed", &marketdata.FetchError{
			Op: "asset minute bars", Day: day, Asset: asset, Err: fmt.Errorf("%w: bars out of order", marketdata.ErrMalformed),
		})
	}

	if err := f.sm.Transition(models.StateOpenDecision, "underlying_loaded"); err != nil {
		f.err = err
		return f
	}
	opening, err := e.opening.Open(underlying)
	if err != nil {
		return fail("strategy_failed", fmt.Errorf("day %s: opening strategy %s: %w", day.Format("2006-01-02"), e.opening, err))
	}
	f.opening = opening

	if err := f.sm.Transition(models.StateFetchOptions, "legs_chosen"); err != nil {
		f.err = err
		return f
	}
	contracts := marketdata.DistinctOptions(opening.Legs)
	options, err := e.options.OptionMinuteBars(ctx, day, contracts)
	if err != nil {
		return fail("fetch_failed", wrapFetch("option minute bars", day, asset, contracts, err))
	}
	if e.cfg.GapFill != nil {
		options = e.cfg.GapFill.Apply(options, marketdata.Symbols(contracts))
	}
	f.options = options

	if err := f.sm.Transition(models.StateDataValidate, "options_loaded"); err != nil {
		f.err = err
	}
	return f
}

func wrapFetch(op string, day time.Time, asset string, contracts []models.Option, err error) error {
	var fe *marketdata.FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &marketdata.FetchError{Op: op, Day: day, Asset: asset, Symbols: marketdata.Symbols(contracts), Err: err}
}

// openingPrice fills a position at the open of the opening-minute bar. When
// that minute has no print the last close before it stands in.
func openingPrice(options marketdata.OptionSeries, symbol string, ts time.Time) (float64, bool) {
	if bar, ok := options.Bar(symbol, ts); ok {
		return bar.Price(marketdata.FieldOpen), true
	}
	if bar, ok := options.AsOf(symbol, ts); ok {
		return bar.Price(marketdata.FieldClose), true
	}
	return 0, false
}

// traceDay runs data_validate, materialize and profit_trace on fetched data.
func (e *Engine) traceDay(f dayFetch) (DayTrace, error) {
	tr := DayTrace{Day: f.day}
	log := e.logger.WithField("day", f.day.Format("2006-01-02"))

	earliest, ok := f.options.EarliestTimestamp()
	if !ok || f.opening.Timestamp.Before(earliest) {
		tr.Skipped = true
		tr.SkipReason = SkipOptionsStartLate
		if !ok {
			tr.SkipReason = SkipNoOptionData
		}
		if err := f.sm.Transition(models.StateSkipped, "data_unavailable"); err != nil {
			return tr, err
		}
		log.WithField("reason", tr.SkipReason).Debug("Day skipped")
		return tr, nil
	}
	if err := f.sm.Transition(models.StateMaterialize, "data_valid"); err != nil {
		return tr, err
	}

	positions := make([]models.Position, 0, len(f.opening.Legs))
	for _, leg := range f.opening.Legs {
		sym := leg.Option.Symbol()
		price, ok := openingPrice(f.options, sym, f.opening.Timestamp)
		if !ok {
			_ = f.sm.Transition(models.StateFailed, "price_missing")
			return tr, &marketdata.FetchError{
				Op: "materialize positions", Day: f.day, Symbols: []string{sym},
				Err: fmt.Errorf("%w: no bar at or before opening minute %s", marketdata.ErrNoData, f.opening.Timestamp.Format(time.RFC3339)),
			}
		}
		positions = append(positions, leg.Open(price))
	}
	if err := f.sm.Transition(models.StateProfitTrace, "positions_opened"); err != nil {
		return tr, err
	}

	window := f.options.From(f.opening.Timestamp)
	timestamps := window.Timestamps()
	profits := make([]float64, 0, len(timestamps))
	closes := make(map[string]float64, len(positions))
	for _, ts := range timestamps {
		for _, p := range positions {
			sym := p.Option.Symbol()
			bar, ok := window.Bar(sym, ts)
			if !ok {
				_ = f.sm.Transition(models.StateFailed, "price_missing")
				return tr, &marketdata.FetchError{
					Op: "profit trace", Day: f.day, Symbols: []string{sym},
					Err: fmt.Errorf("%w: no bar at %s", marketdata.ErrNoData, ts.Format(time.RFC3339)),
				}
			}
			closes[sym] = bar.Price(marketdata.FieldClose)
		}
		profit, err := models.ComboProfit(positions, closes)
		if err != nil {
			return tr, err
		}
		profits = append(profits, profit.InexactFloat64())
	}
	opened := f.opening.Timestamp
	tr.OpenedAt = &opened
	tr.Legs = f.opening.Legs
	tr.Profits = profits
	log.WithFields(logrus.Fields{
		"opened_at": opened.Format(time.RFC3339),
		"minutes":   len(profits),
	}).Debug("Day traced")
	return tr, nil
}
