package main

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_backtester/internal/backtest"
	"github.com/eddiefleurent/scranton_backtester/internal/config"
	"github.com/eddiefleurent/scranton_backtester/internal/marketdata"
	"github.com/eddiefleurent/scranton_backtester/internal/mock"
	"github.com/eddiefleurent/scranton_backtester/internal/retry"
	"github.com/eddiefleurent/scranton_backtester/internal/storage"
	"github.com/eddiefleurent/scranton_backtester/internal/tradier"
)

// App holds the wired dependencies of one command invocation.
type App struct {
	Config *config.Config
	Logger *logrus.Logger
	Source marketdata.Source

	closers []io.Closer
}

// NewApp builds the data collaborator stack described by cfg:
// vendor -> retry -> circuit breaker -> bar cache -> session filter -> gap fill.
func NewApp(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	var src marketdata.Source
	switch cfg.Data.Provider {
	case config.ProviderSynthetic:
		session, err := cfg.SessionWindow()
		if err != nil {
			return nil, err
		}
		p := mock.NewDataProvider(cfg.Data.Seed)
		p.Session = session
		src = p
	default:
		client := tradier.NewClient(cfg.Data.APIKey, cfg.Data.Sandbox, cfg.Data.APIEndpoint).WithLogger(logger)
		if cfg.Data.Timeout > 0 {
			client = client.WithTimeout(cfg.Data.Timeout)
		}
		src = retry.NewSource(client, logger, cfg.Data.Retry)
		if cfg.Data.Breaker.Enabled {
			src = marketdata.NewCircuitBreakerSource(src, cfg.BreakerSettings(), logger)
		}
	}

	if cfg.Data.Cache.Backend != "" {
		store, err := storage.NewStorage(cfg.Data.Cache.Backend, cfg.Data.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("opening bar cache: %w", err)
		}
		app.closers = append(app.closers, store)
		src = storage.NewCachingSource(src, store, logger)
	}

	session, err := cfg.SessionWindow()
	if err != nil {
		return nil, err
	}
	src = &marketdata.SessionSource{Source: src, Session: session}

	if cfg.Data.GapFill == config.GapFillCollaborator {
		src = marketdata.NewFillingSource(src, *cfg.GapFill())
	}

	app.Source = src
	return app, nil
}

// Close releases the cache backend.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Engine returns an engine for the configured strategies.
func (a *App) Engine(onDay func(backtest.DayTrace, *backtest.DayResult)) (*backtest.Engine, error) {
	opening, err := a.Config.Opening.Build()
	if err != nil {
		return nil, fmt.Errorf("opening: %w", err)
	}
	closing, err := a.Config.Closing.Build()
	if err != nil {
		return nil, fmt.Errorf("closing: %w", err)
	}
	engineCfg := backtest.Config{
		OnDay:         onDay,
		StartingMoney: a.Config.Backtest.StartingMoney,
		Workers:       a.Config.Backtest.Workers,
	}
	if a.Config.Data.GapFill == config.GapFillEngine {
		engineCfg.GapFill = a.Config.GapFill()
	}
	return backtest.NewEngine(a.Source, a.Source, opening, closing, engineCfg, a.Logger), nil
}

// Run executes the configured backtest.
func (a *App) Run(ctx context.Context, onDay func(backtest.DayTrace, *backtest.DayResult)) (*backtest.Result, error) {
	engine, err := a.Engine(onDay)
	if err != nil {
		return nil, err
	}
	start, end, err := a.Config.DateRange()
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, start, end, a.Config.Backtest.Asset)
}

// Traces computes the daily profit traces without applying a closing strategy.
func (a *App) Traces(ctx context.Context) (storage.TraceFile, error) {
	engine, err := a.Engine(nil)
	if err != nil {
		return storage.TraceFile{}, err
	}
	start, end, err := a.Config.DateRange()
	if err != nil {
		return storage.TraceFile{}, err
	}
	traces, skipped, err := engine.DailyPotentialPnL(ctx, start, end, a.Config.Backtest.Asset)
	if err != nil {
		return storage.TraceFile{}, err
	}
	opening, _ := a.Config.Opening.Build()
	return storage.TraceFile{
		Asset:   a.Config.Backtest.Asset,
		Opening: opening.String(),
		Traces:  traces,
		Skipped: skipped,
	}, nil
}
