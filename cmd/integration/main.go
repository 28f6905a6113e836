// Command integration checks the Tradier market data collaborator end to end against the
// live API: history, asset time sales, option time sales and a one-day backtest.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_backtester/internal/backtest"
	"github.com/eddiefleurent/scranton_backtester/internal/config"
	"github.com/eddiefleurent/scranton_backtester/internal/marketdata"
	"github.com/eddiefleurent/scranton_backtester/internal/retry"
	"github.com/eddiefleurent/scranton_backtester/internal/strategy"
	"github.com/eddiefleurent/scranton_backtester/internal/tradier"
)

type checker struct {
	src     marketdata.Source
	opening strategy.OpeningStrategy
	asset   string
	logger  *logrus.Logger

	day     time.Time
	minutes marketdata.Series
	opened  strategy.Opening
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	fmt.Println("=== Backtester - Market Data Integration Check ===")
	fmt.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Data.Provider != config.ProviderTradier {
		logrus.Fatalf("Integration checks need data.provider: tradier (got %q)", cfg.Data.Provider)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	session, err := cfg.SessionWindow()
	if err != nil {
		logger.Fatalf("Invalid session: %v", err)
	}
	client := tradier.NewClient(cfg.Data.APIKey, cfg.Data.Sandbox, cfg.Data.APIEndpoint).WithLogger(logger)
	var src marketdata.Source = retry.NewSource(client, logger, cfg.Data.Retry)
	src = &marketdata.SessionSource{Source: src, Session: session}
	src = marketdata.NewFillingSource(src, *cfg.GapFill())

	opening, err := cfg.Opening.Build()
	if err != nil {
		logger.Fatalf("Invalid opening: %v", err)
	}

	c := &checker{src: src, opening: opening, asset: cfg.Backtest.Asset, logger: logger}
	c.runAll([]struct {
		name string
		fn   func(context.Context) error
	}{
		{"Daily Candles", c.checkDailyCandles},
		{"Asset Minute Bars", c.checkMinuteBars},
		{"Option Minute Bars", c.checkOptionBars},
		{"One-Day Backtest", c.checkBacktest},
	})
}

func (c *checker) runAll(checks []struct {
	name string
	fn   func(context.Context) error
}) {
	passed := 0
	for i, check := range checks {
		title := fmt.Sprintf("Check %d: %s", i+1, check.name)
		fmt.Println(title)
		fmt.Println(underline(len(title)))

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := check.fn(ctx)
		cancel()
		if err != nil {
			c.logger.WithError(err).Error(check.name + " failed")
			fmt.Println("FAILED")
			fmt.Println()
			// later checks depend on earlier ones
			break
		}
		passed++
		fmt.Println("PASSED")
		fmt.Println()
	}

	fmt.Println("=== Integration Check Results ===")
	fmt.Printf("Checks Passed: %d/%d\n", passed, len(checks))
	if passed != len(checks) {
		os.Exit(1)
	}
}

func underline(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '='
	}
	return string(b)
}

func (c *checker) checkDailyCandles(ctx context.Context) error {
	end := marketdata.TradingDay(time.Now()).AddDate(0, 0, -1)
	candles, err := c.src.DailyCandles(ctx, end.AddDate(0, 0, -10), end, c.asset)
	if err != nil {
		return err
	}
	if !candles.IsAscending() {
		return fmt.Errorf("daily candles are not ascending")
	}
	c.day = marketdata.TradingDay(candles[len(candles)-1].Timestamp)
	c.logger.Infof("%d daily candles, last trading day %s close %.2f",
		len(candles), c.day.Format("2006-01-02"), candles[len(candles)-1].Close)
	return nil
}

func (c *checker) checkMinuteBars(ctx context.Context) error {
	minutes, err := c.src.MinuteBars(ctx, c.day, c.asset)
	if err != nil {
		return err
	}
	c.minutes = minutes
	c.logger.Infof("%d session minutes from %s to %s", len(minutes),
		minutes[0].Timestamp.Format(time.Kitchen), minutes[len(minutes)-1].Timestamp.Format(time.Kitchen))
	return nil
}

func (c *checker) checkOptionBars(ctx context.Context) error {
	opening, err := c.opening.Open(c.minutes)
	if err != nil {
		return err
	}
	c.opened = opening
	contracts := marketdata.DistinctOptions(opening.Legs)
	data, err := c.src.OptionMinuteBars(ctx, c.day, contracts)
	if err != nil {
		return err
	}
	for _, opt := range contracts {
		series := data[opt.Symbol()]
		if len(series) == 0 {
			return fmt.Errorf("no bars for %s", opt.Symbol())
		}
		c.logger.Infof("%s: %d bars, first open %.2f", opt.Symbol(), len(series), series[0].Open)
	}
	return nil
}

func (c *checker) checkBacktest(ctx context.Context) error {
	closing := strategy.ClosingConfig{Kind: strategy.CloseLast}.MustBuild()
	engine := backtest.NewEngine(c.src, c.src, c.opening, closing, backtest.Config{}, c.logger)
	res, err := engine.Run(ctx, c.day, c.day, c.asset)
	if err != nil {
		return err
	}
	c.logger.Infof("combo struck at %.2f held to the close: %.2f (%d skipped)", c.opened.Reference, res.FinalProfit, res.SkippedDays)
	return nil
}
