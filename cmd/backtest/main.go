// Command backtest replays 0DTE option combos over historical minute data.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/eddiefleurent/scranton_backtester/internal/backtest"
	"github.com/eddiefleurent/scranton_backtester/internal/config"
	"github.com/eddiefleurent/scranton_backtester/internal/dashboard"
	"github.com/eddiefleurent/scranton_backtester/internal/logging"
	"github.com/eddiefleurent/scranton_backtester/internal/storage"
	"github.com/eddiefleurent/scranton_backtester/internal/strategy"
	"github.com/eddiefleurent/scranton_backtester/internal/sweep"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

type options struct {
	configPath string
	asset      string
	start      string
	end        string
	jsonOut    bool
	debug      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "backtest",
		Short:         "Backtest intraday option combos on historical minute bars",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to configuration file")
	root.PersistentFlags().StringVar(&opts.asset, "asset", "", "override backtest.asset")
	root.PersistentFlags().StringVar(&opts.start, "start", "", "override backtest.start (YYYY-MM-DD)")
	root.PersistentFlags().StringVar(&opts.end, "end", "", "override backtest.end (YYYY-MM-DD)")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print results as JSON")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newRunCmd(opts),
		newTracesCmd(opts),
		newSweepCmd(opts),
		newServeCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), Version)
			},
		},
	)
	return root
}

// setup loads the config, applies flag overrides and wires the app.
func setup(opts *options) (*App, func(), error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.asset != "" || opts.start != "" || opts.end != "" || opts.debug {
		if opts.asset != "" {
			cfg.Backtest.Asset = strings.ToUpper(strings.TrimSpace(opts.asset))
		}
		if opts.start != "" {
			cfg.Backtest.Start = opts.start
		}
		if opts.end != "" {
			cfg.Backtest.End = opts.end
		}
		if opts.debug {
			cfg.Environment.LogLevel = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid flags: %w", err)
		}
	}

	logger, logCloser, err := logging.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	app, err := NewApp(cfg, logger)
	if err != nil {
		_ = logCloser.Close()
		return nil, nil, err
	}
	cleanup := func() {
		if err := app.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close bar cache")
		}
		_ = logCloser.Close()
	}
	return app, cleanup, nil
}

func newRunCmd(opts *options) *cobra.Command {
	var tracePath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured opening and closing strategies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := setup(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := app.Run(cmd.Context(), nil)
			if err != nil {
				return err
			}
			if tracePath == "" {
				tracePath = app.Config.Backtest.TracePath
			}
			if tracePath != "" {
				file := storage.TraceFile{Asset: res.Asset, Opening: res.Opening, Traces: res.Traces, Skipped: res.SkippedDays}
				if err := storage.SaveTraces(tracePath, file); err != nil {
					return fmt.Errorf("saving traces: %w", err)
				}
				app.Logger.WithField("path", tracePath).Info("Saved daily traces")
			}
			return printResult(cmd.OutOrStdout(), res, opts.jsonOut)
		},
	}
	cmd.Flags().StringVar(&tracePath, "traces-out", "", "write daily profit traces to this file")
	return cmd
}

func newTracesCmd(opts *options) *cobra.Command {
	var tracePath string
	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Compute daily profit traces for the opening strategy and save them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := setup(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			if tracePath == "" {
				tracePath = app.Config.Backtest.TracePath
			}
			if tracePath == "" {
				return errors.New("no trace file: set backtest.trace_path or --out")
			}
			file, err := app.Traces(cmd.Context())
			if err != nil {
				return err
			}
			if err := storage.SaveTraces(tracePath, file); err != nil {
				return fmt.Errorf("saving traces: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d days (%d skipped) to %s\n",
				len(file.Traces), file.Skipped, tracePath)
			return nil
		},
	}
	cmd.Flags().StringVar(&tracePath, "out", "", "trace file (default backtest.trace_path)")
	return cmd
}

func newSweepCmd(opts *options) *cobra.Command {
	var (
		tracePath string
		top       int
		workers   int
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Evaluate the configured grid of closing strategies over saved traces",
		Long: "Evaluate the configured grid of closing strategies over saved traces.\n\nClosing kinds: " +
			closingKindNames() + ".",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := setup(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			if app.Config.Sweep == nil {
				return errors.New("no sweep grid configured")
			}
			if tracePath == "" {
				tracePath = app.Config.Backtest.TracePath
			}

			var traces []backtest.DayTrace
			if tracePath != "" {
				file, err := storage.LoadTraces(tracePath)
				switch {
				case err == nil:
					traces = file.Traces
				case errors.Is(err, os.ErrNotExist):
					app.Logger.WithField("path", tracePath).Info("No saved traces, computing them")
				default:
					return err
				}
			}
			if traces == nil {
				file, err := app.Traces(cmd.Context())
				if err != nil {
					return err
				}
				traces = file.Traces
				if tracePath != "" {
					if err := storage.SaveTraces(tracePath, file); err != nil {
						return fmt.Errorf("saving traces: %w", err)
					}
				}
			}

			if workers < 1 {
				workers = app.Config.Server.SweepWorkers
			}
			outcomes, err := sweep.Run(cmd.Context(), traces, *app.Config.Sweep, app.Config.Backtest.StartingMoney, workers)
			if err != nil {
				return err
			}
			if top > 0 && len(outcomes) > top {
				outcomes = outcomes[:top]
			}
			return printOutcomes(cmd.OutOrStdout(), outcomes, opts.jsonOut)
		},
	}
	cmd.Flags().StringVar(&tracePath, "traces", "", "trace file (default backtest.trace_path)")
	cmd.Flags().IntVar(&top, "top", 10, "show only the best N configurations (0 = all)")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel evaluations (default server.sweep_workers)")
	return cmd
}

func newServeCmd(opts *options) *cobra.Command {
	var tracePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve results over HTTP and stream runs over a websocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := setup(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			cfg := app.Config
			srv := dashboard.NewServer(dashboard.Config{
				Port:          cfg.Server.Port,
				AuthToken:     cfg.Server.AuthToken,
				StartingMoney: cfg.Backtest.StartingMoney,
				SweepWorkers:  cfg.Server.SweepWorkers,
			}, app.Run, app.Logger)

			if tracePath == "" {
				tracePath = cfg.Backtest.TracePath
			}
			if tracePath != "" {
				if res, err := resultFromTraces(app, tracePath); err == nil {
					srv.SetResult(res)
					app.Logger.WithField("path", tracePath).Info("Loaded saved traces")
				} else if !errors.Is(err, os.ErrNotExist) {
					app.Logger.WithError(err).Warn("Failed to load saved traces")
				}
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-cmd.Context().Done():
				app.Logger.Info("Shutdown signal received, stopping server...")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}
	cmd.Flags().StringVar(&tracePath, "traces", "", "preload this trace file (default backtest.trace_path)")
	return cmd
}

// resultFromTraces rebuilds a result from saved traces with the configured closing strategy.
func resultFromTraces(app *App, path string) (*backtest.Result, error) {
	file, err := storage.LoadTraces(path)
	if err != nil {
		return nil, err
	}
	closing, err := app.Config.Closing.Build()
	if err != nil {
		return nil, err
	}
	money := app.Config.Backtest.StartingMoney
	days := backtest.ApplyClosing(closing, file.Traces, money)
	res := &backtest.Result{
		Asset:       file.Asset,
		Opening:     file.Opening,
		Closing:     closing.String(),
		Days:        days,
		Traces:      file.Traces,
		Stats:       backtest.ComputeStatistics(days, money),
		FinalProfit: backtest.FinalProfit(days, money),
		SkippedDays: file.Skipped,
	}
	if len(days) > 0 {
		res.Start, res.End = days[0].Day, days[len(days)-1].Day
	}
	return res, nil
}

func printResult(w io.Writer, res *backtest.Result, asJSON bool) error {
	if asJSON {
		summary := *res
		summary.Traces = nil
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DAY\tOPENED\tREALIZED\tCUMULATIVE")
	for _, d := range res.Days {
		opened := "skipped"
		if d.OpenedAt != nil {
			opened = d.OpenedAt.Format("15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.2f\n", d.Day.Format("2006-01-02"), opened, d.Realized, d.Cumulative)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := res.Stats
	fmt.Fprintf(w, "\n%s %s -> %s\n", res.Asset, res.Start.Format("2006-01-02"), res.End.Format("2006-01-02"))
	fmt.Fprintf(w, "opening: %s\nclosing: %s\n", res.Opening, res.Closing)
	fmt.Fprintf(w, "days: %d traded, %d skipped\n", s.TradingDays, res.SkippedDays)
	fmt.Fprintf(w, "win rate: %.1f%% (%d/%d)\n", s.WinRate*100, s.WinningDays, s.WinningDays+s.LosingDays)
	fmt.Fprintf(w, "max drawdown: %.2f\n", s.MaxDrawdown)
	fmt.Fprintf(w, "final profit: %.2f\n", res.FinalProfit)
	return nil
}

func closingKindNames() string {
	kinds := strategy.ClosingKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func printOutcomes(w io.Writer, outcomes []sweep.Outcome, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(outcomes)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tFINAL\tWIN RATE\tMAX DD\tSTRATEGY")
	for i, o := range outcomes {
		fmt.Fprintf(tw, "%d\t%.2f\t%.1f%%\t%.2f\t%s\n", i+1, o.FinalProfit, o.Stats.WinRate*100, o.Stats.MaxDrawdown, o.Label)
	}
	return tw.Flush()
}
