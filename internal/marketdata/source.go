// Package marketdata defines the market data collaborators consumed by the backtest engine,
// the bar and series types they exchange, and decorators and fakes built on top of them.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

var (
	// ErrNoData is returned when a collaborator has no bars for the request
	ErrNoData = errors.New("no market data")
	// ErrMalformed is returned when fetched data violates the series contract
	ErrMalformed = errors.New("malformed market data")
)

// AssetDataService provides price data for the underlying asset.
type AssetDataService interface {
	// DailyCandles returns one bar per trading day in [start, end], ascending.
	DailyCandles(ctx context.Context, start, end time.Time, asset string) (Series, error)
	// MinuteBars returns the asset's regular-session minute bars for day, ascending.
	MinuteBars(ctx context.Context, day time.Time, asset string) (Series, error)
}

// OptionsDataService provides minute bars for option contracts.
type OptionsDataService interface {
	// OptionMinuteBars returns the day's minute bars for every requested contract, keyed by
	// symbol. Gaps are allowed; see GapFill.
	OptionMinuteBars(ctx context.Context, day time.Time, options []models.Option) (OptionSeries, error)
}

// Source is a collaborator serving both assets and options.
type Source interface {
	AssetDataService
	OptionsDataService
}

// FetchError carries the context of a failed collaborator call.
type FetchError struct {
	Day     time.Time
	Err     error
	Op      string
	Asset   string
	Symbols []string
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", e.Op)
	if !e.Day.IsZero() {
		fmt.Fprintf(&b, " day=%s", e.Day.Format("2006-01-02"))
	}
	if e.Asset != "" {
		fmt.Fprintf(&b, " asset=%s", e.Asset)
	}
	if len(e.Symbols) > 0 {
		fmt.Fprintf(&b, " symbols=%s", strings.Join(e.Symbols, ","))
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Symbols returns the symbols of options in order
func Symbols(options []models.Option) []string {
	out := make([]string, len(options))
	for i, opt := range options {
		out[i] = opt.Symbol()
	}
	return out
}

// DistinctOptions returns the options referenced by legs, first occurrence first.
func DistinctOptions(legs []models.Leg) []models.Option {
	seen := make(map[models.Option]bool, len(legs))
	out := make([]models.Option, 0, len(legs))
	for _, leg := range legs {
		if seen[leg.Option] {
			continue
		}
		seen[leg.Option] = true
		out = append(out, leg.Option)
	}
	return out
}

// TradingDay truncates t to its calendar date in UTC.
func TradingDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
