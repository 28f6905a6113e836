package mock

import (
	"context"
	"testing"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/combo"
	"github.com/eddiefleurent/scranton_backtester/internal/marketdata"
	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

var monday = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

func TestDataProvider_Deterministic(t *testing.T) {
	ctx := context.Background()
	a, err := NewDataProvider(7).MinuteBars(ctx, monday, "SPY")
	if err != nil {
		t.Fatalf("MinuteBars: %v", err)
	}
	b, _ := NewDataProvider(7).MinuteBars(ctx, monday, "SPY")
	c, _ := NewDataProvider(8).MinuteBars(ctx, monday, "SPY")

	if len(a) != 390 {
		t.Fatalf("expected 390 session minutes, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("bar %d differs between runs with the same seed", i)
		}
	}
	if a[10].Close == c[10].Close && a[200].Close == c[200].Close {
		t.Error("different seeds should produce different paths")
	}
	if !a.IsAscending() {
		t.Error("minute bars must be ascending")
	}
	wantOpen := time.Date(2024, 4, 1, 13, 30, 0, 0, time.UTC)
	if !a[0].Timestamp.Equal(wantOpen) {
		t.Errorf("first bar at %v, want %v", a[0].Timestamp, wantOpen)
	}
}

func TestDataProvider_BarsAreConsistent(t *testing.T) {
	bars, _ := NewDataProvider(1).MinuteBars(context.Background(), monday, "SPY")
	for i, b := range bars {
		if b.High < b.Open || b.High < b.Close || b.Low > b.Open || b.Low > b.Close {
			t.Fatalf("bar %d has inconsistent OHLC: %+v", i, b)
		}
		if i > 0 && b.Open != bars[i-1].Close {
			t.Fatalf("bar %d does not open at the previous close", i)
		}
	}
}

func TestDataProvider_WeekendHasNoData(t *testing.T) {
	p := NewDataProvider(1)
	_, err := p.MinuteBars(context.Background(), monday.AddDate(0, 0, -1), "SPY")
	if err == nil {
		t.Fatal("expected an error for a Sunday")
	}
	daily, err := p.DailyCandles(context.Background(), monday.AddDate(0, 0, -2), monday.AddDate(0, 0, 6), "SPY")
	if err != nil {
		t.Fatalf("DailyCandles: %v", err)
	}
	if len(daily) != 5 {
		t.Errorf("expected 5 weekdays, got %d", len(daily))
	}
}

func TestDataProvider_OptionPrices(t *testing.T) {
	p := NewDataProvider(3)
	ctx := context.Background()
	underlying, _ := p.MinuteBars(ctx, monday, "SPY")
	spot := underlying[0].Open

	legs, err := combo.DefaultSpec.Build("SPY", spot, monday)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	expired := models.NewOption(models.OptionTypeCall, "SPY", monday.AddDate(0, 0, -1), 500)
	opts := append(marketdata.DistinctOptions(legs), expired)

	data, err := p.OptionMinuteBars(ctx, monday, opts)
	if err != nil {
		t.Fatalf("OptionMinuteBars: %v", err)
	}
	if _, ok := data[expired.Symbol()]; ok {
		t.Error("expired contract should be omitted")
	}
	for _, opt := range marketdata.DistinctOptions(legs) {
		series := data[opt.Symbol()]
		if len(series) != len(underlying) {
			t.Fatalf("%s: got %d bars, want %d", opt, len(series), len(underlying))
		}
		first, last := series[0], series[len(series)-1]
		if first.Open < marketdata.DefaultFloorPrice {
			t.Errorf("%s: price below floor", opt)
		}
		// time value decays through the day, so out of the money contracts lose value
		// unless the underlying moved toward them
		spotLast := underlying[len(underlying)-1].Close
		otm := (opt.Type == models.OptionTypeCall && opt.Strike > spotLast+5) ||
			(opt.Type == models.OptionTypePut && opt.Strike < spotLast-5)
		if otm && last.Close > first.Open {
			t.Errorf("%s: out of the money contract gained value (%v -> %v)", opt, first.Open, last.Close)
		}
	}
}
