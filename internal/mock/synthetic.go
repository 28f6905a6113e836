// Package mock generates deterministic synthetic market data for demos and tests
// without a data vendor.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/scranton_backtester/internal/marketdata"
	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

const (
	minutesPerYear = 252 * 390
	// cycle of the slow drift applied to each day's opening price
	driftPeriodDays = 60.0
)

// DataProvider simulates an underlying as a seeded random walk and prices its options as
// intrinsic value plus a time value that decays toward expiry.
// The same seed, asset and day always produce the same bars.
type DataProvider struct {
	Session    marketdata.Session
	Seed       uint64
	StartPrice float64 // price level the walk oscillates around
	Volatility float64 // annualized, drives the minute returns
	ImpliedVol float64 // annualized, drives option time value
}

var _ marketdata.Source = (*DataProvider)(nil)

// NewDataProvider returns a provider trading 09:30-16:00 New York time.
func NewDataProvider(seed uint64) *DataProvider {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &DataProvider{
		Session: marketdata.Session{
			Location: loc,
			Open:     9*time.Hour + 30*time.Minute,
			Close:    16 * time.Hour,
		},
		Seed:       seed,
		StartPrice: 450,
		Volatility: 0.15,
		ImpliedVol: 0.18,
	}
}

func isWeekend(day time.Time) bool {
	wd := day.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (p *DataProvider) rng(asset string, day time.Time) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(asset))
	h.Write([]byte(day.Format("2006-01-02")))
	return rand.New(rand.NewPCG(p.Seed, h.Sum64()))
}

func cents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func (p *DataProvider) openingPrice(r *rand.Rand, day time.Time) float64 {
	days := float64(day.Unix()) / 86400
	swing := 0.05 * math.Sin(2*math.Pi*days/driftPeriodDays)
	return p.StartPrice * (1 + swing + r.NormFloat64()*0.004)
}

// underlying returns the asset's minute path for day.
func (p *DataProvider) underlying(asset string, day time.Time) marketdata.Series {
	day = marketdata.TradingDay(day)
	if isWeekend(day) {
		return nil
	}
	r := p.rng(asset, day)
	open, end := p.Session.Bounds(day)
	sigma := p.Volatility / math.Sqrt(minutesPerYear)

	price := p.openingPrice(r, day)
	var out marketdata.Series
	for ts := open; ts.Before(end); ts = ts.Add(time.Minute) {
		next := price * math.Exp(sigma*r.NormFloat64())
		wiggle := price * sigma * math.Abs(r.NormFloat64()) / 2
		out = append(out, marketdata.Bar{
			Timestamp:  ts.UTC(),
			Symbol:     asset,
			Open:       cents(price),
			High:       cents(math.Max(price, next) + wiggle),
			Low:        cents(math.Min(price, next) - wiggle),
			Close:      cents(next),
			Volume:     float64(1000 + r.IntN(50000)),
			TradeCount: int64(10 + r.IntN(500)),
		})
		price = next
	}
	return out
}

// DailyCandles summarizes each weekday's minute path into one bar stamped at UTC midnight.
func (p *DataProvider) DailyCandles(
	ctx context.Context,
	start, end time.Time,
	asset string,
) (marketdata.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out marketdata.Series
	for day := marketdata.TradingDay(start); !day.After(end); day = day.AddDate(0, 0, 1) {
		minutes := p.underlying(asset, day)
		if len(minutes) == 0 {
			continue
		}
		bar := marketdata.Bar{
			Timestamp: day,
			Symbol:    asset,
			Open:      minutes[0].Open,
			High:      minutes[0].High,
			Low:       minutes[0].Low,
			Close:     minutes[len(minutes)-1].Close,
		}
		for _, m := range minutes {
			bar.High = math.Max(bar.High, m.High)
			bar.Low = math.Min(bar.Low, m.Low)
			bar.Volume += m.Volume
			bar.TradeCount += m.TradeCount
		}
		out = append(out, bar)
	}
	if len(out) == 0 {
		return nil, &marketdata.FetchError{Op: "daily candles", Asset: asset, Err: marketdata.ErrNoData}
	}
	return out, nil
}

// MinuteBars returns the asset's session minutes for day.
func (p *DataProvider) MinuteBars(ctx context.Context, day time.Time, asset string) (marketdata.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := p.underlying(asset, day)
	if len(out) == 0 {
		return nil, &marketdata.FetchError{Op: "asset minute bars", Day: day, Asset: asset, Err: marketdata.ErrNoData}
	}
	return out, nil
}

// OptionMinuteBars prices each contract off its underlying's path. Contracts already
// expired on day are omitted.
func (p *DataProvider) OptionMinuteBars(
	ctx context.Context,
	day time.Time,
	options []models.Option,
) (marketdata.OptionSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	day = marketdata.TradingDay(day)
	paths := make(map[string]marketdata.Series)
	out := make(marketdata.OptionSeries)
	for _, opt := range options {
		if opt.Expiry.Before(day) {
			continue
		}
		path, ok := paths[opt.Underlying]
		if !ok {
			path = p.underlying(opt.Underlying, day)
			paths[opt.Underlying] = path
		}
		if len(path) == 0 {
			continue
		}
		_, expiryClose := p.Session.Bounds(opt.Expiry)
		series := make(marketdata.Series, len(path))
		for i, u := range path {
			years := expiryClose.Sub(u.Timestamp).Minutes() / (60 * 24 * 365)
			price := func(spot float64) float64 { return p.optionPrice(opt, spot, years) }
			o, c := price(u.Open), price(u.Close)
			hi, lo := price(u.High), price(u.Low)
			if opt.Type == models.OptionTypePut {
				hi, lo = lo, hi
			}
			series[i] = marketdata.Bar{
				Timestamp: u.Timestamp,
				Symbol:    opt.Symbol(),
				Open:      o,
				High:      math.Max(hi, math.Max(o, c)),
				Low:       math.Min(lo, math.Min(o, c)),
				Close:     c,
				Volume:    math.Floor(u.Volume / 100),
			}
		}
		out[opt.Symbol()] = series
	}
	return out, nil
}

// optionPrice approximates an option value: intrinsic plus an at-the-money time value
// of 0.4*S*iv*sqrt(t), fading with distance from the money.
func (p *DataProvider) optionPrice(opt models.Option, spot, years float64) float64 {
	intrinsic := spot - opt.Strike
	if opt.Type == models.OptionTypePut {
		intrinsic = opt.Strike - spot
	}
	intrinsic = math.Max(intrinsic, 0)

	stdev := spot * p.ImpliedVol * math.Sqrt(math.Max(years, 0))
	timeValue := 0.0
	if stdev > 0 {
		d := (spot - opt.Strike) / stdev
		timeValue = 0.4 * stdev * math.Exp(-d*d/2)
	}
	return math.Max(cents(intrinsic+timeValue), marketdata.DefaultFloorPrice)
}
