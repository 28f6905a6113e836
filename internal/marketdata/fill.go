package marketdata

import (
	"context"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

// DefaultFloorPrice is the price used for minutes where an instrument has no known price.
const DefaultFloorPrice = 0.01

// GapFill aligns option bars onto the union of the day's timestamps.
//
// Missing minutes take the last known close for every price column with zero volume,
// VWAP and trade count. Minutes before an instrument's first bar, and instruments
// with no bars at all, take the floor price. This is a heuristic: it hides illiquidity
// and can overstate profits on deep out-of-the-money legs.
type GapFill struct {
	Floor float64
}

// DefaultGapFill uses DefaultFloorPrice
var DefaultGapFill = GapFill{Floor: DefaultFloorPrice}

func (g GapFill) floor() float64 {
	if g.Floor <= 0 {
		return DefaultFloorPrice
	}
	return g.Floor
}

// Apply returns a new OptionSeries holding one bar per union timestamp for every
// symbol in symbols. Symbols present in data but not requested are dropped.
func (g GapFill) Apply(data OptionSeries, symbols []string) OptionSeries {
	timestamps := data.Timestamps()
	out := make(OptionSeries, len(symbols))
	for _, sym := range symbols {
		out[sym] = g.fillOne(sym, data[sym], timestamps)
	}
	return out
}

func (g GapFill) fillOne(symbol string, series Series, timestamps []time.Time) Series {
	filled := make(Series, 0, len(timestamps))
	floor := g.floor()
	last := -1.0
	j := 0
	for _, ts := range timestamps {
		for j < len(series) && series[j].Timestamp.Before(ts) {
			j++
		}
		if j < len(series) && series[j].Timestamp.Equal(ts) {
			b := series[j]
			b.Symbol = symbol
			filled = append(filled, b)
			last = b.Close
			j++
			continue
		}
		price := last
		if price < 0 {
			price = floor
		}
		filled = append(filled, Bar{
			Timestamp: ts,
			Symbol:    symbol,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
		})
	}
	return filled
}

// FillingSource applies a GapFill to every OptionMinuteBars result of the wrapped source.
type FillingSource struct {
	Source
	Fill GapFill
}

// NewFillingSource wraps src with fill
func NewFillingSource(src Source, fill GapFill) *FillingSource {
	return &FillingSource{Source: src, Fill: fill}
}

// OptionMinuteBars fetches from the wrapped source and fills gaps.
func (f *FillingSource) OptionMinuteBars(
	ctx context.Context,
	day time.Time,
	options []models.Option,
) (OptionSeries, error) {
	data, err := f.Source.OptionMinuteBars(ctx, day, options)
	if err != nil {
		return nil, err
	}
	return f.Fill.Apply(data, Symbols(options)), nil
}
