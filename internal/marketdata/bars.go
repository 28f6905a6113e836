package marketdata

import (
	"sort"
	"time"
)

// Bar is one OHLC candle of one instrument.
type Bar struct {
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	VWAP       float64   `json:"vwap"`
	TradeCount int64     `json:"trade_count"`
}

// PriceField selects one price column of a bar
type PriceField string

const (
	FieldOpen  PriceField = "open"
	FieldHigh  PriceField = "high"
	FieldLow   PriceField = "low"
	FieldClose PriceField = "close"
)

// Price returns the requested price column
func (b Bar) Price(field PriceField) float64 {
	switch field {
	case FieldOpen:
		return b.Open
	case FieldHigh:
		return b.High
	case FieldLow:
		return b.Low
	default:
		return b.Close
	}
}

// Series holds the bars of a single instrument in ascending timestamp order.
type Series []Bar

// Sorted returns a copy of s ordered by timestamp (stable for equal timestamps).
func (s Series) Sorted() Series {
	out := make(Series, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// IsAscending reports whether timestamps never decrease.
func (s Series) IsAscending() bool {
	for i := 1; i < len(s); i++ {
		if s[i].Timestamp.Before(s[i-1].Timestamp) {
			return false
		}
	}
	return true
}

// Index returns the position of the bar stamped exactly ts.
func (s Series) Index(ts time.Time) (int, bool) {
	i := sort.Search(len(s), func(i int) bool { return !s[i].Timestamp.Before(ts) })
	if i < len(s) && s[i].Timestamp.Equal(ts) {
		return i, true
	}
	return 0, false
}

// AsOf returns the last bar stamped at or before ts.
func (s Series) AsOf(ts time.Time) (Bar, bool) {
	i := sort.Search(len(s), func(i int) bool { return s[i].Timestamp.After(ts) })
	if i == 0 {
		return Bar{}, false
	}
	return s[i-1], true
}

// From returns the bars stamped at or after ts.
func (s Series) From(ts time.Time) Series {
	i := sort.Search(len(s), func(i int) bool { return !s[i].Timestamp.Before(ts) })
	return s[i:]
}

// Between returns the bars with from <= timestamp < to.
func (s Series) Between(from, to time.Time) Series {
	lo := sort.Search(len(s), func(i int) bool { return !s[i].Timestamp.Before(from) })
	hi := sort.Search(len(s), func(i int) bool { return !s[i].Timestamp.Before(to) })
	if hi < lo {
		hi = lo
	}
	return s[lo:hi]
}

// Timestamps returns the timestamps of s in order
func (s Series) Timestamps() []time.Time {
	out := make([]time.Time, len(s))
	for i, b := range s {
		out[i] = b.Timestamp
	}
	return out
}

// OptionSeries holds minute bars of several instruments keyed by symbol.
type OptionSeries map[string]Series

// Symbols returns the instrument symbols in sorted order
func (o OptionSeries) Symbols() []string {
	out := make([]string, 0, len(o))
	for sym := range o {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Timestamps returns the sorted union of all instruments' timestamps.
func (o OptionSeries) Timestamps() []time.Time {
	seen := make(map[int64]time.Time)
	for _, series := range o {
		for _, b := range series {
			seen[b.Timestamp.UnixNano()] = b.Timestamp
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// EarliestTimestamp returns the first timestamp across all instruments.
func (o OptionSeries) EarliestTimestamp() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, series := range o {
		if len(series) == 0 {
			continue
		}
		if !found || series[0].Timestamp.Before(earliest) {
			earliest = series[0].Timestamp
			found = true
		}
	}
	return earliest, found
}

// Bar returns the bar of symbol stamped exactly ts.
func (o OptionSeries) Bar(symbol string, ts time.Time) (Bar, bool) {
	series, ok := o[symbol]
	if !ok {
		return Bar{}, false
	}
	i, ok := series.Index(ts)
	if !ok {
		return Bar{}, false
	}
	return series[i], true
}

// AsOf returns the last bar of symbol stamped at or before ts.
func (o OptionSeries) AsOf(symbol string, ts time.Time) (Bar, bool) {
	return o[symbol].AsOf(ts)
}

// From returns a view of every instrument restricted to bars at or after ts.
func (o OptionSeries) From(ts time.Time) OptionSeries {
	out := make(OptionSeries, len(o))
	for sym, series := range o {
		out[sym] = series.From(ts)
	}
	return out
}

// Add appends bars to their instruments and keeps each instrument sorted.
func (o OptionSeries) Add(bars ...Bar) {
	touched := make(map[string]bool)
	for _, b := range bars {
		o[b.Symbol] = append(o[b.Symbol], b)
		touched[b.Symbol] = true
	}
	for sym := range touched {
		if !o[sym].IsAscending() {
			o[sym] = o[sym].Sorted()
		}
	}
}
