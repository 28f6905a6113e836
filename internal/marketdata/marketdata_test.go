package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

var (
	day     = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	minute0 = time.Date(2024, 4, 1, 14, 30, 0, 0, time.UTC)
)

func at(i int) time.Time {
	return minute0.Add(time.Duration(i) * time.Minute)
}

func bar(sym string, i int, price float64) Bar {
	return Bar{Symbol: sym, Timestamp: at(i), Open: price, High: price, Low: price, Close: price, Volume: 10}
}

func TestSeriesLookup(t *testing.T) {
	s := Series{bar("SPY", 0, 1), bar("SPY", 1, 2), bar("SPY", 3, 4)}

	i, ok := s.Index(at(3))
	require.True(t, ok)
	assert.Equal(t, 2, i)

	_, ok = s.Index(at(2))
	assert.False(t, ok)

	assert.Len(t, s.From(at(1)), 2)
	assert.Len(t, s.From(at(2)), 1)
	assert.Len(t, s.Between(at(0), at(3)), 2)
	assert.Empty(t, s.Between(at(3), at(1)))
}

func TestSeriesSorted(t *testing.T) {
	s := Series{bar("SPY", 2, 3), bar("SPY", 0, 1), bar("SPY", 1, 2)}
	assert.False(t, s.IsAscending())

	sorted := s.Sorted()
	assert.True(t, sorted.IsAscending())
	assert.Equal(t, []time.Time{at(0), at(1), at(2)}, sorted.Timestamps())
	// original untouched
	assert.Equal(t, at(2), s[0].Timestamp)
}

func TestOptionSeriesUnion(t *testing.T) {
	o := OptionSeries{}
	o.Add(bar("A", 1, 1), bar("A", 3, 1), bar("B", 0, 2), bar("B", 3, 2))

	assert.Equal(t, []string{"A", "B"}, o.Symbols())
	assert.Equal(t, []time.Time{at(0), at(1), at(3)}, o.Timestamps())

	first, ok := o.EarliestTimestamp()
	require.True(t, ok)
	assert.Equal(t, at(0), first)

	b, ok := o.Bar("A", at(3))
	require.True(t, ok)
	assert.Equal(t, 1.0, b.Close)
	_, ok = o.Bar("C", at(3))
	assert.False(t, ok)

	_, ok = OptionSeries{}.EarliestTimestamp()
	assert.False(t, ok)
}

func TestAsOfAndWindow(t *testing.T) {
	o := OptionSeries{}
	o.Add(bar("A", 0, 1), bar("A", 3, 4), bar("B", 1, 2))

	b, ok := o.AsOf("A", at(2))
	require.True(t, ok)
	assert.Equal(t, at(0), b.Timestamp)
	assert.Equal(t, 1.0, b.Price(FieldClose))

	b, ok = o.AsOf("A", at(3))
	require.True(t, ok)
	assert.Equal(t, 4.0, b.Price(FieldOpen))

	_, ok = o.AsOf("B", at(0))
	assert.False(t, ok)
	_, ok = o.AsOf("C", at(5))
	assert.False(t, ok)

	w := o.From(at(2))
	assert.Equal(t, []time.Time{at(3)}, w.Timestamps())
	assert.Empty(t, w["B"])
	// the source is not trimmed
	assert.Len(t, o["A"], 2)
}

func TestGapFill(t *testing.T) {
	data := OptionSeries{}
	data.Add(
		bar("A", 0, 1.5), bar("A", 2, 1.7),
		bar("B", 1, 0.4),
	)
	filled := DefaultGapFill.Apply(data, []string{"A", "B", "C"})

	require.Len(t, filled, 3)
	for _, sym := range []string{"A", "B", "C"} {
		assert.Equal(t, []time.Time{at(0), at(1), at(2)}, filled[sym].Timestamps(), sym)
	}

	// forward fill from last close with zeroed activity
	assert.Equal(t, 1.5, filled["A"][1].Close)
	assert.Equal(t, 1.5, filled["A"][1].Open)
	assert.Zero(t, filled["A"][1].Volume)
	assert.Equal(t, 1.7, filled["A"][2].Close)

	// leading gap takes the floor
	assert.Equal(t, DefaultFloorPrice, filled["B"][0].Close)
	assert.Equal(t, 0.4, filled["B"][2].Close)

	// no data at all
	for _, b := range filled["C"] {
		assert.Equal(t, DefaultFloorPrice, b.Open)
		assert.Equal(t, "C", b.Symbol)
	}
}

func TestGapFill_CustomFloorAndEmptyInput(t *testing.T) {
	data := OptionSeries{}
	data.Add(bar("A", 0, 2))
	filled := GapFill{Floor: 0.05}.Apply(data, []string{"B"})
	assert.Equal(t, 0.05, filled["B"][0].Close)

	empty := DefaultGapFill.Apply(OptionSeries{}, []string{"A"})
	assert.Empty(t, empty["A"])
}

func TestSession(t *testing.T) {
	s, err := ParseSession("America/New_York", "09:30", "16:00")
	require.NoError(t, err)

	// April is daylight time: 09:30 EDT is 13:30 UTC
	open, close := s.Bounds(day)
	assert.Equal(t, time.Date(2024, 4, 1, 13, 30, 0, 0, time.UTC), open.UTC())
	assert.Equal(t, time.Date(2024, 4, 1, 20, 0, 0, 0, time.UTC), close.UTC())

	series := Series{
		{Timestamp: open.Add(-time.Minute)},
		{Timestamp: open},
		{Timestamp: close.Add(-time.Minute)},
		{Timestamp: close},
	}
	assert.Len(t, s.Filter(series, day), 2)

	_, err = ParseSession("Nowhere/City", "09:30", "16:00")
	assert.Error(t, err)
	_, err = ParseSession("UTC", "16:00", "09:30")
	assert.Error(t, err)
	_, err = ParseSession("UTC", "9h", "16:00")
	assert.Error(t, err)
}

func TestMemorySource(t *testing.T) {
	ctx := context.Background()
	src := NewMemorySource()
	opt := models.NewOption(models.OptionTypeCall, "SPY", day, 500)

	src.AddDaily("SPY", Bar{Timestamp: day, Open: 500, Close: 501})
	src.AddMinutes(bar("SPY", 1, 501), bar("SPY", 0, 500), bar(opt.Symbol(), 0, 1.2))

	daily, err := src.DailyCandles(ctx, day, day, "SPY")
	require.NoError(t, err)
	assert.Len(t, daily, 1)

	minutes, err := src.MinuteBars(ctx, day, "SPY")
	require.NoError(t, err)
	assert.True(t, minutes.IsAscending())
	assert.Len(t, minutes, 2)

	other := models.NewOption(models.OptionTypePut, "SPY", day, 490)
	opts, err := src.OptionMinuteBars(ctx, day, []models.Option{opt, other})
	require.NoError(t, err)
	assert.Len(t, opts[opt.Symbol()], 1)
	_, ok := opts[other.Symbol()]
	assert.False(t, ok)

	_, err = src.MinuteBars(ctx, day.AddDate(0, 0, 1), "SPY")
	assert.ErrorIs(t, err, ErrNoData)

	boom := errors.New("boom")
	src.FailOn(day, boom)
	_, err = src.OptionMinuteBars(ctx, day, []models.Option{opt})
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{opt.Symbol()}, fe.Symbols)
	assert.Contains(t, fe.Error(), "day=2024-04-01")

	assert.Equal(t, int64(5), src.Calls())
}

func TestFillingAndSessionSources(t *testing.T) {
	ctx := context.Background()
	mem := NewMemorySource()
	a := models.NewOption(models.OptionTypeCall, "SPY", day, 500)
	b := models.NewOption(models.OptionTypePut, "SPY", day, 500)
	mem.AddMinutes(bar(a.Symbol(), 0, 1), bar(a.Symbol(), 1, 2), bar(b.Symbol(), 1, 3))
	mem.AddMinutes(bar("SPY", -120, 499), bar("SPY", 0, 500))

	filled := NewFillingSource(mem, DefaultGapFill)
	opts, err := filled.OptionMinuteBars(ctx, day, []models.Option{a, b})
	require.NoError(t, err)
	assert.Len(t, opts[b.Symbol()], 2)
	assert.Equal(t, DefaultFloorPrice, opts[b.Symbol()][0].Close)

	session, err := ParseSession("UTC", "14:30", "21:00")
	require.NoError(t, err)
	ss := &SessionSource{Source: mem, Session: session}
	bars, err := ss.MinuteBars(ctx, day, "SPY")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, minute0, bars[0].Timestamp)
}

func TestCircuitBreakerSource(t *testing.T) {
	ctx := context.Background()
	mem := NewMemorySource()
	mem.FailOn(day, errors.New("upstream down"))

	cb := NewCircuitBreakerSource(mem, CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  2,
		FailureRatio: 0.5,
	}, nil)

	for i := 0; i < 2; i++ {
		_, err := cb.MinuteBars(ctx, day, "SPY")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.MinuteBars(ctx, day, "SPY")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestCircuitBreakerSource_NoDataIsNotAFailure(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreakerSource(NewMemorySource(), DefaultCircuitBreakerSettings, nil)
	for i := 0; i < 10; i++ {
		_, err := cb.MinuteBars(ctx, day, "SPY")
		assert.ErrorIs(t, err, ErrNoData)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestDistinctOptions(t *testing.T) {
	c := models.NewOption(models.OptionTypeCall, "SPY", day, 500)
	p := models.NewOption(models.OptionTypePut, "SPY", day, 500)
	legs := []models.Leg{
		models.NewLeg(models.Sell, 1, c),
		models.NewLeg(models.Sell, 1, p),
		models.NewLeg(models.Buy, 1, c),
	}
	assert.Equal(t, []models.Option{c, p}, DistinctOptions(legs))
}
