package marketdata

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

// MemorySource serves bars held in memory. It is safe for concurrent use.
type MemorySource struct {
	daily   map[string]Series
	minutes map[string]map[string]Series // day -> symbol -> bars
	failOn  map[string]error
	mu      sync.RWMutex
	calls   atomic.Int64
}

// NewMemorySource returns an empty MemorySource
func NewMemorySource() *MemorySource {
	return &MemorySource{
		daily:   make(map[string]Series),
		minutes: make(map[string]map[string]Series),
		failOn:  make(map[string]error),
	}
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// AddDaily stores daily candles of asset.
func (m *MemorySource) AddDaily(asset string, bars ...Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bars {
		b.Symbol = asset
		m.daily[asset] = append(m.daily[asset], b)
	}
	m.daily[asset] = m.daily[asset].Sorted()
}

// AddMinutes stores minute bars; each bar is filed under its own symbol and UTC date.
func (m *MemorySource) AddMinutes(bars ...Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bars {
		key := dayKey(b.Timestamp.UTC())
		if m.minutes[key] == nil {
			m.minutes[key] = make(map[string]Series)
		}
		m.minutes[key][b.Symbol] = append(m.minutes[key][b.Symbol], b)
	}
	for _, bySymbol := range m.minutes {
		for sym, series := range bySymbol {
			if !series.IsAscending() {
				bySymbol[sym] = series.Sorted()
			}
		}
	}
}

// FailOn makes every call touching day return err.
func (m *MemorySource) FailOn(day time.Time, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[dayKey(day)] = err
}

// Calls returns the number of calls served so far
func (m *MemorySource) Calls() int64 {
	return m.calls.Load()
}

// DailyCandles returns the stored daily candles of asset within [start, end].
func (m *MemorySource) DailyCandles(ctx context.Context, start, end time.Time, asset string) (Series, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.daily[asset].Between(TradingDay(start), TradingDay(end).AddDate(0, 0, 1))
	if len(out) == 0 {
		return nil, &FetchError{Op: "daily candles", Asset: asset, Err: ErrNoData}
	}
	res := make(Series, len(out))
	copy(res, out)
	return res, nil
}

// MinuteBars returns the stored minute bars of asset on day.
func (m *MemorySource) MinuteBars(ctx context.Context, day time.Time, asset string) (Series, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failOn[dayKey(day)]; err != nil {
		return nil, &FetchError{Op: "asset minute bars", Day: day, Asset: asset, Err: err}
	}
	series := m.minutes[dayKey(day)][asset]
	if len(series) == 0 {
		return nil, &FetchError{Op: "asset minute bars", Day: day, Asset: asset, Err: ErrNoData}
	}
	out := make(Series, len(series))
	copy(out, series)
	return out, nil
}

// OptionMinuteBars returns the stored bars of every requested contract on day.
// Contracts without bars are omitted from the result.
func (m *MemorySource) OptionMinuteBars(
	ctx context.Context,
	day time.Time,
	options []models.Option,
) (OptionSeries, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	symbols := Symbols(options)
	if err := m.failOn[dayKey(day)]; err != nil {
		return nil, &FetchError{Op: "option minute bars", Day: day, Symbols: symbols, Err: err}
	}
	out := make(OptionSeries, len(symbols))
	for _, sym := range symbols {
		series := m.minutes[dayKey(day)][sym]
		if len(series) == 0 {
			continue
		}
		cp := make(Series, len(series))
		copy(cp, series)
		out[sym] = cp
	}
	return out, nil
}
