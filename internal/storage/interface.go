package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/marketdata"
)

// Kind separates cached daily candles from minute bars
type Kind string

const (
	KindDaily  Kind = "daily"
	KindMinute Kind = "minute"
)

// Key identifies one cached series: a daily candle range or one instrument's minute bars
// for one day.
type Key struct {
	Day    time.Time
	End    time.Time // daily ranges only
	Kind   Kind
	Symbol string
}

// MinuteKey is the key of symbol's minute bars on day
func MinuteKey(symbol string, day time.Time) Key {
	return Key{Kind: KindMinute, Symbol: symbol, Day: marketdata.TradingDay(day)}
}

// DailyKey is the key of symbol's daily candles in [start, end]
func DailyKey(symbol string, start, end time.Time) Key {
	return Key{Kind: KindDaily, Symbol: symbol, Day: marketdata.TradingDay(start), End: marketdata.TradingDay(end)}
}

// Validate checks the key is complete
func (k Key) Validate() error {
	if (k.Kind != KindDaily && k.Kind != KindMinute) || strings.TrimSpace(k.Symbol) == "" || k.Day.IsZero() {
		return fmt.Errorf("%w: %+v", ErrInvalidKey, k)
	}
	if k.Kind == KindDaily && k.End.IsZero() {
		return fmt.Errorf("%w: daily key without end", ErrInvalidKey)
	}
	return nil
}

func (k Key) String() string {
	s := fmt.Sprintf("%s/%s/%s", k.Kind, k.Symbol, k.Day.Format("2006-01-02"))
	if k.Kind == KindDaily {
		s += "_" + k.End.Format("2006-01-02")
	}
	return s
}

// Interface defines the contract for cached market data.
//
// Implementations must be safe for concurrent use. A stored empty series is a valid
// entry: it records that the collaborator had nothing for the key.
type Interface interface {
	Get(key Key) (marketdata.Series, bool, error)
	Put(key Key, series marketdata.Series) error
	Close() error
}

// NewStorage opens a cache backend: "json" keeps one file per key under path, "sqlite"
// keeps one database file at path.
func NewStorage(backend, path string) (Interface, error) {
	switch backend {
	case "", "json":
		return NewJSONStorage(path)
	case "sqlite":
		return NewSQLiteStorage(path)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

// Ensure both backends implement Interface
var (
	_ Interface = (*JSONStorage)(nil)
	_ Interface = (*SQLiteStorage)(nil)
)
