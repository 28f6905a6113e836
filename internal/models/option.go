// Package models provides the option instrument, leg and position types used by the
// backtester, together with the per-day simulation state machine.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OptionType represents the kind of an option contract
type OptionType string

const (
	// OptionTypePut represents a put option contract
	OptionTypePut OptionType = "P"
	// OptionTypeCall represents a call option contract
	OptionTypeCall OptionType = "C"
)

// Valid returns true if the OptionType is one of the defined constants
func (t OptionType) Valid() bool {
	switch t {
	case OptionTypePut, OptionTypeCall:
		return true
	default:
		return false
	}
}

// vendorPrefix is prepended to OCC symbols by some data vendors (e.g. "O:SPY240401C00500000").
const vendorPrefix = "O:"

// Option describes a single listed option contract.
//
// Option is a comparable value type: two options built with NewOption from the same
// attributes compare equal with == and can be used as map keys. The symbol is derived
// from the attributes on demand and never stored.
type Option struct {
	Expiry     time.Time  `json:"expiry"`
	Underlying string     `json:"underlying"`
	Type       OptionType `json:"type"`
	Strike     float64    `json:"strike"`
}

// NewOption creates an option with its expiry normalized to a UTC calendar date.
func NewOption(optType OptionType, underlying string, expiry time.Time, strike float64) Option {
	return Option{
		Type:       optType,
		Underlying: strings.ToUpper(strings.TrimSpace(underlying)),
		Expiry:     time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, time.UTC),
		Strike:     strike,
	}
}

// Symbol returns the OCC-style identifier: underlying + YYMMDD + P/C + 8-digit strike*1000,
// e.g. "SPY240401C00500000".
func (o Option) Symbol() string {
	// decimal avoids 123.456*1000 landing on 123455.999...
	strike := decimal.NewFromFloat(o.Strike).Mul(decimal.NewFromInt(1000)).IntPart()
	return fmt.Sprintf("%s%s%s%08d", o.Underlying, o.Expiry.Format("060102"), o.Type, strike)
}

func (o Option) String() string {
	return o.Symbol()
}

// ParseOptionSymbol parses an OCC-style symbol back into an Option.
// A leading vendor prefix ("O:") is ignored.
func ParseOptionSymbol(s string) (Option, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), vendorPrefix)
	// OSI format: UNDERLYING + YYMMDD + P/C + 8-digit strike
	if len(trimmed) < 16 {
		return Option{}, fmt.Errorf("option symbol %q too short", s)
	}

	tail := trimmed[len(trimmed)-15:]
	underlying := trimmed[:len(trimmed)-15]
	if !isDigits(tail[:6]) || !isDigits(tail[7:]) {
		return Option{}, fmt.Errorf("option symbol %q: expected YYMMDD and 8-digit strike", s)
	}
	// Underlying must not end in a digit or the date boundary is ambiguous
	last := underlying[len(underlying)-1]
	if last >= '0' && last <= '9' {
		return Option{}, fmt.Errorf("option symbol %q: ambiguous underlying %q", s, underlying)
	}

	expiry, err := time.Parse("060102", tail[:6])
	if err != nil {
		return Option{}, fmt.Errorf("option symbol %q: parsing expiry: %w", s, err)
	}

	var optType OptionType
	switch tail[6] {
	case 'P', 'p':
		optType = OptionTypePut
	case 'C', 'c':
		optType = OptionTypeCall
	default:
		return Option{}, fmt.Errorf("option symbol %q: unknown option type %q", s, tail[6])
	}

	strikeMillis, err := strconv.ParseInt(tail[7:], 10, 64)
	if err != nil {
		return Option{}, fmt.Errorf("option symbol %q: parsing strike: %w", s, err)
	}
	strike, _ := decimal.New(strikeMillis, -3).Float64()

	return NewOption(optType, underlying, expiry, strike), nil
}

// isDigits checks if a non-empty string consists only of ASCII digits
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
